package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/husobiker/qrcard-sub003/internal/events"
	"github.com/husobiker/qrcard-sub003/internal/models"
)

const publishTimeout = 5 * time.Second

// Deps are the collaborators shared by every session.
type Deps struct {
	Gateway     Gateway
	Resolver    Resolver
	Logs        LogWriter
	Events      events.Publisher
	TopicPrefix string
	Now         func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Session is one call. Its state is guarded by mu; network calls are made
// without holding it. writeMu serializes call log writes.
type Session struct {
	id        string
	direction Direction
	info      Info
	deps      *Deps

	mu           sync.Mutex
	state        State
	startedAt    time.Time
	answeredAt   time.Time
	endedAt      time.Time
	params       models.ConnectionParams
	remoteCallID string
	dialect      string
	dialing      bool
	cancelDial   context.CancelFunc
	claimed      bool
	pending      *models.CallLogFormData
	callLog      *models.CallLog

	writeMu sync.Mutex
}

func newSession(id string, direction Direction, info Info, deps *Deps) *Session {
	state := Ringing
	if direction == Outbound {
		state = Dialing
	}
	return &Session{
		id:        id,
		direction: direction,
		info:      info,
		deps:      deps,
		state:     state,
		startedAt: deps.now(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.id,
		Direction:    s.direction,
		State:        s.state,
		Info:         s.info,
		RemoteCallID: s.remoteCallID,
		Dialect:      s.dialect,
		StartedAt:    s.startedAt,
		LogPending:   s.pending != nil,
		CallLog:      s.callLog,
	}
	if !s.answeredAt.IsZero() {
		t := s.answeredAt
		snap.AnsweredAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// Dial resolves credentials and starts the outbound call. Cancelling ctx,
// or a Hangup while dialing, aborts the probing; the log is then written
// as no_answer.
func (s *Session) Dial(ctx context.Context) error {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.direction != Outbound || s.state != Dialing || s.dialing || s.claimed {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.dialing = true
	s.cancelDial = cancel
	s.mu.Unlock()

	log.Printf("[SESSION] %s dialing %s for employee %s", s.id, s.info.PhoneNumber, s.info.EmployeeID)

	params, err := s.deps.Resolver.Resolve(dialCtx, s.info.EmployeeID, s.info.CompanyID)
	var remoteCallID, dialectName string
	if err == nil {
		res, startErr := s.deps.Gateway.StartCall(dialCtx, params, s.info.PhoneNumber)
		if startErr != nil {
			err = startErr
		} else {
			if res.RemoteCallID != nil {
				remoteCallID = *res.RemoteCallID
			}
			dialectName = res.Dialect
		}
	}

	s.mu.Lock()
	s.cancelDial = nil
	s.params = params

	if s.claimed {
		s.mu.Unlock()
		// The PBX may have accepted the call before the hang-up landed.
		if err == nil && remoteCallID != "" {
			s.endRemote(ctx, params, remoteCallID)
		}
		return fmt.Errorf("session %s: hung up while dialing: %w", s.id, context.Canceled)
	}

	if err != nil {
		status := models.CallStatusFailed
		if dialCtx.Err() != nil {
			status = models.CallStatusNoAnswer
		}
		s.claimed = true
		s.state = Failed
		s.endedAt = s.deps.now()
		s.pending = s.formLocked(models.CallTypeOutgoing, status, 0)
		s.mu.Unlock()

		log.Printf("[SESSION] %s dial failed: %v", s.id, err)
		s.publish(ctx, Dialing, Failed, "call could not be completed")

		dialErr := fmt.Errorf("session %s: dial: %w", s.id, err)
		if _, werr := s.writeLog(ctx); werr != nil {
			return errors.Join(dialErr, werr)
		}
		return dialErr
	}

	s.state = Connected
	s.answeredAt = s.deps.now()
	s.remoteCallID = remoteCallID
	s.dialect = dialectName
	s.mu.Unlock()

	log.Printf("[SESSION] %s connected (remote call %q, dialect %s)", s.id, remoteCallID, dialectName)
	s.publish(ctx, Dialing, Connected, "")
	return nil
}

// Answer moves a ringing inbound call to Answered.
func (s *Session) Answer(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Ringing || s.claimed {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.state = Answered
	s.answeredAt = s.deps.now()
	s.mu.Unlock()

	log.Printf("[SESSION] %s answered", s.id)
	s.publish(ctx, Ringing, Answered, "")
	return nil
}

// Reject ends a ringing call as missed.
func (s *Session) Reject(ctx context.Context) (*models.CallLog, error) {
	return s.miss(ctx, Rejected)
}

// Timeout ends a ringing call as missed; the sweeper calls it.
func (s *Session) Timeout(ctx context.Context) (*models.CallLog, error) {
	return s.miss(ctx, TimedOut)
}

func (s *Session) miss(ctx context.Context, to State) (*models.CallLog, error) {
	s.mu.Lock()
	if s.claimed {
		current := s.callLog
		s.mu.Unlock()
		return current, nil
	}
	if s.state != Ringing {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	s.claimed = true
	s.state = to
	s.endedAt = s.deps.now()
	s.pending = s.formLocked(models.CallTypeMissed, models.CallStatusNoAnswer, 0)
	s.mu.Unlock()

	log.Printf("[SESSION] %s %s", s.id, to)
	s.publish(ctx, Ringing, to, "")
	return s.writeLog(ctx)
}

// Hangup ends the call from any live state. A ringing call is treated as
// rejected and a dialing one is aborted.
func (s *Session) Hangup(ctx context.Context) (*models.CallLog, error) {
	s.mu.Lock()
	if s.claimed {
		current := s.callLog
		s.mu.Unlock()
		return current, nil
	}

	switch s.state {
	case Ringing:
		s.mu.Unlock()
		return s.miss(ctx, Rejected)

	case Answered:
		s.claimed = true
		s.endedAt = s.deps.now()
		s.pending = s.formLocked(models.CallTypeIncoming, models.CallStatusCompleted, seconds(s.answeredAt, s.endedAt))
		s.mu.Unlock()
		log.Printf("[SESSION] %s hung up", s.id)
		return s.writeLog(ctx)

	case Connected:
		s.claimed = true
		s.endedAt = s.deps.now()
		s.pending = s.formLocked(models.CallTypeOutgoing, models.CallStatusCompleted, seconds(s.answeredAt, s.endedAt))
		params, remote := s.params, s.remoteCallID
		s.mu.Unlock()

		log.Printf("[SESSION] %s hung up", s.id)
		if remote != "" {
			s.endRemote(ctx, params, remote)
		} else {
			log.Printf("[SESSION] %s no remote call id, skipping end-call", s.id)
		}
		return s.writeLog(ctx)

	case Dialing:
		s.claimed = true
		s.state = Failed
		s.endedAt = s.deps.now()
		s.pending = s.formLocked(models.CallTypeOutgoing, models.CallStatusNoAnswer, 0)
		cancel := s.cancelDial
		s.mu.Unlock()

		log.Printf("[SESSION] %s hung up while dialing", s.id)
		if cancel != nil {
			cancel()
		}
		s.publish(ctx, Dialing, Failed, "")
		return s.writeLog(ctx)
	}

	s.mu.Unlock()
	return nil, ErrInvalidTransition
}

// RetryLogWrite repeats a failed call log write. It is a no-op returning
// the stored log once the write has succeeded.
func (s *Session) RetryLogWrite(ctx context.Context) (*models.CallLog, error) {
	s.mu.Lock()
	ready := s.pending != nil || s.callLog != nil
	s.mu.Unlock()
	if !ready {
		return nil, ErrInvalidTransition
	}
	return s.writeLog(ctx)
}

func (s *Session) writeLog(ctx context.Context) (*models.CallLog, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.callLog != nil {
		current := s.callLog
		s.mu.Unlock()
		return current, nil
	}
	form := *s.pending
	s.mu.Unlock()

	// The call is over; a departing client must not lose its log.
	entry, err := s.deps.Logs.CreateCallLog(context.WithoutCancel(ctx), s.info.CompanyID, form)
	if err != nil {
		log.Printf("[SESSION] %s call log write failed: %v", s.id, err)
		return nil, &LogWriteFailedError{SessionID: s.id, Err: err}
	}

	s.mu.Lock()
	from := s.state
	s.callLog = entry
	s.pending = nil
	s.state = LogWritten
	s.mu.Unlock()

	log.Printf("[SESSION] %s logged as %s/%s (%ds)", s.id, entry.CallType, entry.CallStatus, entry.DurationSeconds)
	s.publish(ctx, from, LogWritten, "")
	return entry, nil
}

func (s *Session) endRemote(ctx context.Context, params models.ConnectionParams, remoteCallID string) {
	if _, err := s.deps.Gateway.EndCall(context.WithoutCancel(ctx), params, remoteCallID); err != nil {
		log.Printf("[SESSION] %s end-call for remote %s failed: %v", s.id, remoteCallID, err)
	}
}

func (s *Session) formLocked(callType, status string, duration int) *models.CallLogFormData {
	end := s.endedAt
	return &models.CallLogFormData{
		SessionID:       s.id,
		EmployeeID:      s.info.EmployeeID,
		CallType:        callType,
		PhoneNumber:     s.info.PhoneNumber,
		CustomerName:    s.info.CustomerName,
		CustomerID:      s.info.CustomerID,
		DurationSeconds: duration,
		CallStatus:      status,
		Notes:           s.info.Notes,
		StartTime:       s.startedAt,
		EndTime:         &end,
	}
}

func (s *Session) publish(ctx context.Context, from, to State, message string) {
	if s.deps.Events == nil {
		return
	}

	s.mu.Lock()
	ev := events.StateChange{
		SessionID:    s.id,
		Direction:    string(s.direction),
		From:         string(from),
		To:           string(to),
		CompanyID:    s.info.CompanyID,
		EmployeeID:   s.info.EmployeeID,
		PhoneNumber:  s.info.PhoneNumber,
		RemoteCallID: s.remoteCallID,
		Dialect:      s.dialect,
		Error:        message,
		At:           s.deps.now(),
	}
	s.mu.Unlock()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := events.PublishStateChange(pctx, s.deps.Events, s.deps.TopicPrefix, ev); err != nil {
		log.Printf("[SESSION] %s publish %s -> %s failed: %v", s.id, from, to, err)
	}
}

// seconds is the whole number of seconds from start to end, truncated.
func seconds(start, end time.Time) int {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Second)
}
