package stats

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/models"
)

const (
	persistTimeout = 5 * time.Second
	queueSize      = 1024
)

// Tracker counts probe outcomes per tenant, intent and catalog entry.
// It is plugged into the prober as its Observer. Counters are updated in
// memory on the probing path; rows are written by a background worker.
type Tracker struct {
	db  *sql.DB
	now func() time.Time

	mu    sync.Mutex
	stats map[string]*models.DialectStats

	// sendMu guards queue against Close.
	sendMu sync.RWMutex
	closed bool
	queue  chan observation
	done   chan struct{}
}

// observation is one queued write, or a flush marker when flushed is set.
type observation struct {
	stats     models.DialectStats
	succeeded bool
	flushed   chan struct{}
}

// NewTracker returns a tracker persisting to db. A nil db keeps the
// counters in memory only. Close stops the writer.
func NewTracker(db *sql.DB) *Tracker {
	t := &Tracker{
		db:    db,
		now:   time.Now,
		stats: make(map[string]*models.DialectStats),
		done:  make(chan struct{}),
	}
	if db == nil {
		close(t.done)
		return t
	}
	t.queue = make(chan observation, queueSize)
	go t.writer()
	return t
}

var _ dialect.Observer = (*Tracker)(nil)

func key(tenantID, intent, name string) string {
	return tenantID + "|" + intent + "|" + name
}

func (t *Tracker) ObserveAttempt(tenantID string, intent dialect.IntentKind, outcome dialect.ProbeOutcome) {
	t.mu.Lock()
	k := key(tenantID, intent.String(), outcome.Name)
	s, exists := t.stats[k]
	if !exists {
		s = &models.DialectStats{
			TenantID:    tenantID,
			Intent:      intent.String(),
			AttemptName: outcome.Name,
		}
		t.stats[k] = s
	}

	now := t.now().UTC()
	s.TotalAttempts++
	s.LastAttemptAt = now
	s.LastStatus = outcome.HTTPStatus
	if outcome.Succeeded {
		s.Successes++
		s.LastSuccessAt = &now
	} else {
		s.Failures++
	}
	s.SuccessRate = float64(s.Successes) / float64(s.TotalAttempts) * 100

	snapshot := *s
	t.mu.Unlock()

	if t.db == nil {
		return
	}

	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- observation{stats: snapshot, succeeded: outcome.Succeeded}:
	default:
		log.Printf("[STATS] Write queue full, dropping %s/%s/%s", tenantID, intent, outcome.Name)
	}
}

func (t *Tracker) writer() {
	defer close(t.done)
	for ob := range t.queue {
		if ob.flushed != nil {
			close(ob.flushed)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := persist(ctx, t.db, ob.stats, ob.succeeded)
		cancel()
		if err != nil {
			log.Printf("[STATS] Failed to persist %s/%s/%s: %v",
				ob.stats.TenantID, ob.stats.Intent, ob.stats.AttemptName, err)
		}
	}
}

// Flush waits until every observation queued before the call is written.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.db == nil {
		return nil
	}

	marker := make(chan struct{})
	t.sendMu.RLock()
	if t.closed {
		t.sendMu.RUnlock()
		return nil
	}
	select {
	case t.queue <- observation{flushed: marker}:
		t.sendMu.RUnlock()
	case <-ctx.Done():
		t.sendMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the write queue and stops the writer.
func (t *Tracker) Close() {
	t.sendMu.Lock()
	if !t.closed {
		t.closed = true
		if t.queue != nil {
			close(t.queue)
		}
	}
	t.sendMu.Unlock()
	<-t.done
}

// Snapshot returns the in-memory counters for one entry.
func (t *Tracker) Snapshot(tenantID string, intent dialect.IntentKind, name string) (models.DialectStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[key(tenantID, intent.String(), name)]
	if !ok {
		return models.DialectStats{}, false
	}
	return *s, true
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const updateStats = `
	UPDATE dialect_stats
	SET success_rate = (successes + ?) * 100.0 / (total_attempts + 1),
	    total_attempts = total_attempts + 1,
	    successes = successes + ?,
	    failures = failures + ?,
	    last_status = ?,
	    last_attempt_at = ?,
	    last_success_at = COALESCE(?, last_success_at)
	WHERE tenant_id = ? AND intent = ? AND attempt_name = ?`

const insertStats = `
	INSERT INTO dialect_stats (tenant_id, intent, attempt_name, total_attempts,
	                           successes, failures, success_rate, last_status,
	                           last_attempt_at, last_success_at)
	VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?)`

// persist applies one observation to the stored row. The increment runs
// in SQL so counters from earlier processes are kept. success_rate is
// assigned first: MySQL evaluates SET left to right on updated values.
//
// When the insert loses a race with another writer creating the same row,
// the update is tried once more.
func persist(ctx context.Context, db execer, s models.DialectStats, succeeded bool) error {
	success, failure := 0, 1
	var lastSuccess sql.NullTime
	if succeeded {
		success, failure = 1, 0
		lastSuccess = sql.NullTime{Time: s.LastAttemptAt, Valid: true}
	}

	update := func() (bool, error) {
		result, err := db.ExecContext(ctx, updateStats, success, success, failure,
			s.LastStatus, s.LastAttemptAt, lastSuccess, s.TenantID, s.Intent, s.AttemptName)
		if err != nil {
			return false, fmt.Errorf("update: %w", err)
		}
		n, _ := result.RowsAffected()
		return n > 0, nil
	}

	if ok, err := update(); err != nil || ok {
		return err
	}

	_, insertErr := db.ExecContext(ctx, insertStats, s.TenantID, s.Intent, s.AttemptName,
		success, failure, float64(success*100), s.LastStatus, s.LastAttemptAt, lastSuccess)
	if insertErr == nil {
		return nil
	}

	if ok, err := update(); err == nil && ok {
		return nil
	}
	return fmt.Errorf("insert: %w", insertErr)
}

// List reads persisted rows, for tenantID only when it is non-empty.
func (t *Tracker) List(ctx context.Context, tenantID string) ([]models.DialectStats, error) {
	if t.db == nil {
		return t.memory(tenantID), nil
	}
	if err := t.Flush(ctx); err != nil {
		return nil, fmt.Errorf("list dialect stats: %w", err)
	}

	query := `
		SELECT tenant_id, intent, attempt_name, total_attempts, successes, failures,
		       success_rate, last_status, last_attempt_at, last_success_at
		FROM dialect_stats`
	var args []interface{}
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY tenant_id, intent, successes DESC, attempt_name"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dialect stats: %w", err)
	}
	defer rows.Close()

	var list []models.DialectStats
	for rows.Next() {
		var s models.DialectStats
		var lastAttempt, lastSuccess sql.NullTime
		if err := rows.Scan(&s.TenantID, &s.Intent, &s.AttemptName, &s.TotalAttempts,
			&s.Successes, &s.Failures, &s.SuccessRate, &s.LastStatus, &lastAttempt, &lastSuccess); err != nil {
			return nil, fmt.Errorf("scan dialect stats: %w", err)
		}
		s.LastAttemptAt = lastAttempt.Time
		if lastSuccess.Valid {
			ts := lastSuccess.Time
			s.LastSuccessAt = &ts
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (t *Tracker) memory(tenantID string) []models.DialectStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var list []models.DialectStats
	for _, s := range t.stats {
		if tenantID == "" || s.TenantID == tenantID {
			list = append(list, *s)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.Intent != b.Intent {
			return a.Intent < b.Intent
		}
		if a.Successes != b.Successes {
			return a.Successes > b.Successes
		}
		return a.AttemptName < b.AttemptName
	})
	return list
}
