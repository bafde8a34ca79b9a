// Package session drives one call from ringing or dialing to its single
// call log entry.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/models"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type State string

const (
	Ringing    State = "ringing"
	Dialing    State = "dialing"
	Answered   State = "answered"
	Connected  State = "connected"
	Rejected   State = "rejected"
	TimedOut   State = "timed_out"
	Failed     State = "failed"
	LogWritten State = "log_written"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNotFound          = errors.New("session not found")
	ErrInvalidInfo       = errors.New("invalid session info")
)

// LogWriteFailedError means the terminal log could not be stored. The
// session keeps the pending entry; RetryLogWrite tries again.
type LogWriteFailedError struct {
	SessionID string
	Err       error
}

func (e *LogWriteFailedError) Error() string {
	return fmt.Sprintf("session %s: call log write failed: %v", e.SessionID, e.Err)
}

func (e *LogWriteFailedError) Unwrap() error { return e.Err }

// Info describes who is calling whom.
type Info struct {
	EmployeeID   string `json:"employee_id"`
	CompanyID    string `json:"company_id"`
	PhoneNumber  string `json:"phone_number"`
	CustomerName string `json:"customer_name,omitempty"`
	CustomerID   string `json:"customer_id,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (i Info) validate() error {
	switch {
	case i.CompanyID == "":
		return fmt.Errorf("%w: company_id is required", ErrInvalidInfo)
	case i.EmployeeID == "":
		return fmt.Errorf("%w: employee_id is required", ErrInvalidInfo)
	case i.PhoneNumber == "":
		return fmt.Errorf("%w: phone_number is required", ErrInvalidInfo)
	}
	return nil
}

// Gateway places and ends calls on the remote PBX.
type Gateway interface {
	StartCall(ctx context.Context, params models.ConnectionParams, destination string) (*dialect.CallResult, error)
	EndCall(ctx context.Context, params models.ConnectionParams, remoteCallID string) (*dialect.CallResult, error)
}

// Resolver finds the PBX credentials for an employee.
type Resolver interface {
	Resolve(ctx context.Context, employeeID, companyID string) (models.ConnectionParams, error)
}

// LogWriter stores finished calls.
type LogWriter interface {
	CreateCallLog(ctx context.Context, companyID string, form models.CallLogFormData) (*models.CallLog, error)
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID           string          `json:"id"`
	Direction    Direction       `json:"direction"`
	State        State           `json:"state"`
	Info         Info            `json:"info"`
	RemoteCallID string          `json:"remote_call_id,omitempty"`
	Dialect      string          `json:"dialect,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	AnsweredAt   *time.Time      `json:"answered_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	LogPending   bool            `json:"log_pending"`
	CallLog      *models.CallLog `json:"call_log,omitempty"`
}
