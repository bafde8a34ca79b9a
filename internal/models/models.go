package models

import (
	"time"
)

// ConnectionParams carries what one call attempt needs to reach a PBX.
// It is built fresh for every call and never mutated.
type ConnectionParams struct {
	EndpointURL string `json:"endpoint_url"`
	TenantID    string `json:"santral_id"`
	APIKey      string `json:"api_key"`
	Extension   string `json:"extension,omitempty"`
}

// PBXConnection is the stored row ConnectionParams are resolved from.
// An empty EmployeeID marks the company-wide default.
type PBXConnection struct {
	ID          int64     `json:"id"`
	CompanyID   string    `json:"company_id"`
	EmployeeID  string    `json:"employee_id"`
	EndpointURL string    `json:"endpoint_url"`
	TenantID    string    `json:"santral_id"`
	APIKey      string    `json:"api_key"`
	Extension   string    `json:"extension"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Params returns the per-call view of the connection.
func (c *PBXConnection) Params() ConnectionParams {
	return ConnectionParams{
		EndpointURL: c.EndpointURL,
		TenantID:    c.TenantID,
		APIKey:      c.APIKey,
		Extension:   c.Extension,
	}
}

// Call types
const (
	CallTypeOutgoing = "outgoing"
	CallTypeIncoming = "incoming"
	CallTypeMissed   = "missed"
)

// Call statuses
const (
	CallStatusCompleted = "completed"
	CallStatusNoAnswer  = "no_answer"
	CallStatusFailed    = "failed"
)

// CallLog is the persisted record of how one call session ended.
type CallLog struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	CompanyID       string     `json:"company_id"`
	EmployeeID      string     `json:"employee_id"`
	CallType        string     `json:"call_type"`
	PhoneNumber     string     `json:"phone_number"`
	CustomerName    string     `json:"customer_name,omitempty"`
	CustomerID      string     `json:"customer_id,omitempty"`
	DurationSeconds int        `json:"duration"`
	CallStatus      string     `json:"call_status"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CallLogFormData is the insert payload for a CallLog.
type CallLogFormData struct {
	SessionID       string     `json:"session_id"`
	EmployeeID      string     `json:"employee_id"`
	CallType        string     `json:"call_type"`
	PhoneNumber     string     `json:"phone_number"`
	CustomerName    string     `json:"customer_name,omitempty"`
	CustomerID      string     `json:"customer_id,omitempty"`
	DurationSeconds int        `json:"duration"`
	CallStatus      string     `json:"call_status"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

// CallLogFilter narrows call-log queries. Empty fields match everything.
type CallLogFilter struct {
	CompanyID  string
	EmployeeID string
	Limit      int
}

// CallLogStats aggregates call logs for a company and/or employee
type CallLogStats struct {
	Total           int `json:"total"`
	Outgoing        int `json:"outgoing"`
	Incoming        int `json:"incoming"`
	Missed          int `json:"missed"`
	TotalDuration   int `json:"total_duration"`
	AverageDuration int `json:"average_duration"`
}

// DialectStats tracks how one catalog entry has fared against a tenant
type DialectStats struct {
	TenantID      string     `json:"santral_id"`
	Intent        string     `json:"intent"`
	AttemptName   string     `json:"attempt"`
	TotalAttempts int64      `json:"total_attempts"`
	Successes     int64      `json:"successes"`
	Failures      int64      `json:"failures"`
	SuccessRate   float64    `json:"success_rate"`
	LastStatus    int        `json:"last_status"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}
