package calllog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/husobiker/qrcard-sub003/internal/models"
)

// Store is the append-only call log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `
	SELECT id, session_id, company_id, employee_id, call_type, phone_number,
	       customer_name, customer_id, duration_seconds, call_status,
	       recording_url, notes, start_time, end_time, created_at
	FROM call_logs`

// CreateCallLog stores form for companyID. A session has at most one log:
// when form.SessionID already has a row, that row is returned unchanged.
func (s *Store) CreateCallLog(ctx context.Context, companyID string, form models.CallLogFormData) (*models.CallLog, error) {
	if companyID == "" {
		return nil, fmt.Errorf("calllog: company id is required")
	}
	if form.SessionID == "" {
		form.SessionID = uuid.NewString()
	}

	existing, err := s.bySession(ctx, form.SessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	entry := &models.CallLog{
		ID:              uuid.NewString(),
		SessionID:       form.SessionID,
		CompanyID:       companyID,
		EmployeeID:      form.EmployeeID,
		CallType:        form.CallType,
		PhoneNumber:     form.PhoneNumber,
		CustomerName:    form.CustomerName,
		CustomerID:      form.CustomerID,
		DurationSeconds: form.DurationSeconds,
		CallStatus:      form.CallStatus,
		RecordingURL:    form.RecordingURL,
		Notes:           form.Notes,
		StartTime:       form.StartTime.UTC(),
		CreatedAt:       s.now().UTC(),
	}
	if form.EndTime != nil {
		end := form.EndTime.UTC()
		entry.EndTime = &end
	}

	query := `
		INSERT INTO call_logs
		(id, session_id, company_id, employee_id, call_type, phone_number,
		 customer_name, customer_id, duration_seconds, call_status,
		 recording_url, notes, start_time, end_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.SessionID, entry.CompanyID, entry.EmployeeID,
		entry.CallType, entry.PhoneNumber, nullString(entry.CustomerName),
		nullString(entry.CustomerID), entry.DurationSeconds, entry.CallStatus,
		nullString(entry.RecordingURL), nullString(entry.Notes),
		entry.StartTime, nullTime(entry.EndTime), entry.CreatedAt)
	if err != nil {
		// a concurrent write for the same session wins the unique key
		if existing, lookupErr := s.bySession(ctx, form.SessionID); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("calllog: insert: %w", err)
	}

	return entry, nil
}

// GetCallLogs lists logs newest first.
func (s *Store) GetCallLogs(ctx context.Context, filter models.CallLogFilter) ([]models.CallLog, error) {
	where, args := filterClause(filter)
	query := selectColumns + where + " ORDER BY start_time DESC, created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: query: %w", err)
	}
	defer rows.Close()

	var logs []models.CallLog
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		logs = append(logs, *entry)
	}
	return logs, rows.Err()
}

// GetCallLogStats aggregates the logs matching filter. AverageDuration is
// TotalDuration / Total rounded to the nearest second, 0 with no calls.
func (s *Store) GetCallLogStats(ctx context.Context, filter models.CallLogFilter) (*models.CallLogStats, error) {
	where, args := filterClause(filter)
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN call_type = 'outgoing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN call_type = 'incoming' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN call_type = 'missed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(duration_seconds), 0)
		FROM call_logs` + where

	var stats models.CallLogStats
	var total, outgoing, incoming, missed, duration int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&total, &outgoing, &incoming, &missed, &duration)
	if err != nil {
		return nil, fmt.Errorf("calllog: stats: %w", err)
	}

	stats.Total = int(total)
	stats.Outgoing = int(outgoing)
	stats.Incoming = int(incoming)
	stats.Missed = int(missed)
	stats.TotalDuration = int(duration)
	if total > 0 {
		stats.AverageDuration = int(math.Round(float64(duration) / float64(total)))
	}
	return &stats, nil
}

func (s *Store) bySession(ctx context.Context, sessionID string) (*models.CallLog, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE session_id = ?", sessionID)
	entry, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calllog: lookup session %s: %w", sessionID, err)
	}
	return entry, nil
}

func filterClause(filter models.CallLogFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.CompanyID != "" {
		conds = append(conds, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.EmployeeID != "" {
		conds = append(conds, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLog(row scanner) (*models.CallLog, error) {
	var entry models.CallLog
	var customerName, customerID, recordingURL, notes sql.NullString
	var endTime sql.NullTime

	err := row.Scan(&entry.ID, &entry.SessionID, &entry.CompanyID, &entry.EmployeeID,
		&entry.CallType, &entry.PhoneNumber, &customerName, &customerID,
		&entry.DurationSeconds, &entry.CallStatus, &recordingURL, &notes,
		&entry.StartTime, &endTime, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.CustomerName = customerName.String
	entry.CustomerID = customerID.String
	entry.RecordingURL = recordingURL.String
	entry.Notes = notes.String
	if endTime.Valid {
		t := endTime.Time
		entry.EndTime = &t
	}
	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
