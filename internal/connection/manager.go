package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/husobiker/qrcard-sub003/internal/models"
)

// ErrNoConnection is returned when no active PBX connection covers the
// employee or company.
var ErrNoConnection = errors.New("no PBX connection configured")

// Manager stores PBX connections and resolves them into per-call
// parameters. Rows are read on every Resolve; nothing is cached.
type Manager struct {
	db  *sql.DB
	now func() time.Time
}

func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db, now: time.Now}
}

const selectColumns = `
	SELECT id, company_id, employee_id, endpoint_url, tenant_id, api_key,
	       extension, active, created_at, updated_at
	FROM pbx_connections`

// Save inserts c, or updates the existing row for the same company and
// employee.
func (m *Manager) Save(ctx context.Context, c *models.PBXConnection) error {
	// Validate
	if c.CompanyID == "" || c.EndpointURL == "" || c.TenantID == "" || c.APIKey == "" {
		return fmt.Errorf("company id, endpoint url, santral id and api key are required")
	}
	c.EndpointURL = strings.TrimRight(c.EndpointURL, "/")

	now := m.now().UTC()
	c.UpdatedAt = now

	existing, err := m.owner(ctx, c.CompanyID, c.EmployeeID)
	if err != nil {
		return err
	}

	if existing != nil {
		query := `
			UPDATE pbx_connections
			SET endpoint_url = ?, tenant_id = ?, api_key = ?, extension = ?, active = ?, updated_at = ?
			WHERE id = ?`
		if _, err := m.db.ExecContext(ctx, query, c.EndpointURL, c.TenantID, c.APIKey, c.Extension, c.Active, now, existing.ID); err != nil {
			return fmt.Errorf("update connection: %w", err)
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		log.Printf("PBX connection %d updated for company %s", c.ID, c.CompanyID)
		return nil
	}

	c.CreatedAt = now
	query := `
		INSERT INTO pbx_connections (company_id, employee_id, endpoint_url, tenant_id, api_key, extension, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := m.db.ExecContext(ctx, query, c.CompanyID, c.EmployeeID, c.EndpointURL, c.TenantID, c.APIKey, c.Extension, c.Active, now, now)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		c.ID = id
	}

	log.Printf("PBX connection %d added for company %s", c.ID, c.CompanyID)
	return nil
}

func (m *Manager) Get(ctx context.Context, id int64) (*models.PBXConnection, error) {
	c, err := scanConnection(m.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns the connections of companyID, or all when it is empty.
func (m *Manager) List(ctx context.Context, companyID string) ([]*models.PBXConnection, error) {
	query := selectColumns
	var args []interface{}
	if companyID != "" {
		query += " WHERE company_id = ?"
		args = append(args, companyID)
	}
	query += " ORDER BY company_id, employee_id"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.PBXConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			log.Printf("Error loading PBX connection: %v", err)
			continue
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, "DELETE FROM pbx_connections WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %d not found", id)
	}
	return nil
}

// Resolve returns the connection parameters for employeeID at companyID.
// An active employee-specific connection wins over the company default.
func (m *Manager) Resolve(ctx context.Context, employeeID, companyID string) (models.ConnectionParams, error) {
	if companyID == "" {
		return models.ConnectionParams{}, fmt.Errorf("resolve connection: company id is required")
	}

	query := selectColumns + `
		WHERE company_id = ? AND active = ? AND (employee_id = ? OR employee_id = '')
		ORDER BY CASE WHEN employee_id = '' THEN 1 ELSE 0 END
		LIMIT 1`
	c, err := scanConnection(m.db.QueryRowContext(ctx, query, companyID, true, employeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConnectionParams{}, fmt.Errorf("resolve connection for employee %q at company %q: %w", employeeID, companyID, ErrNoConnection)
	}
	if err != nil {
		return models.ConnectionParams{}, fmt.Errorf("resolve connection: %w", err)
	}
	return c.Params(), nil
}

func (m *Manager) owner(ctx context.Context, companyID, employeeID string) (*models.PBXConnection, error) {
	c, err := scanConnection(m.db.QueryRowContext(ctx, selectColumns+" WHERE company_id = ? AND employee_id = ?", companyID, employeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row scanner) (*models.PBXConnection, error) {
	c := &models.PBXConnection{}
	err := row.Scan(&c.ID, &c.CompanyID, &c.EmployeeID, &c.EndpointURL, &c.TenantID, &c.APIKey,
		&c.Extension, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
