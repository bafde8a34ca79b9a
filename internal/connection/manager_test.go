package connection

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/husobiker/qrcard-sub003/internal/db"
	"github.com/husobiker/qrcard-sub003/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "conn.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewManager(conn)
}

func TestSaveValidates(t *testing.T) {
	m := newTestManager(t)
	err := m.Save(context.Background(), &models.PBXConnection{CompanyID: "co-1", EndpointURL: "http://pbx"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSaveUpsertsPerOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	c := &models.PBXConnection{CompanyID: "co-1", EndpointURL: "http://pbx/", TenantID: "S1", APIKey: "k1", Active: true}
	if err := m.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected id after insert")
	}
	if c.EndpointURL != "http://pbx" {
		t.Errorf("EndpointURL = %q, trailing slash not trimmed", c.EndpointURL)
	}

	again := &models.PBXConnection{CompanyID: "co-1", EndpointURL: "http://pbx2", TenantID: "S2", APIKey: "k2", Active: true}
	if err := m.Save(ctx, again); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	if again.ID != c.ID {
		t.Errorf("update created a new row: %d vs %d", again.ID, c.ID)
	}

	all, err := m.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].TenantID != "S2" {
		t.Errorf("List = %+v", all)
	}
}

func TestResolvePrefersEmployeeConnection(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	company := &models.PBXConnection{CompanyID: "co-1", EndpointURL: "http://pbx", TenantID: "S-company", APIKey: "k", Active: true}
	employee := &models.PBXConnection{CompanyID: "co-1", EmployeeID: "emp-1", EndpointURL: "http://pbx", TenantID: "S-emp", APIKey: "k", Extension: "204", Active: true}
	for _, c := range []*models.PBXConnection{company, employee} {
		if err := m.Save(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	p, err := m.Resolve(ctx, "emp-1", "co-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.TenantID != "S-emp" || p.Extension != "204" {
		t.Errorf("employee resolve = %+v", p)
	}

	p, err = m.Resolve(ctx, "emp-2", "co-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.TenantID != "S-company" {
		t.Errorf("fallback resolve = %+v", p)
	}
}

func TestResolveIgnoresInactiveAndMissing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inactive := &models.PBXConnection{CompanyID: "co-1", EndpointURL: "http://pbx", TenantID: "S", APIKey: "k", Active: false}
	if err := m.Save(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	for _, company := range []string{"co-1", "co-unknown"} {
		_, err := m.Resolve(ctx, "emp-1", company)
		if !errors.Is(err, ErrNoConnection) {
			t.Errorf("%s: err = %v, want ErrNoConnection", company, err)
		}
	}
}

func TestGetAndDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	c := &models.PBXConnection{CompanyID: "co-1", EndpointURL: "http://pbx", TenantID: "S", APIKey: "k", Active: true}
	if err := m.Save(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TenantID != "S" || !got.Active {
		t.Errorf("Get = %+v", got)
	}

	if err := m.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, c.ID); err == nil {
		t.Error("second delete should fail")
	}
	if _, err := m.Get(ctx, c.ID); err == nil {
		t.Error("Get after delete should fail")
	}
}
