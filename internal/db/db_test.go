package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	conn, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	for _, table := range []string{"pbx_connections", "call_logs", "dialect_stats"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")
	for i := 0; i < 2; i++ {
		conn, err := Open(DriverSQLite, path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		conn.Close()
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("postgres", "whatever")
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported database driver") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestMySQLDSN(t *testing.T) {
	got := MySQLDSN("root", "secret", "db.local", 3306, "pbx_gateway")
	want := "root:secret@tcp(db.local:3306)/pbx_gateway?parseTime=true"
	if got != want {
		t.Errorf("MySQLDSN = %q, want %q", got, want)
	}
}
