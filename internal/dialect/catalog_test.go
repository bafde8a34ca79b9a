package dialect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogShape(t *testing.T) {
	c := DefaultCatalog()
	if err := c.Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}

	// Query-string GET form leads the start catalog, generic forms trail.
	if !strings.Contains(c.Start[0].URL, "?") {
		t.Errorf("first start attempt %q should be the query form", c.Start[0].Name)
	}
	if !strings.Contains(c.Start[1].URL, "{tenant}") {
		t.Errorf("second start attempt %q should carry the tenant in the path", c.Start[1].Name)
	}
	last := c.Start[len(c.Start)-1]
	if strings.Contains(last.URL, "{tenant}") || strings.Contains(last.URL, "?") {
		t.Errorf("last start attempt %q should be generic", last.Name)
	}

	if strings.Contains(c.End[0].URL, "{tenant}") {
		t.Errorf("end catalog should start with body-only forms, got %q", c.End[0].URL)
	}
	if !strings.Contains(c.End[len(c.End)-1].URL, "{tenant}") {
		t.Errorf("end catalog should finish with tenant-in-path forms")
	}
}

func TestCatalogFor(t *testing.T) {
	c := DefaultCatalog()
	if len(c.For(Start)) != len(c.Start) || len(c.For(End)) != len(c.End) {
		t.Error("For returned the wrong list")
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialects.yaml")
	data := `
start:
  - name: custom-start
    url: "{base}/v2/dial?to={destination}"
  - name: generic
    url: "{base}/dial"
end:
  - name: custom-end
    url: "{base}/v2/hangup/{call_id}"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(c.Start) != 2 || c.Start[0].Name != "custom-start" || c.Start[1].Name != "generic" {
		t.Errorf("Start = %+v", c.Start)
	}
	if len(c.End) != 1 || c.End[0].URL != "{base}/v2/hangup/{call_id}" {
		t.Errorf("End = %+v", c.End)
	}
}

func TestParseCatalogValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"no end", "start:\n  - {name: a, url: \"{base}/a\"}\n", "no end attempts"},
		{"no name", "start:\n  - {url: \"{base}/a\"}\nend:\n  - {name: b, url: \"{base}/b\"}\n", "has no name"},
		{"duplicate", "start:\n  - {name: a, url: \"{base}/a\"}\n  - {name: a, url: \"{base}/b\"}\nend:\n  - {name: b, url: \"{base}/b\"}\n", "duplicate"},
		{"absolute url", "start:\n  - {name: a, url: \"http://x/a\"}\nend:\n  - {name: b, url: \"{base}/b\"}\n", "must start with {base}"},
		{"bad yaml", "start: [", "parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
