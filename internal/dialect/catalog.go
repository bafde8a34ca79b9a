package dialect

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Attempt is one candidate request shape. URL is a template; see Render.
type Attempt struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Catalog holds the ordered candidates for each intent. Order matters:
// the first candidate that succeeds wins.
type Catalog struct {
	Start []Attempt `yaml:"start"`
	End   []Attempt `yaml:"end"`
}

// For returns the candidates for kind.
func (c *Catalog) For(kind IntentKind) []Attempt {
	if kind == End {
		return c.End
	}
	return c.Start
}

// DefaultCatalog is the built-in list of dialects seen in the field. The
// most PBX-specific shapes come first, generic ones last.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Start: []Attempt{
			{Name: "query-get", URL: "{base}/api/call/start?santral_id={tenant}&phone_number={destination}&caller_id={extension}&api_key={api_key}"},
			{Name: "santral-call", URL: "{base}/api/santral/{tenant}/call"},
			{Name: "santral-calls-start", URL: "{base}/api/santral/{tenant}/calls/start"},
			{Name: "santral-originate", URL: "{base}/api/v1/santral/{tenant}/originate"},
			{Name: "calls", URL: "{base}/api/calls"},
			{Name: "call-start", URL: "{base}/api/call/start"},
			{Name: "call", URL: "{base}/call"},
		},
		End: []Attempt{
			{Name: "call-end", URL: "{base}/api/call/end"},
			{Name: "calls-hangup", URL: "{base}/api/calls/hangup"},
			{Name: "santral-call-end", URL: "{base}/api/santral/{tenant}/call/{call_id}/end"},
			{Name: "santral-calls-hangup", URL: "{base}/api/santral/{tenant}/calls/{call_id}/hangup"},
		},
	}
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dialect: read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog unmarshals and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dialect: parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that both intents have candidates, names are unique per
// intent and every URL is rooted at {base}.
func (c *Catalog) Validate() error {
	for _, kind := range []IntentKind{Start, End} {
		attempts := c.For(kind)
		if len(attempts) == 0 {
			return fmt.Errorf("dialect: catalog has no %s attempts", kind)
		}
		seen := make(map[string]bool, len(attempts))
		for i, a := range attempts {
			if a.Name == "" {
				return fmt.Errorf("dialect: %s attempt #%d has no name", kind, i+1)
			}
			if seen[a.Name] {
				return fmt.Errorf("dialect: duplicate %s attempt %q", kind, a.Name)
			}
			seen[a.Name] = true
			if !strings.HasPrefix(a.URL, "{base}") {
				return fmt.Errorf("dialect: %s attempt %q must start with {base}", kind, a.Name)
			}
		}
	}
	return nil
}
