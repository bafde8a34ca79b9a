package dialect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/husobiker/qrcard-sub003/internal/models"
)

// Request is an Attempt rendered against concrete parameters.
type Request struct {
	Name   string
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// Redacted is URL with the API key masked, for logs and outcomes.
	Redacted string
}

const redactedKey = "REDACTED"

// Render turns a into a concrete request. Placeholders are {base},
// {tenant}, {destination}, {extension}, {call_id} and {api_key}.
//
// The method is GET when the rendered URL carries a query string and POST
// otherwise. Every request carries the API key and tenant under all known
// header conventions, and POST bodies carry every known field alias.
func Render(a Attempt, params models.ConnectionParams, intent Intent) (*Request, error) {
	values := map[string]string{
		"{tenant}":      params.TenantID,
		"{destination}": intent.Destination,
		"{extension}":   params.Extension,
		"{call_id}":     intent.RemoteCallID,
		"{api_key}":     params.APIKey,
	}
	rendered := renderURL(a.URL, params.EndpointURL, values)

	redacted := rendered
	if params.APIKey != "" {
		values["{api_key}"] = redactedKey
		redacted = renderURL(a.URL, params.EndpointURL, values)
	}

	u, err := url.Parse(rendered)
	if err != nil {
		return nil, fmt.Errorf("render %s: invalid URL %q", a.Name, redacted)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("render %s: %q is not an absolute URL", a.Name, redacted)
	}

	req := &Request{
		Name:     a.Name,
		Method:   http.MethodPost,
		URL:      rendered,
		Redacted: redacted,
		Header:   authHeaders(params),
	}
	if u.RawQuery != "" {
		req.Method = http.MethodGet
		return req, nil
	}

	body, err := json.Marshal(aliasBody(params, intent))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", a.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Body = body
	return req, nil
}

// renderURL fills template. Values are path-escaped before the '?' and
// query-escaped after it; query pairs left without a value are dropped.
func renderURL(template, endpoint string, values map[string]string) string {
	base := strings.TrimRight(endpoint, "/")

	path, query, hasQuery := strings.Cut(template, "?")
	rendered := strings.Replace(path, "{base}", base, 1)
	rendered = replaceAll(rendered, values, url.PathEscape)

	if hasQuery {
		var pairs []string
		for _, pair := range strings.Split(query, "&") {
			p := replaceAll(pair, values, url.QueryEscape)
			if p == "" || strings.HasSuffix(p, "=") {
				continue
			}
			pairs = append(pairs, p)
		}
		if len(pairs) > 0 {
			rendered += "?" + strings.Join(pairs, "&")
		}
	}
	return rendered
}

func replaceAll(s string, values map[string]string, escape func(string) string) string {
	for placeholder, v := range values {
		s = strings.ReplaceAll(s, placeholder, escape(v))
	}
	return s
}

// authHeaders sends the credentials under every naming convention
// observed in deployed PBX APIs.
func authHeaders(params models.ConnectionParams) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("X-API-Key", params.APIKey)
	h.Set("X-Santral-ID", params.TenantID)
	h.Set("Authorization", "Bearer "+params.APIKey)
	h.Set("API-Key", params.APIKey)
	h.Set("Santral-ID", params.TenantID)
	return h
}

// aliasBody names each logical value under all of its known field names.
func aliasBody(params models.ConnectionParams, intent Intent) map[string]string {
	body := map[string]string{
		"santral_id": params.TenantID,
	}
	switch intent.Kind {
	case Start:
		for _, k := range []string{"phone_number", "destination", "phone", "number", "to"} {
			body[k] = intent.Destination
		}
		if params.Extension != "" {
			for _, k := range []string{"caller_id", "from", "extension"} {
				body[k] = params.Extension
			}
		}
	case End:
		for _, k := range []string{"call_id", "id", "uuid"} {
			body[k] = intent.RemoteCallID
		}
	}
	return body
}
