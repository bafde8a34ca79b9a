package dialect

import (
	"bytes"
	"encoding/json"
	"strings"
)

// callIDKeys are the response fields known to hold the remote call ID,
// in order of preference.
var callIDKeys = []string{"call_id", "id", "uuid"}

// parseResult validates body as JSON and pulls the remote call ID out of
// it. ok is false when body is not JSON.
func parseResult(body []byte) (result *CallResult, ok bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return nil, false
	}

	result = &CallResult{Raw: json.RawMessage(body)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// valid JSON that is not an object carries no call ID
		return result, true
	}
	result.RemoteCallID = extractCallID(fields)
	return result, true
}

func extractCallID(fields map[string]json.RawMessage) *string {
	for _, key := range callIDKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if id, ok := scalarString(raw); ok {
			return &id
		}
	}
	return nil
}

// scalarString accepts JSON strings and numbers. Null, empty strings and
// composite values do not count as an ID.
func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil && n != "" {
		return n.String(), true
	}
	return "", false
}
