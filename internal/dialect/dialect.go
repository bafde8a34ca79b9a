// Package dialect finds a working call-control request shape for a PBX
// whose REST contract is not known in advance.
//
// A Catalog lists candidate request shapes per intent. The Prober renders
// them one at a time against the caller's connection parameters and stops
// at the first one that answers with a 2xx JSON body.
package dialect

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IntentKind is the call-control operation being probed.
type IntentKind int

const (
	Start IntentKind = iota
	End
)

func (k IntentKind) String() string {
	switch k {
	case Start:
		return "start"
	case End:
		return "end"
	default:
		return fmt.Sprintf("intent(%d)", int(k))
	}
}

// Intent pairs an IntentKind with its payload.
type Intent struct {
	Kind         IntentKind
	Destination  string // Start
	RemoteCallID string // End
}

func StartIntent(destination string) Intent {
	return Intent{Kind: Start, Destination: destination}
}

func EndIntent(remoteCallID string) Intent {
	return Intent{Kind: End, RemoteCallID: remoteCallID}
}

// CallResult is the normalized success value of a probe.
type CallResult struct {
	RemoteCallID *string         `json:"call_id"`
	Raw          json.RawMessage `json:"raw"`
	Dialect      string          `json:"dialect"`
}

// ProbeOutcome records what happened to one rendered attempt.
type ProbeOutcome struct {
	Attempt    Attempt `json:"-"`
	Name       string  `json:"attempt"`
	Method     string  `json:"method"`
	URL        string  `json:"url"`
	Succeeded  bool    `json:"succeeded"`
	HTTPStatus int     `json:"status,omitempty"`
	RawBody    string  `json:"body,omitempty"`
	Err        error   `json:"-"`
}

// TransportError is the error text of a failed request, if any.
func (o ProbeOutcome) TransportError() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// MarshalJSON includes the transport error text, which error values lose.
func (o ProbeOutcome) MarshalJSON() ([]byte, error) {
	type plain ProbeOutcome
	return json.Marshal(struct {
		plain
		TransportError string `json:"transport_error,omitempty"`
	}{plain(o), o.TransportError()})
}

func (o ProbeOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", o.Name, o.Method, o.URL, o.Err)
	}
	return fmt.Sprintf("%s %s %s: status %d", o.Name, o.Method, o.URL, o.HTTPStatus)
}

// ErrAllEndpointsFailed matches any *AllEndpointsFailedError.
var ErrAllEndpointsFailed = errors.New("all endpoints failed")

// AllEndpointsFailedError is returned when every catalog entry failed. It
// carries one outcome per entry, in catalog order.
type AllEndpointsFailedError struct {
	Intent   IntentKind
	Outcomes []ProbeOutcome
}

func (e *AllEndpointsFailedError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		parts = append(parts, o.String())
	}
	return fmt.Sprintf("%s call: %s after %d attempts: %s",
		e.Intent, ErrAllEndpointsFailed, len(e.Outcomes), strings.Join(parts, "; "))
}

func (e *AllEndpointsFailedError) Is(target error) bool {
	return target == ErrAllEndpointsFailed
}

// AbortedError is returned when the caller's context ended before any
// attempt succeeded. Outcomes holds the attempts made so far.
type AbortedError struct {
	Intent   IntentKind
	Outcomes []ProbeOutcome
	Err      error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s call aborted after %d attempts: %v", e.Intent, len(e.Outcomes), e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }
