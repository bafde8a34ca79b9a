package dialect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/husobiker/qrcard-sub003/internal/models"
)

// DefaultAttemptTimeout bounds a single attempt.
const DefaultAttemptTimeout = 15 * time.Second

const maxBodyBytes = 1 << 20

// Observer is told about every attempt the prober makes.
type Observer interface {
	ObserveAttempt(tenantID string, intent IntentKind, outcome ProbeOutcome)
}

// Prober tries catalog entries strictly in order, one at a time.
type Prober struct {
	client         *http.Client
	attemptTimeout time.Duration
	observer       Observer
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithAttemptTimeout overrides DefaultAttemptTimeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.attemptTimeout = d
		}
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(p *Prober) { p.observer = o }
}

func NewProber(opts ...Option) *Prober {
	p := &Prober{
		client:         &http.Client{},
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe walks attempts in order and returns the first success. When every
// attempt fails it returns *AllEndpointsFailedError with one outcome per
// attempt. When ctx ends first it returns *AbortedError and the remaining
// attempts are skipped.
func (p *Prober) Probe(ctx context.Context, params models.ConnectionParams, intent Intent, attempts []Attempt) (*CallResult, error) {
	outcomes := make([]ProbeOutcome, 0, len(attempts))

	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, &AbortedError{Intent: intent.Kind, Outcomes: outcomes, Err: err}
		}

		result, outcome := p.try(ctx, params, intent, a)
		if p.observer != nil {
			p.observer.ObserveAttempt(params.TenantID, intent.Kind, outcome)
		}

		if outcome.Succeeded {
			log.Printf("[DIALECT] %s call succeeded via %s (%s %s, attempt %d/%d)",
				intent.Kind, a.Name, outcome.Method, outcome.URL, i+1, len(attempts))
			result.Dialect = a.Name
			return result, nil
		}

		outcomes = append(outcomes, outcome)
		log.Printf("[DIALECT] Attempt %d/%d failed: %s", i+1, len(attempts), outcome)

		if err := ctx.Err(); err != nil {
			return nil, &AbortedError{Intent: intent.Kind, Outcomes: outcomes, Err: err}
		}
	}

	return nil, &AllEndpointsFailedError{Intent: intent.Kind, Outcomes: outcomes}
}

// try performs one attempt under its own timeout.
func (p *Prober) try(ctx context.Context, params models.ConnectionParams, intent Intent, a Attempt) (*CallResult, ProbeOutcome) {
	outcome := ProbeOutcome{Attempt: a, Name: a.Name, URL: a.URL}

	req, err := Render(a, params, intent)
	if err != nil {
		outcome.Err = err
		return nil, outcome
	}
	outcome.Method = req.Method
	outcome.URL = req.Redacted

	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		outcome.Err = err
		return nil, outcome
	}
	httpReq.Header = req.Header

	resp, err := p.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = req.Redacted
		}
		outcome.Err = err
		return nil, outcome
	}
	defer resp.Body.Close()

	outcome.HTTPStatus = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	outcome.RawBody = string(raw)
	if err != nil {
		outcome.Err = fmt.Errorf("read body: %w", err)
		return nil, outcome
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, outcome
	}

	result, ok := parseResult(raw)
	if !ok {
		outcome.Err = fmt.Errorf("response is not JSON")
		return nil, outcome
	}

	outcome.Succeeded = true
	return result, outcome
}
