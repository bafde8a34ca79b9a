package dialect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/husobiker/qrcard-sub003/internal/models"
)

// recordingPBX answers each path with a canned handler and remembers the
// order in which paths were hit.
type recordingPBX struct {
	mu       sync.Mutex
	hits     []string
	handlers map[string]http.HandlerFunc
}

func newRecordingPBX(t *testing.T, handlers map[string]http.HandlerFunc) (*recordingPBX, *httptest.Server) {
	t.Helper()
	pbx := &recordingPBX{handlers: handlers}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pbx.mu.Lock()
		pbx.hits = append(pbx.hits, r.URL.Path)
		pbx.mu.Unlock()
		if h, ok := pbx.handlers[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return pbx, srv
}

func (p *recordingPBX) Hits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hits...)
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func threeStepCatalog() []Attempt {
	return []Attempt{
		{Name: "first", URL: "{base}/one"},
		{Name: "second", URL: "{base}/two"},
		{Name: "third", URL: "{base}/three"},
		{Name: "fourth", URL: "{base}/four"},
	}
}

func params(base string) models.ConnectionParams {
	return models.ConnectionParams{EndpointURL: base, TenantID: "T1", APIKey: "k3y", Extension: "101"}
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []ProbeOutcome
}

func (r *outcomeRecorder) ObserveAttempt(tenantID string, intent IntentKind, outcome ProbeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestProbeStopsAtFirstSuccessInOrder(t *testing.T) {
	pbx, srv := newRecordingPBX(t, map[string]http.HandlerFunc{
		"/one":   jsonReply(http.StatusInternalServerError, `{"error":"boom"}`),
		"/two":   jsonReply(http.StatusNotFound, `{"error":"nope"}`),
		"/three": jsonReply(http.StatusOK, `{"call_id":"abc","status":"ringing"}`),
		"/four":  jsonReply(http.StatusOK, `{"call_id":"never"}`),
	})
	rec := &outcomeRecorder{}
	p := NewProber(WithObserver(rec))

	res, err := p.Probe(context.Background(), params(srv.URL), StartIntent("905551112233"), threeStepCatalog())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	hits := pbx.Hits()
	want := []string{"/one", "/two", "/three"}
	if len(hits) != len(want) {
		t.Fatalf("hits = %v, want %v", hits, want)
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hit[%d] = %s, want %s", i, hits[i], want[i])
		}
	}

	if res.RemoteCallID == nil || *res.RemoteCallID != "abc" {
		t.Errorf("RemoteCallID = %v, want abc", res.RemoteCallID)
	}
	if res.Dialect != "third" {
		t.Errorf("Dialect = %q, want third", res.Dialect)
	}
	if string(res.Raw) != `{"call_id":"abc","status":"ringing"}` {
		t.Errorf("Raw = %s", res.Raw)
	}
	if len(rec.outcomes) != 3 || !rec.outcomes[2].Succeeded {
		t.Errorf("observer saw %d outcomes, last succeeded=%v", len(rec.outcomes), len(rec.outcomes) > 0 && rec.outcomes[len(rec.outcomes)-1].Succeeded)
	}
}

func TestProbeAllFailedCarriesOneOutcomePerAttempt(t *testing.T) {
	_, srv := newRecordingPBX(t, map[string]http.HandlerFunc{
		"/one":   jsonReply(http.StatusInternalServerError, `{"error":"boom"}`),
		"/two":   jsonReply(http.StatusOK, `not json`),
		"/three": jsonReply(http.StatusUnauthorized, `{"error":"auth"}`),
	})
	p := NewProber()

	_, err := p.Probe(context.Background(), params(srv.URL), StartIntent("1"), threeStepCatalog())
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("err = %v, want ErrAllEndpointsFailed", err)
	}
	var failed *AllEndpointsFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err is %T", err)
	}
	if len(failed.Outcomes) != 4 {
		t.Fatalf("outcomes = %d, want 4", len(failed.Outcomes))
	}

	wantNames := []string{"first", "second", "third", "fourth"}
	wantStatus := []int{500, 200, 401, 404}
	for i, o := range failed.Outcomes {
		if o.Name != wantNames[i] {
			t.Errorf("outcome[%d].Name = %s, want %s", i, o.Name, wantNames[i])
		}
		if o.HTTPStatus != wantStatus[i] {
			t.Errorf("outcome[%d].HTTPStatus = %d, want %d", i, o.HTTPStatus, wantStatus[i])
		}
		if o.Succeeded {
			t.Errorf("outcome[%d] marked succeeded", i)
		}
	}
	if failed.Outcomes[1].TransportError() == "" {
		t.Error("expected non-JSON 200 to record an error")
	}
}

func TestProbeAttemptTimeoutMovesOn(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pbx, srv := newRecordingPBX(t, map[string]http.HandlerFunc{
		"/one": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
		"/two": jsonReply(http.StatusOK, `{"uuid":"u-2"}`),
	})
	p := NewProber(WithAttemptTimeout(50 * time.Millisecond))

	res, err := p.Probe(context.Background(), params(srv.URL), StartIntent("1"), threeStepCatalog())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.RemoteCallID == nil || *res.RemoteCallID != "u-2" {
		t.Errorf("RemoteCallID = %v, want u-2", res.RemoteCallID)
	}
	if hits := pbx.Hits(); len(hits) != 2 {
		t.Errorf("hits = %v, want 2", hits)
	}
}

func TestProbeCancelledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	pbx, srv := newRecordingPBX(t, map[string]http.HandlerFunc{
		"/one": func(w http.ResponseWriter, r *http.Request) {
			cancel()
			<-r.Context().Done()
		},
		"/two": jsonReply(http.StatusOK, `{"id":"x"}`),
	})
	p := NewProber()

	_, err := p.Probe(ctx, params(srv.URL), StartIntent("1"), threeStepCatalog())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllEndpointsFailed) {
		t.Error("cancellation must not be reported as AllEndpointsFailed")
	}
	var aborted *AbortedError
	if !errors.As(err, &aborted) || len(aborted.Outcomes) != 1 {
		t.Errorf("aborted = %+v", aborted)
	}
	if hits := pbx.Hits(); len(hits) != 1 {
		t.Errorf("hits = %v, want only /one", hits)
	}
}

func TestProbeTransportErrorContinues(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	_, srv := newRecordingPBX(t, map[string]http.HandlerFunc{
		"/ok": jsonReply(http.StatusCreated, `{"call_id":42}`),
	})
	attempts := []Attempt{
		{Name: "dead", URL: deadURL + "/dead"},
		{Name: "ok", URL: "{base}/ok"},
	}

	res, err := NewProber().Probe(context.Background(), params(srv.URL), StartIntent("1"), attempts)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.RemoteCallID == nil || *res.RemoteCallID != "42" {
		t.Errorf("RemoteCallID = %v, want 42", res.RemoteCallID)
	}

	_, err = NewProber().Probe(context.Background(), params(srv.URL), StartIntent("1"), attempts[:1])
	var failed *AllEndpointsFailedError
	if !errors.As(err, &failed) || failed.Outcomes[0].Err == nil {
		t.Fatalf("expected transport error outcome, got %v", err)
	}
}

func TestProbeSendsAliasHeadersAndBody(t *testing.T) {
	var gotHeader http.Header
	var gotBody string
	_, srv := newRecordingPBX(t, map[string]http.HandlerFunc{
		"/api/santral/T1/call": func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Clone()
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			jsonReply(http.StatusOK, `{}`)(w, r)
		},
	})
	attempts := []Attempt{{Name: "santral-call", URL: "{base}/api/santral/{tenant}/call"}}

	res, err := NewProber().Probe(context.Background(), params(srv.URL+"/"), StartIntent("905551112233"), attempts)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.RemoteCallID != nil {
		t.Errorf("RemoteCallID = %v, want nil", *res.RemoteCallID)
	}

	wantHeaders := map[string]string{
		"X-Api-Key":     "k3y",
		"X-Santral-Id":  "T1",
		"Authorization": "Bearer k3y",
		"Api-Key":       "k3y",
		"Santral-Id":    "T1",
		"Content-Type":  "application/json",
	}
	for k, v := range wantHeaders {
		if gotHeader.Get(k) != v {
			t.Errorf("header %s = %q, want %q", k, gotHeader.Get(k), v)
		}
	}
	for _, alias := range []string{`"phone_number":"905551112233"`, `"destination":"905551112233"`, `"to":"905551112233"`, `"caller_id":"101"`, `"from":"101"`} {
		if !strings.Contains(gotBody, alias) {
			t.Errorf("body %s missing %s", gotBody, alias)
		}
	}
}

func TestProbeKeepsAPIKeyOutOfLogsAndErrors(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	defer log.SetOutput(os.Stderr)

	var received []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.URL.Query().Get("api_key"))
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	const secret = "SECRETKEY123"
	p := models.ConnectionParams{EndpointURL: srv.URL, TenantID: "T1", APIKey: secret}
	attempts := []Attempt{
		{Name: "query-get", URL: "{base}/api/call/start?santral_id={tenant}&phone_number={destination}&api_key={api_key}"},
		{Name: "dead-query", URL: deadURL + "/start?api_key={api_key}"},
	}

	_, err := NewProber().Probe(context.Background(), p, StartIntent("905551112233"), attempts)
	var failed *AllEndpointsFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v", err)
	}

	if strings.Contains(logged.String(), secret) {
		t.Errorf("api key written to log:\n%s", logged.String())
	}
	if strings.Contains(err.Error(), secret) {
		t.Errorf("api key in error: %v", err)
	}
	for _, o := range failed.Outcomes {
		if strings.Contains(o.URL, secret) || strings.Contains(o.TransportError(), secret) {
			t.Errorf("api key in outcome %+v", o)
		}
		if !strings.Contains(o.URL, "api_key="+redactedKey) {
			t.Errorf("outcome URL = %s, want masked api_key", o.URL)
		}
	}
	if failed.Outcomes[1].Err == nil {
		t.Error("expected a transport error for the dead endpoint")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != secret {
		t.Errorf("PBX received api_key %v, want the real key", received)
	}
}
