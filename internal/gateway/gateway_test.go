package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/models"
)

type fakePBX struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakePBX) handler(routes map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func (f *fakePBX) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestGateway(t *testing.T, routes map[string]string) (*Gateway, *fakePBX, models.ConnectionParams) {
	t.Helper()
	pbx := &fakePBX{}
	srv := httptest.NewServer(pbx.handler(routes))
	t.Cleanup(srv.Close)
	g := New(dialect.NewProber(), nil)
	return g, pbx, models.ConnectionParams{EndpointURL: srv.URL, TenantID: "S42", APIKey: "key"}
}

func TestStartCallMissingParameters(t *testing.T) {
	g := New(dialect.NewProber(), nil)
	full := models.ConnectionParams{EndpointURL: "http://pbx", TenantID: "S", APIKey: "k"}

	tests := []struct {
		name   string
		params models.ConnectionParams
		dest   string
		field  string
	}{
		{"endpoint", models.ConnectionParams{TenantID: "S", APIKey: "k"}, "1", "endpoint_url"},
		{"tenant", models.ConnectionParams{EndpointURL: "http://pbx", APIKey: "k"}, "1", "santral_id"},
		{"api key", models.ConnectionParams{EndpointURL: "http://pbx", TenantID: "S"}, "1", "api_key"},
		{"destination", full, "  ", "phone_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.StartCall(context.Background(), tt.params, tt.dest)
			var mp *MissingParameterError
			if !errors.As(err, &mp) {
				t.Fatalf("err = %v, want MissingParameterError", err)
			}
			if mp.Field != tt.field {
				t.Errorf("Field = %s, want %s", mp.Field, tt.field)
			}
			if !IsMissingParameter(err) {
				t.Error("IsMissingParameter = false")
			}
		})
	}
}

func TestMissingParameterMakesNoRequest(t *testing.T) {
	g, pbx, params := newTestGateway(t, nil)
	if _, err := g.EndCall(context.Background(), params, ""); !IsMissingParameter(err) {
		t.Fatalf("err = %v", err)
	}
	if calls := pbx.Calls(); len(calls) != 0 {
		t.Errorf("PBX was contacted: %v", calls)
	}
}

func TestStartCallUsesTenantPathDialect(t *testing.T) {
	g, pbx, params := newTestGateway(t, map[string]string{
		"/api/santral/S42/calls/start": `{"success":true,"data":{"state":"dialing"},"uuid":"u-1"}`,
	})

	res, err := g.StartCall(context.Background(), params, "905551112233")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if res.RemoteCallID == nil || *res.RemoteCallID != "u-1" {
		t.Errorf("RemoteCallID = %v", res.RemoteCallID)
	}
	if res.Dialect != "santral-calls-start" {
		t.Errorf("Dialect = %s", res.Dialect)
	}

	calls := pbx.Calls()
	want := []string{
		"GET /api/call/start",
		"POST /api/santral/S42/call",
		"POST /api/santral/S42/calls/start",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call[%d] = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestEndCallAllEndpointsFailed(t *testing.T) {
	g, pbx, params := newTestGateway(t, nil)

	res, err := g.EndCall(context.Background(), params, "xyz")
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	var failed *dialect.AllEndpointsFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want AllEndpointsFailedError", err)
	}
	if len(failed.Outcomes) != len(g.Catalog().End) {
		t.Errorf("outcomes = %d, want %d", len(failed.Outcomes), len(g.Catalog().End))
	}
	if len(pbx.Calls()) != len(g.Catalog().End) {
		t.Errorf("calls = %v", pbx.Calls())
	}
	if failed.Intent != dialect.End {
		t.Errorf("Intent = %s", failed.Intent)
	}
}

func TestEndCallBodyDialect(t *testing.T) {
	g, _, params := newTestGateway(t, map[string]string{
		"/api/call/end": `{"status":"hungup"}`,
	})

	res, err := g.EndCall(context.Background(), params, "xyz")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if res.RemoteCallID != nil {
		t.Errorf("RemoteCallID = %s, want nil", *res.RemoteCallID)
	}
	if string(res.Raw) != `{"status":"hungup"}` {
		t.Errorf("Raw = %s", res.Raw)
	}
}
