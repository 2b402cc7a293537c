package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartflow-crm/inference-gateway/internal/breaker"
	"github.com/smartflow-crm/inference-gateway/internal/cache"
	"github.com/smartflow-crm/inference-gateway/internal/callcontext"
	"github.com/smartflow-crm/inference-gateway/internal/gpu"
	"github.com/smartflow-crm/inference-gateway/internal/orchestrator"
	"github.com/smartflow-crm/inference-gateway/internal/session"
)

type fakeInferencer struct {
	result orchestrator.Result
	calls  int
}

func (f *fakeInferencer) Infer(_ context.Context, req orchestrator.Request) orchestrator.Result {
	f.calls++
	res := f.result
	if res.SessionID == "" {
		res.SessionID = req.SessionID
	}
	return res
}

type fakeHealthSource struct{ snap gpu.Snapshot }

func (f *fakeHealthSource) Snapshot() gpu.Snapshot { return f.snap }

func newTestServer(t *testing.T, apiKey string) (*Server, *fakeInferencer, *Handler) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	inf := &fakeInferencer{result: orchestrator.Result{
		SessionID:    "call-1",
		Intent:       "greeting",
		Confidence:   0.95,
		ResponseText: "Merhaba!",
		Source:       "shortcut",
	}}
	h := &Handler{
		Inference: inf,
		Sessions:  session.NewStore(session.Config{TTL: time.Minute, SweepInterval: time.Minute, MaxMessages: 20}, logger),
		Contexts:  callcontext.NewStore(time.Minute, logger),
		Cache:     cache.New(16, time.Minute),
		Breakers: []*breaker.Breaker{
			breaker.New("primary", breaker.Config{Threshold: 5, ResetTimeout: time.Minute}),
			breaker.New("secondary", breaker.Config{Threshold: 3, ResetTimeout: time.Minute}),
		},
		GPU:    &fakeHealthSource{snap: gpu.Snapshot{Status: gpu.StatusHealthy}},
		Logger: logger,
	}
	return New(0, 30*time.Second, apiKey, logger, h), inf, h
}

func doJSON(t *testing.T, srv *Server, method, path, body, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestInferEndpoint(t *testing.T) {
	srv, inf, _ := newTestServer(t, "")

	rec := doJSON(t, srv, "POST", "/infer", `{"text":"merhaba","language":"tr"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res orchestrator.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Source != "shortcut" || res.ResponseText != "Merhaba!" {
		t.Fatalf("result = %+v", res)
	}
	if inf.calls != 1 {
		t.Fatalf("inferencer calls = %d, want 1", inf.calls)
	}
}

func TestInferRejectsEmptyText(t *testing.T) {
	srv, inf, _ := newTestServer(t, "")

	rec := doJSON(t, srv, "POST", "/infer", `{"text":""}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if inf.calls != 0 {
		t.Fatal("inferencer should not run for empty text")
	}
}

func TestInferRejectsOversizedText(t *testing.T) {
	srv, inf, _ := newTestServer(t, "")

	body, err := json.Marshal(map[string]string{
		"text":     strings.Repeat("a", 5000),
		"language": "tr",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "POST", "/infer", string(body), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if inf.calls != 0 {
		t.Fatalf("oversized text reached the orchestrator (%d calls)", inf.calls)
	}
}

func TestInferAcceptsTextAtLimit(t *testing.T) {
	srv, inf, _ := newTestServer(t, "")

	body, err := json.Marshal(map[string]string{"text": strings.Repeat("ş", 2000)})
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "POST", "/infer", string(body), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 at the limit", rec.Code)
	}
	if inf.calls != 1 {
		t.Fatalf("orchestrator calls = %d, want 1", inf.calls)
	}
}

func TestInferRejectsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv, "POST", "/infer", `{not json`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	// Health must not require the API key.
	rec := doJSON(t, srv, "GET", "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without api key", rec.Code)
	}

	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
	if _, ok := health.Breakers["primary"]; !ok {
		t.Error("health missing primary breaker stats")
	}
	if health.GPU.Status != gpu.StatusHealthy {
		t.Errorf("gpu status = %s, want healthy", health.GPU.Status)
	}
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	rec := doJSON(t, srv, "GET", "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without api key", rec.Code)
	}
}

func TestProtectedRoutesRequireAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	rec := doJSON(t, srv, "POST", "/infer", `{"text":"merhaba"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without api key", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/infer", `{"text":"merhaba"}`, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with api key", rec.Code)
	}
}

func TestPersonasEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv, "GET", "/personas", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "support") {
		t.Errorf("personas payload missing support: %s", rec.Body.String())
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	srv, _, h := newTestServer(t, "")

	h.Sessions.GetOrCreate("call-9", "support", "tr")
	h.Sessions.AppendTurn("call-9", session.RoleUser, "merhaba")

	rec := doJSON(t, srv, "GET", "/sessions", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "call-9") {
		t.Fatalf("list status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "DELETE", "/sessions/call-9", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}
	var summary session.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if summary.SessionID != "call-9" || summary.TurnCount != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	rec = doJSON(t, srv, "DELETE", "/sessions/call-9", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second end status = %d, want 404", rec.Code)
	}
}

func TestContextEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	body := `{"type":"invoice","data":{"amount":"1450 TL"},"priority":"urgent","source":"billing","ttl_seconds":300}`
	rec := doJSON(t, srv, "POST", "/sessions/call-3/context", body, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "GET", "/sessions/call-3/context", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "invoice") {
		t.Fatalf("get status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "DELETE", "/sessions/call-3/context", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":1`) {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestContextAddRequiresType(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv, "POST", "/sessions/call-3/context", `{"data":{"k":"v"}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminBreakerEndpoints(t *testing.T) {
	srv, _, h := newTestServer(t, "")

	rec := doJSON(t, srv, "GET", "/admin/breakers", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "secondary") {
		t.Fatalf("stats status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Trip the primary breaker, then reset it through the API.
	for i := 0; i < 5; i++ {
		h.Breakers[0].Execute(context.Background(), func(context.Context) (interface{}, error) {
			return nil, context.DeadlineExceeded
		})
	}
	if h.Breakers[0].State() != breaker.StateOpen {
		t.Fatal("breaker should be open before reset")
	}

	rec = doJSON(t, srv, "POST", "/admin/breakers/primary/reset", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if h.Breakers[0].State() != breaker.StateClosed {
		t.Fatal("breaker should be closed after reset")
	}

	rec = doJSON(t, srv, "POST", "/admin/breakers/nonexistent/reset", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown breaker status = %d, want 404", rec.Code)
	}
}

func TestAdminCacheFlush(t *testing.T) {
	srv, _, h := newTestServer(t, "")

	h.Cache.Set(cache.Key("merhaba", "default", "tr"), cache.Response{ResponseText: "Merhaba!"})
	if h.Cache.Stats().Entries != 1 {
		t.Fatal("expected one cache entry")
	}

	rec := doJSON(t, srv, "POST", "/admin/cache/flush", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("flush status = %d", rec.Code)
	}
	if h.Cache.Stats().Entries != 0 {
		t.Fatal("cache should be empty after flush")
	}
}

func TestRequestIDHeaderOnResponses(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv, "GET", "/health", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on response")
	}
}
