package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sbp-dev/blackboard/internal/blackboard"
	"github.com/sbp-dev/blackboard/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCore struct{}

func (stubCore) Emit(ctx context.Context, p blackboard.EmitParams) (blackboard.EmitResult, error) {
	return blackboard.EmitResult{ID: "p1", Action: blackboard.ActionCreated, CurrentIntensity: p.InitialIntensity}, nil
}
func (stubCore) Sniff(ctx context.Context, p blackboard.SniffParams) (blackboard.SniffResult, error) {
	return blackboard.SniffResult{Timestamp: 1}, nil
}
func (stubCore) RegisterScent(ctx context.Context, p blackboard.RegisterScentParams) (blackboard.RegisterScentResult, error) {
	return blackboard.RegisterScentResult{Status: blackboard.StatusRegistered}, nil
}
func (stubCore) DeregisterScent(ctx context.Context, scentID string) (blackboard.DeregisterScentResult, error) {
	return blackboard.DeregisterScentResult{Status: blackboard.StatusNotFound}, nil
}
func (stubCore) Evaporate(ctx context.Context, p blackboard.EvaporateParams) (blackboard.EvaporateResult, error) {
	return blackboard.EvaporateResult{}, nil
}
func (stubCore) Inspect(ctx context.Context, p blackboard.InspectParams) (blackboard.InspectResult, error) {
	return blackboard.InspectResult{}, nil
}
func (stubCore) DiagnosePheromone(ctx context.Context, id string) (blackboard.DiagnosePheromoneResult, error) {
	return blackboard.DiagnosePheromoneResult{}, nil
}

func newTestServer() *Server {
	d := rpc.NewDispatcher(stubCore{}, nil)
	hub := NewHub(newFakeBinder(), 16)
	return NewServer(DefaultConfig(), d, hub)
}

func TestHealth_ReturnsOK(t *testing.T) {
	s := newTestServer()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleSbp_PostDispatchesEmit(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"sbp/emit","params":{"trail":"a/x","type":"t","initial_intensity":0.5}}`)
	req := httptest.NewRequest(http.MethodPost, "/sbp", body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Sbp-Session-Id"))

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandleSbp_InvalidJSONIsParseError(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/sbp", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSbp_GETWithoutSSEAcceptIs406(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/sbp", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotAcceptable, rr.Code)
}

func TestRESTAlias_PostEmit(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/emit", strings.NewReader(`{"trail":"a/x","type":"t","initial_intensity":0.5}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetrics_Exposed(t *testing.T) {
	s := newTestServer()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

// flushRecorder adapts httptest.ResponseRecorder so the SSE handler's
// http.Flusher type assertion succeeds.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func (f *flushRecorder) Flush() {}

func TestSSE_StreamsAndStopsOnContextCancel(t *testing.T) {
	s := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/sbp", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	rr := &flushRecorder{httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		s.handleSbp(rr, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SSE handler did not return after context cancellation")
	}

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
}
