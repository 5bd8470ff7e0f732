// Package transport implements the HTTP/SSE surface of the
// blackboard: the single /sbp JSON-RPC endpoint, REST aliases, SSE
// streaming with replay, sessions, and the auth/rate-limit
// middleware. Grounded on the donor's internal/rpc/http_server.go (mux
// wiring, health endpoints, graceful shutdown) and
// internal/rpc/http_sse.go (SSE headers, keepalive ticker,
// streamFromMemory fan-out).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sbp-dev/blackboard/internal/rpc"
	"github.com/sbp-dev/blackboard/internal/sbplog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Version is surfaced in GET /health responses.
const Version = "0.1.0"

// Config holds the transport's tunables.
type Config struct {
	Host            string
	Port            int
	Auth            AuthConfig
	RateLimit       RateLimitConfig
	KeepaliveEvery  time.Duration
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns sane transport defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		KeepaliveEvery:    30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Server is the blackboard's HTTP/SSE transport.
type Server struct {
	cfg        Config
	dispatcher *rpc.Dispatcher
	hub        *Hub
	sessions   *SessionRegistry
	startedAt  time.Time

	httpServer *http.Server
}

// NewServer wires a Server over dispatcher and hub.
func NewServer(cfg Config, dispatcher *rpc.Dispatcher, hub *Hub) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		hub:        hub,
		sessions:   NewSessionRegistry(),
		startedAt:  time.Now(),
	}
}

// Handler builds the root http.Handler: the /sbp endpoint, REST
// aliases, and ancillary health/metrics endpoints, wrapped in the
// auth and rate-limit middleware and OTel HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sbp", s.handleSbp)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	for _, alias := range []string{"emit", "sniff", "register_scent", "deregister_scent", "evaporate", "inspect"} {
		method := "sbp/" + alias
		mux.HandleFunc("/"+alias, s.handleRESTAlias(method))
	}

	var handler http.Handler = mux
	handler = rateLimitMiddleware(s.cfg.RateLimit, handler)
	handler = authMiddleware(s.cfg.Auth, handler)
	return otelhttp.NewHandler(handler, "sbp.transport")
}

// Start begins serving on cfg.Host:cfg.Port. It blocks until the
// server stops (Shutdown is called or ListenAndServe fails).
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	sbplog.Infof("transport", "listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, broadcasting an SSE ": bye"
// frame to every connected subscriber first, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Broadcast(EventRecord{ID: -1, Data: []byte(": bye\n\n")})
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"version":   Version,
		"transport": "streamable-http-sse",
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// handleSbp is the single /sbp endpoint: POST carries a JSON-RPC
// request, GET opens an SSE stream.
func (s *Server) handleSbp(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r, "")
	case http.MethodGet:
		s.handleSSE(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleRESTAlias maps a convenience REST path (e.g. POST /emit) to
// its JSON-RPC method.
func (s *Server) handleRESTAlias(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePost(w, r, method)
	}
}

func (s *Server) sessionIDFor(r *http.Request) (string, *Session) {
	id := r.Header.Get("Sbp-Session-Id")
	agent := r.Header.Get("Sbp-Agent-Id")
	sess := s.sessions.Resolve(id, agent)
	return sess.ID, sess
}

// handlePost validates and dispatches a JSON-RPC request. When
// forcedMethod is non-empty (a REST alias), the body is treated as
// bare params rather than a full envelope.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, forcedMethod string) {
	sessionID, _ := s.sessionIDFor(r)
	w.Header().Set("Sbp-Session-Id", sessionID)
	w.Header().Set("Content-Type", "application/json")

	var req rpc.Request
	if forcedMethod != "" {
		var params json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !isEOF(err) {
			s.writeParseError(w)
			return
		}
		req = rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: forcedMethod, Params: params}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeParseError(w)
			return
		}
	}

	resp := s.dispatcher.Handle(r.Context(), sessionID, &req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}

func (s *Server) writeParseError(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(rpc.ErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "failed to parse request body", nil)))
}
