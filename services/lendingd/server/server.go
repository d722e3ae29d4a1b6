package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"moneymarket/core"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/observability"
	telemetry "moneymarket/observability/otel"
	"moneymarket/services/lendingd/audit"
)

const requestLimit = 1 << 20 // 1 MiB

// Config wires the collaborators of the API server.
type Config struct {
	Node        *core.Node
	Auth        AuthConfig
	RateLimit   RateLimit
	Idempotency *IdempotencyStore
	Audit       *audit.Store
	Hub         *Hub
	// Pauses, when set, is the operator module switch registry shared with
	// the node.
	Pauses *nativecommon.Pauses
	// Metrics exposes /metrics from the default prometheus registry.
	Metrics bool
	// OriginPatterns restricts websocket origins. Empty allows same-origin
	// clients only.
	OriginPatterns []string
	Logger         *slog.Logger
}

// Server is the HTTP JSON API of the lending daemon.
type Server struct {
	node           *core.Node
	auth           *Authenticator
	adminScope     string
	limiter        *RateLimiter
	idem           *IdempotencyStore
	audit          *audit.Store
	hub            *Hub
	pauses         *nativecommon.Pauses
	metrics        bool
	originPatterns []string
	tracer         trace.Tracer
	logger         *slog.Logger
}

// New constructs the server.
func New(cfg Config) (*Server, error) {
	if cfg.Node == nil {
		return nil, errors.New("server: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	adminScope := cfg.Auth.AdminScope
	if adminScope == "" {
		adminScope = "lending:admin"
	}
	return &Server{
		node:           cfg.Node,
		auth:           NewAuthenticator(cfg.Auth, logger),
		adminScope:     adminScope,
		limiter:        NewRateLimiter(cfg.RateLimit),
		idem:           cfg.Idempotency,
		audit:          cfg.Audit,
		hub:            hub,
		pauses:         cfg.Pauses,
		metrics:        cfg.Metrics,
		originPatterns: cfg.OriginPatterns,
		tracer:         telemetry.Tracer("moneymarket/lendingd"),
		logger:         logger.With("component", "api"),
	}, nil
}

// Handler returns the routed, instrumented API handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.observe)

	r.Get("/healthz", s.health)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.With(s.limiter.Middleware("events_ws")).Get("/events/ws", s.handleEventsWS)

	r.Route("/v1", func(v chi.Router) {
		v.Group(func(pub chi.Router) {
			pub.Use(s.limiter.Middleware("public"))
			pub.Get("/protocol", s.getProtocol)
			pub.Get("/markets", s.listMarkets)
			pub.Get("/markets/{symbol}", s.getMarket)
			pub.Get("/markets/{symbol}/history", s.getHistory)
			pub.Get("/accounts/{address}", s.getAccount)
			pub.Get("/events", s.listEvents)
		})
		v.Group(func(auth chi.Router) {
			auth.Use(s.auth.Middleware(), s.limiter.Middleware("actions"), s.idem.Middleware)
			s.mountActions(auth)
			s.mountGuardian(auth)
			auth.Route("/admin", func(admin chi.Router) {
				admin.Use(s.requireScope(s.adminScope))
				s.mountAdmin(admin)
			})
		})
	})
	return otelhttp.NewHandler(r, "lendingd")
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if err := s.node.Protocol().Halted(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "halted", "height": s.node.Height()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": s.node.Height()})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		observability.API().Observe(route, r.Method, recorder.status, elapsed)
		s.logger.Debug("request served",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", route,
			"status", recorder.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !p.HasScope(scope) {
				writeError(w, http.StatusForbidden, body("authorization", "InsufficientScope", "insufficient scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type actionResponse struct {
	Height uint64 `json:"height"`
	Result any    `json:"result"`
}

// execute runs fn as one protocol operation on behalf of the request sender
// and writes its result.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, action string, fn func(sender crypto.Address) (any, error)) {
	s.call(w, r, action, func(sender crypto.Address) (any, error) {
		var result any
		err := s.node.Execute(func() error {
			out, err := fn(sender)
			result = out
			return err
		})
		return result, err
	})
}

// call runs fn on behalf of the request sender without opening an operation.
// fn must go through a node method that opens its own.
func (s *Server) call(w http.ResponseWriter, r *http.Request, action string, fn func(sender crypto.Address) (any, error)) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, body("authentication", "MissingToken", "missing bearer token"))
		return
	}
	_, span := s.tracer.Start(r.Context(), "lending."+action, trace.WithAttributes(
		attribute.String("lending.sender", p.Sender.String()),
	))
	defer span.End()

	result, err := fn(p.Sender)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.fail(w, r, action, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Height: s.node.Height(), Result: result})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status, payload := toStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", RequestID(r.Context()), "action", action, "error", err)
	} else {
		s.logger.Debug("request rejected", "request_id", RequestID(r.Context()), "action", action, "code", payload.Error.Code)
	}
	writeError(w, status, payload)
}

func decode(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, payload errorBody) {
	writeJSON(w, status, payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
