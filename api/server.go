// Package api exposes the gateway over HTTP.
//
// Routes:
//
//	GET  /                      welcome text
//	GET  /healthz               liveness
//	GET  /metrics               Prometheus exposition
//	GET  /api/snmp/get          one-shot GET
//	POST /api/snmp/set          one-shot SET
//	GET  /api/snmp/getbulk      one-shot GETBULK
//	GET  /api/snmp/walk         subtree walk
//	GET  /api/config            current agent connection
//	POST /api/config            partial agent update
//	POST /api/polling/config    reconfigure the poller
//	GET  /api/polling/results   poll history
//	GET  /api/traps             trap history
//	POST /api/traps/config      request a trap port for the next start
//	GET  /api/traps/stream      live trap WebSocket
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/metrics"
	"github.com/geekxflood/snmpgateway/poller"
	"github.com/geekxflood/snmpgateway/session"
	"github.com/geekxflood/snmpgateway/trap"
)

// WelcomeText is served at the root path.
const WelcomeText = "welcome to snmp-server-page"

// DefaultLimit is the history page size when no limit is given.
const DefaultLimit = 10

// Agents opens sessions and owns the mutable agent connection.
// *session.Factory satisfies it.
type Agents interface {
	session.Opener
	Agent() session.Agent
	Update(u session.AgentUpdate) (session.Agent, error)
}

// Config wires the server to its collaborators.
type Config struct {
	Agents  Agents
	Poller  *poller.Poller
	Traps   *trap.Listener
	Metrics *metrics.Metrics
	Logger  logging.Logger

	// RequestTimeout bounds one-shot SNMP requests. Zero means no extra bound.
	RequestTimeout time.Duration
}

// Server is the HTTP surface of the gateway.
type Server struct {
	r       *chi.Mux
	agents  Agents
	poller  *poller.Poller
	traps   *trap.Listener
	metrics *metrics.Metrics
	logger  logging.Logger
	timeout time.Duration
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewComponentLogger("api", "http")
	}

	s := &Server{
		r:       chi.NewRouter(),
		agents:  cfg.Agents,
		poller:  cfg.Poller,
		traps:   cfg.Traps,
		metrics: cfg.Metrics,
		logger:  logger,
		timeout: cfg.RequestTimeout,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(s.requestLogger)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(WelcomeText))
	})
	s.r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s.r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.r.Route("/api", func(r chi.Router) {
		r.Route("/snmp", func(r chi.Router) {
			r.Get("/get", s.handleGet)
			r.Post("/set", s.handleSet)
			r.Get("/getbulk", s.handleGetBulk)
			r.Get("/walk", s.handleWalk)
		})

		r.Get("/config", s.getAgent)
		r.Post("/config", s.postAgent)

		r.Post("/polling/config", s.postPollingConfig)
		r.Get("/polling/results", s.getPollingResults)

		r.Get("/traps", s.getTraps)
		r.Post("/traps/config", s.postTrapConfig)
		r.Get("/traps/stream", s.streamTraps)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.DebugContext(ctx, "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// requestContext applies the configured request timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, code int) {
	writeJSON(w, errorResponse{Error: err.Error()}, code)
}

// statusFor maps validation errors to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidType),
		errors.Is(err, session.ErrInvalidValue),
		errors.Is(err, poller.ErrInvalidConfig),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == errBadRequest }

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid " + name + ": " + strconv.Quote(raw))
	}
	return n, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}
