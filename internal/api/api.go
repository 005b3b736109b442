package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ans-project/ans/internal/metrics"
	"github.com/ans-project/ans/internal/registry"
	"github.com/ans-project/ans/internal/validate"
	"github.com/ans-project/ans/pkg/protocol"
)

const (
	maxBodyBytes     = 1 << 20
	limiterCacheSize = 4096
	didContentType   = "application/did+json"
)

// Registry is the subset of *registry.Service the API serves.
type Registry interface {
	Register(ctx context.Context, reg *protocol.SignedRegistration) (*protocol.RegistrationReceipt, error)
	Lookup(ctx context.Context, q protocol.LookupQuery) (*protocol.LookupResponse, error)
	Get(ctx context.Context, agentID string) (*protocol.AgentEntry, error)
	Deregister(ctx context.Context, req *protocol.DeregisterRequest) error
	DIDDocument(ctx context.Context, ref string) (*protocol.DIDDocument, error)
	Count(ctx context.Context) (int, error)
}

// Options configures the HTTP server.
type Options struct {
	Listen      string
	CORSOrigins []string
	// TrustedProxies lists CIDRs whose X-Forwarded-For and X-Real-IP headers
	// identify the client. Empty means RemoteAddr is always used.
	TrustedProxies []string
	// APIKeys, when non-empty, are required as bearer tokens on write routes.
	APIKeys []string
	// RateLimit is the sustained write rate per client IP; zero disables limiting.
	RateLimit    float64
	RateBurst    int
	StoreBackend string
	SyncEnabled  bool
}

// Server serves the ANS HTTP API.
type Server struct {
	opts       Options
	registry   Registry
	metrics    *metrics.Metrics
	startedAt  time.Time
	router     chi.Router
	httpServer *http.Server
	limiters   *lru.Cache[string, *rate.Limiter]
	trusted    []netip.Prefix
	logger     zerolog.Logger

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// New creates an API server. m may be nil, in which case /metrics is not served.
func New(opts Options, reg Registry, m *metrics.Metrics, startedAt time.Time, logger zerolog.Logger) *Server {
	s := &Server{
		opts:      opts,
		registry:  reg,
		metrics:   m,
		startedAt: startedAt,
		logger:    logger.With().Str("component", "api").Logger(),
		ready:     make(chan struct{}),
	}
	trusted, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring trusted proxies")
	}
	s.trusted = trusted
	if opts.RateLimit > 0 {
		s.limiters, _ = lru.New[string, *rate.Limiter](limiterCacheSize)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(opts.CORSOrigins).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/lookup", s.handleLookup)
	r.Get("/agents/{agent_id}", s.handleGetAgent)
	r.Get("/did/{did}", s.handleDID)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.rateLimit)
		r.Post("/register", s.handleRegister)
		r.Post("/deregister", s.handleDeregister)
	})

	s.router = r
	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured TCP address. Blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.registry.Count(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Status:       "ok",
		Uptime:       time.Since(s.startedAt).Truncate(time.Second).String(),
		StartedAt:    s.startedAt,
		AgentCount:   count,
		StoreBackend: s.opts.StoreBackend,
		SyncEnabled:  s.opts.SyncEnabled,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.reject(metrics.ReasonInvalid)
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Request body too large or unreadable"})
		return
	}

	problems, err := validate.ValidateRegistrationJSON(body)
	if err != nil {
		s.reject(metrics.ReasonInvalid)
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Malformed JSON", Details: []string{err.Error()}})
		return
	}
	if len(problems) > 0 {
		s.reject(metrics.ReasonInvalid)
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Validation failed", Details: problems})
		return
	}

	var reg protocol.SignedRegistration
	if err := json.Unmarshal(body, &reg); err != nil {
		s.reject(metrics.ReasonInvalid)
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Malformed JSON", Details: []string{err.Error()}})
		return
	}

	receipt, err := s.registry.Register(r.Context(), &reg)
	if err != nil {
		s.reject(rejectReason(err))
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RegistrationAccepted(receipt.Updated)
	}
	writeJSON(w, http.StatusAccepted, protocol.RegistrationResponse{
		Status:       "success",
		Registration: *receipt,
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := protocol.ParseLookupQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Invalid query", Details: []string{err.Error()}})
		return
	}
	resp, err := s.registry.Lookup(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Lookups.Inc()
		s.metrics.LookupDuration.Observe(time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.Get(r.Context(), chi.URLParam(r, "agent_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeregisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Malformed JSON", Details: []string{err.Error()}})
		return
	}
	if err := s.registry.Deregister(r.Context(), &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Deregistrations.Inc()
	}
	writeJSON(w, http.StatusOK, protocol.DeregisterResponse{Status: "success", AgentID: req.AgentID})
}

func (s *Server) handleDID(w http.ResponseWriter, r *http.Request) {
	doc, err := s.registry.DIDDocument(r.Context(), chi.URLParam(r, "did"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", didContentType)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

func (s *Server) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RegistrationRejected(reason)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, registry.ErrInvalidRecord):
		return metrics.ReasonInvalid
	case errors.Is(err, registry.ErrInvalidProof):
		return metrics.ReasonProof
	case errors.Is(err, registry.ErrKeyConflict):
		return metrics.ReasonKeyConflict
	default:
		return metrics.ReasonInternal
	}
}

// writeError maps registry errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := protocol.ErrorResponse{Message: err.Error()}
	var status int
	var verr *registry.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Message = "Validation failed"
		resp.Details = verr.Problems
	case errors.Is(err, registry.ErrInvalidRecord), errors.Is(err, registry.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrInvalidProof):
		status = http.StatusUnauthorized
		resp.Message = "Invalid signature"
	case errors.Is(err, registry.ErrStaleRequest):
		status = http.StatusUnauthorized
	case errors.Is(err, registry.ErrKeyConflict):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
		resp.Message = "Agent not found"
	default:
		status = http.StatusInternalServerError
		resp.Message = "Internal server error"
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
