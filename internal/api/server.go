// Package api provides the HTTP server for Cascade.
// It exposes the progression engine as a small JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cascade-app/cascade/internal/app/engagement"
	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/health"
	"github.com/cascade-app/cascade/internal/infra/metrics"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins        []string
	RateLimitPerMinute int // per client IP; 0 disables
	Metrics            bool
	Logger             *zap.Logger
}

// Server is the Cascade HTTP API server.
type Server struct {
	engine *engagement.Engine
	health *health.Checker
	opts   Options
	log    *zap.Logger

	limitersMu sync.Mutex
	limiters   map[string]*ipLimiter
}

// NewServer creates a new API server. checker may be nil.
func NewServer(engine *engagement.Engine, checker *health.Checker, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		engine:   engine,
		health:   checker,
		opts:     opts,
		log:      opts.Logger.Named("api"),
		limiters: make(map[string]*ipLimiter),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(peerAddr)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	if s.opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimitPerMinute > 0 {
			r.Use(s.rateLimit)
		}

		r.Get("/badges", s.handleBadgeCatalog)
		r.Get("/challenges/templates", s.handleChallengeTemplates)

		r.Post("/users", s.handleCreateUser)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Put("/timezone", s.handleSetTimezone)
			r.Post("/goals", s.handleCreateGoal)
			r.Post("/tasks", s.handleCreateTask)
			r.Post("/checkins", s.handleCheckin)
			r.Post("/actions/{kind}", s.handleAction)
			r.Get("/stats", s.handleStats)
			r.Get("/challenges", s.handleChallenges)
			r.Post("/challenges", s.handleEnsureChallenges)
			r.Get("/badges", s.handleEarnedBadges)
			r.Get("/badges/next", s.handleNextBadges)
			r.Get("/celebrations", s.handleCelebrations)
			r.Get("/ledger", s.handleLedger)
		})

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Post("/complete", s.handleComplete)
			r.Post("/uncomplete", s.handleUncomplete)
		})

		r.Post("/celebrations/{id}/seen", s.handleCelebrationSeen)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	statuses := s.health.Statuses()
	if !s.health.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": statuses})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": statuses})
}

// ─── Middleware ─────────────────────────────────────────────────────────────

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type ipLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// rateLimit applies a token bucket per client IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	every := rate.Every(time.Minute / time.Duration(s.opts.RateLimitPerMinute))
	burst := max(s.opts.RateLimitPerMinute/2, 1)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(clientIP(r), every, burst).Allow() {
			metrics.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(key string, every rate.Limit, burst int) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	now := time.Now()
	for k, l := range s.limiters {
		if now.After(l.expires) {
			delete(s.limiters, k)
		}
	}
	if l, ok := s.limiters[key]; ok {
		l.expires = now.Add(5 * time.Minute)
		return l.limiter
	}
	l := &ipLimiter{limiter: rate.NewLimiter(every, burst), expires: now.Add(5 * time.Minute)}
	s.limiters[key] = l
	return l.limiter
}

type peerAddrKey struct{}

// peerAddr records the connection's address before RealIP rewrites
// RemoteAddr from client-supplied headers.
func peerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP is the limiter key: the peer address, never a forwarded header.
func clientIP(r *http.Request) string {
	addr, ok := r.Context().Value(peerAddrKey{}).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    typ,
		},
	})
}

// writeDomainError maps engine errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrIllegalStateTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidTimezone):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
