package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/filter"
	"github.com/JakeFAU/visit-scheduler/internal/manager"
	"github.com/JakeFAU/visit-scheduler/internal/metrics"
	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

// Queue is the part of the visit queue the API reads and mutates.
type Queue interface {
	Stats() queue.Stats
	Hosts() []queue.HostSnapshot
	AddAll(orders []*visit.Order) error
	ConfigureHost(domain string, typ visit.Type, minDelay time.Duration, maxAccess int) error
}

// Status reports manager liveness and poll state.
type Status interface {
	Running() bool
	PollStatus() manager.PollStatus
}

// Describer lists registered pipeline filters.
type Describer interface {
	Describe() []filter.Description
}

// Config controls optional server behavior.
type Config struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the scheduler.
type Server struct {
	router  chi.Router
	queue   Queue
	status  Status
	filters Describer
	ids     visit.IDGenerator
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q Queue,
	status Status,
	filters Describer,
	ids visit.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		queue:   q,
		status:  status,
		filters: filters,
		ids:     ids,
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/queue", s.getQueue)
		r.Get("/hosts", s.listHosts)
		r.Put("/hosts/{domain}", s.configureHost)
		r.Get("/filters", s.listFilters)
		r.Post("/orders", s.submitOrders)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil || !s.status.Running() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type queueResponse struct {
	Queue queue.Stats         `json:"queue"`
	Poll  *manager.PollStatus `json:"poll,omitempty"`
}

func (s *Server) getQueue(w http.ResponseWriter, _ *http.Request) {
	resp := queueResponse{Queue: s.queue.Stats()}
	if s.status != nil {
		poll := s.status.PollStatus()
		resp.Poll = &poll
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listHosts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"hosts": s.queue.Hosts()})
}

func (s *Server) listFilters(w http.ResponseWriter, _ *http.Request) {
	var filters []filter.Description
	if s.filters != nil {
		filters = s.filters.Describe()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"filters": filters})
}

type hostRequest struct {
	Type      string `json:"type"`
	MinDelay  string `json:"min_delay"`
	MaxAccess int    `json:"max_access"`
}

func (s *Server) configureHost(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	typ, err := visit.ParseType(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var delay time.Duration
	if req.MinDelay != "" {
		if delay, err = time.ParseDuration(req.MinDelay); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid min_delay")
			return
		}
	}
	if err := s.queue.ConfigureHost(domain, typ, delay, req.MaxAccess); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"domain":     domain,
		"type":       typ,
		"min_delay":  delay.String(),
		"max_access": req.MaxAccess,
	})
}

type ordersRequest struct {
	URLs     []string `json:"urls"`
	Type     string   `json:"type"`
	Priority *float64 `json:"priority"`
}

func (s *Server) submitOrders(w http.ResponseWriter, r *http.Request) {
	var req ordersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	orders, err := s.toOrders(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.AddAll(orders); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, queue.ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, queue.ErrInvalidOrder):
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"ids": ids})
}

func (s *Server) toOrders(req ordersRequest) ([]*visit.Order, error) {
	if len(req.URLs) == 0 {
		return nil, errors.New("urls required")
	}
	typ, err := visit.ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = visit.TypePage
	}
	priority := 1.0
	if req.Priority != nil {
		priority = *req.Priority
	}
	orders := make([]*visit.Order, 0, len(req.URLs))
	for _, raw := range req.URLs {
		u, err := visiturl.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("url %q: %w", raw, err)
		}
		order := visit.NewOrder(u, typ, priority)
		if s.ids != nil {
			if order.ID, err = s.ids.NewID(); err != nil {
				return nil, fmt.Errorf("generate order id: %w", err)
			}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
