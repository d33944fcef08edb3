package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/config"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/export"
	ids "github.com/JakeFAU/affiliate-crawler/internal/id/uuid"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
)

var errQueueUnavailable = errors.New("queue unavailable")

// Dispatcher queues jobs and interrupts running ones.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
	Cancel(jobID string) bool
}

// Server wires HTTP handlers to the dispatcher and job store.
type Server struct {
	router     chi.Router
	jobStore   crawler.JobStore
	dispatcher Dispatcher
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	dispatcher Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/searches", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitSearch)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Use(validJobID)
			r.Get("/", s.getSearch)
			r.Get("/records", s.getRecords)
			r.Post("/cancel", s.cancelSearch)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Keywords     []string `json:"keywords"`
	MaxPages     *int     `json:"max_pages"`
	MaxProducts  *int     `json:"max_products"`
	AffiliateTag string   `json:"affiliate_tag"`
	Formats      []string `json:"formats"`
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toSearchParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errQueueUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	records, err := s.jobStore.ListRecords(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job records")
		return
	}
	writeJSON(w, http.StatusOK, crawler.SearchJobResult{Job: job, Records: records})
}

func (s *Server) cancelSearch(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.IsTerminal() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job already finished",
			"status": string(job.Status),
		})
		return
	}
	finished := s.clock.Now()
	job.Status = crawler.SearchStatusCanceled
	job.ErrorText = "canceled via API"
	job.Finished = &finished
	if err := s.jobStore.UpdateJob(r.Context(), job); err != nil {
		if errors.Is(err, crawler.ErrJobFinal) {
			writeError(w, http.StatusConflict, "job already finished")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	interrupted := s.dispatcher.Cancel(job.ID)
	s.logger.Info("search canceled", zap.String("job_id", job.ID), zap.Bool("was_running", interrupted))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": string(crawler.SearchStatusCanceled)})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (crawler.SearchJob, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load job")
		}
		return crawler.SearchJob{}, false
	}
	return job, true
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.SearchParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.SearchJob{
		ID:         jobID,
		Status:     crawler.SearchStatusQueued,
		Submitted:  s.clock.Now(),
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, jobID); err != nil {
		job.Status = crawler.SearchStatusFailed
		job.ErrorText = "queue unavailable"
		if updateErr := s.jobStore.UpdateJob(context.WithoutCancel(ctx), job); updateErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("%w: %w", errQueueUnavailable, err)
	}
	s.logger.Info("search queued", zap.String("job_id", jobID), zap.Strings("keywords", params.Keywords))
	return jobID, nil
}

func (s *Server) toSearchParameters(req searchRequest) (crawler.SearchParameters, error) {
	var keywords []string
	for _, k := range req.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return crawler.SearchParameters{}, errors.New("keywords required")
	}
	maxPages := valueOrDefault(req.MaxPages, s.cfg.Search.MaxPages)
	if maxPages <= 0 {
		return crawler.SearchParameters{}, errors.New("max_pages must be > 0")
	}
	maxProducts := valueOrDefault(req.MaxProducts, s.cfg.Search.MaxProducts)
	if maxProducts <= 0 {
		return crawler.SearchParameters{}, errors.New("max_products must be > 0")
	}
	if _, err := export.ParseFormats(req.Formats); err != nil {
		return crawler.SearchParameters{}, err
	}
	return crawler.SearchParameters{
		Keywords:     keywords,
		MaxPages:     maxPages,
		MaxProducts:  maxProducts,
		AffiliateTag: strings.TrimSpace(req.AffiliateTag),
		Formats:      req.Formats,
	}, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func validJobID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ids.Valid(chi.URLParam(r, "job_id")) {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
