package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

const (
	defaultRequestTimeout = 30 * time.Second
	minLimitPerSource     = 1
	maxLimitPerSource     = 100
)

// Reader is the aggregation surface the handlers serve.
type Reader interface {
	Companies(ctx context.Context) ([]string, error)
	Sources(ctx context.Context, company string) ([]string, error)
	Article(ctx context.Context, company, source string) (newsfeed.FetchResult, error)
	ArticlesForCompany(ctx context.Context, company string, limitPerSource *int) (newsfeed.CompanyArticles, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Config controls the HTTP layer.
type Config struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the aggregation reader.
type Server struct {
	router chi.Router
	reader Reader
	checks map[string]ReadyCheck
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reader Reader, checks map[string]ReadyCheck, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		reader: reader,
		checks: checks,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/companies", s.listCompanies)
	r.Route("/companies/{company}", func(r chi.Router) {
		r.Get("/", s.companyArticles)
		r.Get("/sources", s.companySources)
	})
	r.Get("/articles", s.article)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "newsfeeds",
		"status":  "operational",
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.reader.Companies(r.Context())
	if err != nil {
		s.fail(w, "list companies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": companies, "count": len(companies)})
}

func (s *Server) companyArticles(w http.ResponseWriter, r *http.Request) {
	company, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimitPerSource(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.reader.ArticlesForCompany(r.Context(), company, limit)
	if err != nil {
		s.fail(w, "aggregate articles", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) companySources(w http.ResponseWriter, r *http.Request) {
	company, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sources, err := s.reader.Sources(r.Context(), company)
	if err != nil {
		s.fail(w, "list sources", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": company, "sources": sources, "count": len(sources)})
}

func (s *Server) article(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	company := strings.TrimSpace(q.Get("company"))
	source := strings.TrimSpace(q.Get("source"))
	if company == "" || source == "" {
		writeError(w, http.StatusBadRequest, "company and source are required")
		return
	}
	result, err := s.reader.Article(r.Context(), company, source)
	if err != nil {
		s.fail(w, "get article", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// fail maps domain errors to status codes: not found is 404, validation is
// 400, everything else is a 500.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, newsfeed.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, newsfeed.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// companyParam reads the company path segment. chi matches on RawPath when
// the request carries one, so the segment is only still escaped in that case.
func companyParam(r *http.Request) (string, error) {
	company := chi.URLParam(r, "company")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(company)
		if err != nil {
			return "", errors.New("invalid company")
		}
		company = unescaped
	}
	company = strings.TrimSpace(company)
	if company == "" {
		return "", errors.New("company is required")
	}
	return company, nil
}

func parseLimitPerSource(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("limit_per_source")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minLimitPerSource || n > maxLimitPerSource {
		return nil, errors.New("limit_per_source must be an integer between 1 and 100")
	}
	return &n, nil
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
