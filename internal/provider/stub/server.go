// Package stub serves a local search API that returns generated articles,
// so the pipeline can run end to end without an external provider.
package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/hash/sha256"
	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

const (
	defaultLimit = 5
	maxLimit     = 10
)

var sentiments = []string{"positive", "neutral", "negative"}

// Server generates search responses.
type Server struct {
	router chi.Router
	clock  newsfeed.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New constructs a Server with its routes.
func New(clock newsfeed.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		clock:  clock,
		hasher: sha256.New(),
		logger: logger.Named("search_stub"),
	}
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Get("/search", s.search)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "search stub",
		"status":  "operational",
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	company := strings.TrimSpace(q.Get("company"))
	source := strings.TrimSpace(q.Get("source"))
	if company == "" || source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company and source are required"})
		return
	}
	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("limit must be an integer between 1 and %d", maxLimit),
			})
			return
		}
		limit = n
	}

	now := s.clock.Now().UTC()
	articles := make([]article, 0, limit)
	for i := 0; i < limit; i++ {
		articles = append(articles, s.article(company, source, i, now))
	}
	s.logger.Debug("search served", zap.String("company", company), zap.String("source", source), zap.Int("limit", limit))
	writeJSON(w, http.StatusOK, searchResponse{
		Company:   company,
		Source:    source,
		FetchedAt: now.Format(time.RFC3339Nano),
		Articles:  articles,
	})
}

type searchResponse struct {
	Company   string    `json:"company"`
	Source    string    `json:"source"`
	FetchedAt string    `json:"fetched_at"`
	Articles  []article `json:"articles"`
}

type article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Snippet     string `json:"snippet"`
	Sentiment   string `json:"sentiment"`
}

func (s *Server) article(company, source string, index int, now time.Time) article {
	n := strconv.Itoa(index + 1)
	host := strings.ToLower(strings.ReplaceAll(source, " ", ""))
	slug := strings.ToLower(strings.ReplaceAll(company, " ", "-"))
	return article{
		Title:       fmt.Sprintf("%s headline about %s #%s", source, company, n),
		URL:         fmt.Sprintf("https://%s.example.com/%s/%s", host, slug, n),
		PublishedAt: now.Add(-time.Duration(index+1) * time.Hour).Format(time.RFC3339),
		Snippet: fmt.Sprintf(
			"%s covers recent developments at %s, highlighting strategic moves and industry impact.",
			source, company,
		),
		Sentiment: sentiments[s.hasher.Pick(len(sentiments), company, source, n)],
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}
