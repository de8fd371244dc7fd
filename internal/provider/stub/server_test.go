package stub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSearchGeneratesArticles(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := New(fixedClock{now: now}, zap.NewNop())

	rec := get(t, srv.Handler(), "/search?company=Acme+Corp&source=Yahoo+Finance&limit=3")
	require.Equal(t, http.StatusOK, rec.Code)

	var result newsfeed.FetchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Acme Corp", result.Company)
	assert.Equal(t, "Yahoo Finance", result.Source)
	assert.Equal(t, "2024-05-01T12:00:00Z", result.FetchedAtText())
	require.Len(t, result.Articles, 3)

	first := result.Articles[0]
	assert.Equal(t, "Yahoo Finance headline about Acme Corp #1", first.Text("title"))
	assert.Equal(t, "https://yahoofinance.example.com/acme-corp/1", first.Text("url"))
	assert.Equal(t, "2024-05-01T11:00:00Z", first.Text("published_at"))
	assert.Contains(t, sentiments, first.Text("sentiment"))
	assert.Equal(t, "2024-05-01T09:00:00Z", result.Articles[2].Text("published_at"))

	again := get(t, srv.Handler(), "/search?company=Acme+Corp&source=Yahoo+Finance&limit=3")
	assert.Equal(t, rec.Body.String(), again.Body.String())
}

func TestSearchDefaultsLimit(t *testing.T) {
	t.Parallel()

	srv := New(fixedClock{now: time.Now()}, nil)
	rec := get(t, srv.Handler(), "/search?company=Acme&source=CNBC")
	require.Equal(t, http.StatusOK, rec.Code)

	var result newsfeed.FetchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Articles, defaultLimit)
}

func TestSearchRejectsBadParams(t *testing.T) {
	t.Parallel()

	srv := New(fixedClock{now: time.Now()}, nil)
	for _, target := range []string{
		"/search?source=CNBC",
		"/search?company=Acme",
		"/search?company=Acme&source=CNBC&limit=0",
		"/search?company=Acme&source=CNBC&limit=11",
		"/search?company=Acme&source=CNBC&limit=x",
	} {
		rec := get(t, srv.Handler(), target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := New(fixedClock{now: time.Now()}, nil)
	rec := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
