package aggregate_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/aggregate"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore"
	"github.com/JakeFAU/newsfeeds/internal/objectstore/memory"
)

func articles(n int) []newsfeed.Article {
	out := make([]newsfeed.Article, n)
	for i := range out {
		out[i] = newsfeed.Article{"title": json.RawMessage(strconv.Quote(fmt.Sprintf("headline %d", i+1)))}
	}
	return out
}

func seeded(t *testing.T, counts map[string]int) *aggregate.Reader {
	t.Helper()
	store := objectstore.New(memory.New("news", 2), objectstore.Options{}, zap.NewNop())
	for source, n := range counts {
		_, err := store.Put(context.Background(), "Acme", source, newsfeed.FetchResult{
			Company: "Acme", Source: source, Articles: articles(n),
		})
		require.NoError(t, err)
	}
	reader, err := aggregate.New(store)
	require.NoError(t, err)
	return reader
}

func intPtr(v int) *int { return &v }

func TestArticlesForCompanyTotalsBeforeTruncation(t *testing.T) {
	t.Parallel()

	reader := seeded(t, map[string]int{"Reuters": 5, "CNBC": 3, "BBC": 7})

	got, err := reader.ArticlesForCompany(context.Background(), "Acme", intPtr(2))
	require.NoError(t, err)
	assert.Equal(t, 15, got.TotalArticlesAvailable)
	assert.Equal(t, 3, got.SourceCount)
	assert.Equal(t, []string{"BBC", "CNBC", "Reuters"}, got.Sources)
	require.Len(t, got.Items, 3)
	for _, item := range got.Items {
		assert.LessOrEqual(t, len(item.Articles), 2)
	}
}

func TestArticlesForCompanyWithoutLimit(t *testing.T) {
	t.Parallel()

	reader := seeded(t, map[string]int{"Reuters": 5, "CNBC": 0})

	got, err := reader.ArticlesForCompany(context.Background(), "Acme", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalArticlesAvailable)
	assert.Equal(t, 2, got.SourceCount)
	returned := 0
	for _, item := range got.Items {
		returned += len(item.Articles)
	}
	assert.Equal(t, 5, returned)
}

func TestArticlesForCompanyNotFoundVersusEmpty(t *testing.T) {
	t.Parallel()

	reader := seeded(t, map[string]int{"Reuters": 0})

	_, err := reader.ArticlesForCompany(context.Background(), "Nobody", nil)
	require.ErrorIs(t, err, newsfeed.ErrNotFound)

	got, err := reader.ArticlesForCompany(context.Background(), "Acme", nil)
	require.NoError(t, err)
	assert.Zero(t, got.TotalArticlesAvailable)
	assert.Equal(t, 1, got.SourceCount)
}

func TestArticlesForCompanyRejectsNegativeLimit(t *testing.T) {
	t.Parallel()

	reader := seeded(t, map[string]int{"Reuters": 1})
	_, err := reader.ArticlesForCompany(context.Background(), "Acme", intPtr(-1))
	require.ErrorIs(t, err, newsfeed.ErrValidation)
}

func TestPassThroughs(t *testing.T) {
	t.Parallel()

	reader := seeded(t, map[string]int{"Yahoo Finance": 2})
	ctx := context.Background()

	companies, err := reader.Companies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme"}, companies)

	sources, err := reader.Sources(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"Yahoo Finance"}, sources)

	result, err := reader.Article(ctx, "Acme", "Yahoo Finance")
	require.NoError(t, err)
	assert.Len(t, result.Articles, 2)

	_, err = reader.Article(ctx, "Acme", "Reuters")
	require.ErrorIs(t, err, newsfeed.ErrNotFound)

	_, err = reader.Article(ctx, "Acme", "")
	require.ErrorIs(t, err, newsfeed.ErrValidation)
}

type brokenStore struct{ aggregate.Store }

func (brokenStore) ListArticles(context.Context, string) ([]newsfeed.FetchResult, error) {
	return nil, &newsfeed.StorageError{Op: "list", Key: "Acme/", Err: errors.New("connection refused")}
}

func TestArticlesForCompanyTransportFailure(t *testing.T) {
	t.Parallel()

	reader, err := aggregate.New(brokenStore{})
	require.NoError(t, err)
	_, err = reader.ArticlesForCompany(context.Background(), "Acme", nil)
	var serr *newsfeed.StorageError
	require.ErrorAs(t, err, &serr)
	assert.NotErrorIs(t, err, newsfeed.ErrNotFound)
}
