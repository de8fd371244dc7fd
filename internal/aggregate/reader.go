// Package aggregate answers the read-side questions over stored results:
// which companies exist, which sources a company has, and every article
// for a company.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// Store is the object store surface the reader needs.
type Store interface {
	ListCompanies(ctx context.Context) ([]string, error)
	ListSources(ctx context.Context, company string) ([]string, error)
	ListArticles(ctx context.Context, company string) ([]newsfeed.FetchResult, error)
	Get(ctx context.Context, company, source string) (newsfeed.FetchResult, bool, error)
}

// Reader aggregates stored results.
type Reader struct {
	store Store
}

// New constructs a Reader.
func New(store Store) (*Reader, error) {
	if store == nil {
		return nil, errors.New("aggregate reader requires a store")
	}
	return &Reader{store: store}, nil
}

// Companies lists every company with at least one stored result.
func (r *Reader) Companies(ctx context.Context) ([]string, error) {
	companies, err := r.store.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return companies, nil
}

// Sources lists the display names of a company's sources. An unknown
// company yields an empty list.
func (r *Reader) Sources(ctx context.Context, company string) ([]string, error) {
	sources, err := r.store.ListSources(ctx, company)
	if err != nil {
		return nil, fmt.Errorf("list sources for %q: %w", company, err)
	}
	return sources, nil
}

// Article returns the stored result for one pair, or ErrNotFound.
func (r *Reader) Article(ctx context.Context, company, source string) (newsfeed.FetchResult, error) {
	item, err := newsfeed.NewWorkItem(company, source)
	if err != nil {
		return newsfeed.FetchResult{}, err
	}
	result, found, err := r.store.Get(ctx, item.Company, item.Source)
	if err != nil {
		return newsfeed.FetchResult{}, fmt.Errorf("get %s: %w", item, err)
	}
	if !found {
		return newsfeed.FetchResult{}, fmt.Errorf("no articles for %s: %w", item, newsfeed.ErrNotFound)
	}
	return result, nil
}

// ArticlesForCompany loads every stored result for company. The total counts
// all stored articles; limitPerSource, when set, only truncates the returned
// items. A company with no stored results is ErrNotFound, while stored
// results with zero articles are a valid answer.
func (r *Reader) ArticlesForCompany(ctx context.Context, company string, limitPerSource *int) (newsfeed.CompanyArticles, error) {
	if limitPerSource != nil && *limitPerSource < 0 {
		return newsfeed.CompanyArticles{}, newsfeed.Validationf("limit per source must not be negative")
	}
	results, err := r.store.ListArticles(ctx, company)
	if err != nil {
		return newsfeed.CompanyArticles{}, fmt.Errorf("list articles for %q: %w", company, err)
	}
	if len(results) == 0 {
		return newsfeed.CompanyArticles{}, fmt.Errorf("no articles for company %q: %w", company, newsfeed.ErrNotFound)
	}

	total := 0
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))
	items := make([]newsfeed.FetchResult, 0, len(results))
	for _, res := range results {
		total += len(res.Articles)
		if res.Source != "" {
			if _, ok := seen[res.Source]; !ok {
				seen[res.Source] = struct{}{}
				sources = append(sources, res.Source)
			}
		}
		if limitPerSource != nil && len(res.Articles) > *limitPerSource {
			res.Articles = append([]newsfeed.Article(nil), res.Articles[:*limitPerSource]...)
		}
		items = append(items, res)
	}
	sort.Strings(sources)

	return newsfeed.CompanyArticles{
		Company:                company,
		SourceCount:            len(sources),
		Sources:                sources,
		TotalArticlesAvailable: total,
		Items:                  items,
	}, nil
}
