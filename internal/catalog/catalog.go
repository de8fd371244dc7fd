// Package catalog stores which companies are tracked and from which sources,
// in Postgres.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the catalog uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store reads and seeds the catalog.
type Store struct {
	pool   pool
	logger *zap.Logger
}

// SeedStats counts rows created by Seed.
type SeedStats struct {
	CompaniesCreated int `json:"companies_created"`
	SourcesCreated   int `json:"sources_created"`
}

// Connect opens a pool for cfg.DSN.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("catalog.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, logger)
}

// NewWithPool wraps an existing pool.
func NewWithPool(p pool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, logger: logger.Named("catalog")}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS sources (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS company_source (
	company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	source_id  BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	PRIMARY KEY (company_id, source_id)
)`,
}

// Migrate creates the catalog tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}
	return nil
}

const listQuery = `
SELECT c.name, s.name
FROM companies c
LEFT JOIN company_source cs ON cs.company_id = c.id
LEFT JOIN sources s ON s.id = cs.source_id
ORDER BY c.name, s.name`

// ListCompaniesWithSources returns every company ordered by name, each with
// its sources ordered by name. Companies without sources are included.
func (s *Store) ListCompaniesWithSources(ctx context.Context) ([]newsfeed.CompanySources, error) {
	rows, err := s.pool.Query(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var out []newsfeed.CompanySources
	for rows.Next() {
		var company string
		var source *string
		if err := rows.Scan(&company, &source); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Company != company {
			out = append(out, newsfeed.CompanySources{Company: company, Sources: []string{}})
		}
		if source != nil {
			last := &out[len(out)-1]
			last.Sources = append(last.Sources, *source)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}

const (
	upsertCompany = `
WITH ins AS (
	INSERT INTO companies (name) VALUES ($1)
	ON CONFLICT (name) DO NOTHING
	RETURNING id
)
SELECT id, true FROM ins
UNION ALL
SELECT id, false FROM companies WHERE name = $1
LIMIT 1`
	upsertSource = `
WITH ins AS (
	INSERT INTO sources (name) VALUES ($1)
	ON CONFLICT (name) DO NOTHING
	RETURNING id
)
SELECT id, true FROM ins
UNION ALL
SELECT id, false FROM sources WHERE name = $1
LIMIT 1`
	linkSource = `
INSERT INTO company_source (company_id, source_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`
)

// Seed creates missing companies, sources, and associations in a single
// transaction. Running it twice with the same entries creates nothing new.
func (s *Store) Seed(ctx context.Context, entries []newsfeed.CompanySources) (SeedStats, error) {
	clean, err := normalizeEntries(entries)
	if err != nil {
		return SeedStats{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SeedStats{}, fmt.Errorf("begin seed: %w", err)
	}
	stats, err := seedTx(ctx, tx, clean)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("seed rollback failed", zap.Error(rbErr))
		}
		return SeedStats{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return SeedStats{}, fmt.Errorf("commit seed: %w", err)
	}
	s.logger.Info("catalog seeded",
		zap.Int("companies_created", stats.CompaniesCreated),
		zap.Int("sources_created", stats.SourcesCreated),
	)
	return stats, nil
}

func seedTx(ctx context.Context, tx pgx.Tx, entries []newsfeed.CompanySources) (SeedStats, error) {
	var stats SeedStats
	for _, entry := range entries {
		companyID, created, err := upsertName(ctx, tx, upsertCompany, entry.Company)
		if err != nil {
			return stats, fmt.Errorf("upsert company %q: %w", entry.Company, err)
		}
		if created {
			stats.CompaniesCreated++
		}
		for _, source := range entry.Sources {
			sourceID, created, err := upsertName(ctx, tx, upsertSource, source)
			if err != nil {
				return stats, fmt.Errorf("upsert source %q: %w", source, err)
			}
			if created {
				stats.SourcesCreated++
			}
			if _, err := tx.Exec(ctx, linkSource, companyID, sourceID); err != nil {
				return stats, fmt.Errorf("link %q to %q: %w", entry.Company, source, err)
			}
		}
	}
	return stats, nil
}

func upsertName(ctx context.Context, tx pgx.Tx, query, name string) (int64, bool, error) {
	var id int64
	var created bool
	if err := tx.QueryRow(ctx, query, name).Scan(&id, &created); err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// normalizeEntries trims names, drops duplicate sources within an entry, and
// rejects blank companies or sources.
func normalizeEntries(entries []newsfeed.CompanySources) ([]newsfeed.CompanySources, error) {
	out := make([]newsfeed.CompanySources, 0, len(entries))
	for i, entry := range entries {
		company := strings.TrimSpace(entry.Company)
		if company == "" {
			return nil, newsfeed.Validationf("entry %d: company is required", i)
		}
		seen := make(map[string]struct{}, len(entry.Sources))
		sources := make([]string, 0, len(entry.Sources))
		for _, raw := range entry.Sources {
			source := strings.TrimSpace(raw)
			if source == "" {
				return nil, newsfeed.Validationf("entry %d (%q): blank source", i, company)
			}
			if _, dup := seen[source]; dup {
				continue
			}
			seen[source] = struct{}{}
			sources = append(sources, source)
		}
		out = append(out, newsfeed.CompanySources{Company: company, Sources: sources})
	}
	return out, nil
}
