// Package postgres persists extracted product records to Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// DefaultTable receives records when Config.Table is empty.
const DefaultTable = "product_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ProductStore writes product records, one row per record, keyed by job
// and position so a retried job does not duplicate rows.
type ProductStore struct {
	pool  dbPool
	table string
}

// NewProductStore connects to Postgres using cfg.
func NewProductStore(ctx context.Context, cfg Config) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewProductStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewProductStoreWithPool constructs a store from an existing pool.
func NewProductStoreWithPool(pool dbPool, table string) (*ProductStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProductStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records table if it does not exist.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id         TEXT        NOT NULL,
	position       INTEGER     NOT NULL,
	search_keyword TEXT        NOT NULL,
	title          TEXT        NOT NULL,
	url            TEXT,
	price          TEXT,
	rating         DOUBLE PRECISION,
	reviews_count  INTEGER,
	image_url      TEXT,
	asin           CHAR(10),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, position)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// StoreRecords inserts records in one transaction.
func (s *ProductStore) StoreRecords(ctx context.Context, jobID string, records []crawler.ProductRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("product store is not configured")
	}
	if jobID == "" {
		return errors.New("job id is required")
	}
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	position,
	search_keyword,
	title,
	url,
	price,
	rating,
	reviews_count,
	image_url,
	asin
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (job_id, position) DO NOTHING`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	for i, rec := range records {
		_, err := tx.Exec(ctx, query,
			jobID,
			i,
			rec.SearchKeyword,
			rec.Title,
			rec.URL,
			rec.Price,
			rec.Rating,
			rec.ReviewsCount,
			rec.ImageURL,
			rec.ASIN,
		)
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("insert record %d: %w (rollback: %v)", i, err, rbErr)
			}
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}
