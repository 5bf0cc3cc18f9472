// Package postgres implements a work poller and visit recorder backed by a
// Postgres table of candidate URLs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and polling behavior.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Lease pushes next_visit_after forward on claimed rows so they are not
	// polled again while in flight.
	Lease time.Duration
	// RevisitAfter schedules the next visit of a completed order that did
	// not set its own NextVisitAfter.
	RevisitAfter time.Duration
	// DomainDepthCoefficient and MaxDomainURLs damp large domains in SQL.
	DomainDepthCoefficient float64
	MaxDomainURLs          int
}

type pool interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store claims due URLs for the scheduler and records visit outcomes.
type Store struct {
	pool   pool
	cfg    Config
	logger *zap.Logger
}

var _ visit.WorkPoller = (*Store)(nil)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("poller.postgres.dsn is required")
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
	// Validate before dialing so a bad table name fails without a connection.
	if _, err := withDefaults(cfg); err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, cfg, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	cfg, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, cfg: cfg, logger: logger.Named("postgres")}, nil
}

func withDefaults(cfg Config) (Config, error) {
	if cfg.Table == "" {
		cfg.Table = "urls"
	}
	if !validTableName.MatchString(cfg.Table) {
		return cfg, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if cfg.RevisitAfter <= 0 {
		cfg.RevisitAfter = 24 * time.Hour
	}
	return cfg, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Poll claims up to max due rows. Rows are ranked per domain by priority;
// each rank below the top loses DomainDepthCoefficient priority and ranks
// past MaxDomainURLs are left for a later poll. Claimed rows are leased.
// Rows with unusable URLs or types are logged and skipped.
func (s *Store) Poll(ctx context.Context, max int) ([]*visit.Order, error) {
	perDomain := s.cfg.MaxDomainURLs
	if perDomain <= 0 {
		perDomain = math.MaxInt32
	}
	query := fmt.Sprintf(`
WITH ranked AS (
	SELECT id, priority,
		row_number() OVER (PARTITION BY domain ORDER BY priority DESC, id) AS hrank
	FROM %[1]s
	WHERE next_visit_after IS NULL OR next_visit_after <= now()
), limited AS (
	SELECT id, priority - $1 * (hrank - 1) AS adjusted
	FROM ranked
	WHERE hrank <= $2
	ORDER BY adjusted DESC
	LIMIT $3
)
UPDATE %[1]s AS u
SET next_visit_after = now() + make_interval(secs => $4)
FROM limited
WHERE u.id = limited.id
RETURNING u.id, u.url, u.type, limited.adjusted, u.last_visit`, s.cfg.Table)

	rows, err := s.pool.Query(ctx, query,
		s.cfg.DomainDepthCoefficient, perDomain, max, s.cfg.Lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("poll urls: %w", err)
	}
	defer rows.Close()

	var orders []*visit.Order
	for rows.Next() {
		var (
			id, rawURL, rawType string
			priority            float64
			lastVisit           *time.Time
		)
		if err := rows.Scan(&id, &rawURL, &rawType, &priority, &lastVisit); err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		u, err := visiturl.Normalize(rawURL)
		if err != nil {
			s.logger.Warn("skipping stored url", zap.String("id", id), zap.Error(err))
			continue
		}
		typ, err := visit.ParseType(rawType)
		if err != nil || typ == "" {
			s.logger.Warn("skipping stored url with bad type", zap.String("id", id), zap.String("type", rawType))
			continue
		}
		order := visit.NewOrder(u, typ, priority)
		order.ID = id
		if lastVisit != nil {
			order.LastVisit = *lastVisit
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url rows: %w", err)
	}
	return orders, nil
}

// RecordVisit stores the outcome of order. Orders created during processing
// (redirect hops) are inserted; known URLs are updated by hash key.
func (s *Store) RecordVisit(ctx context.Context, order *visit.Order) error {
	next := order.NextVisitAfter
	if next.IsZero() {
		base := order.LastVisit
		if base.IsZero() {
			base = time.Now().UTC()
		}
		next = base.Add(s.cfg.RevisitAfter)
	}
	var lastVisit *time.Time
	if !order.LastVisit.IsZero() {
		lastVisit = &order.LastVisit
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	domain,
	hash_key,
	type,
	priority,
	status,
	last_visit,
	next_visit_after,
	reason
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (hash_key) DO UPDATE SET
	status = EXCLUDED.status,
	last_visit = EXCLUDED.last_visit,
	next_visit_after = EXCLUDED.next_visit_after,
	reason = EXCLUDED.reason`, s.cfg.Table)

	args := []any{
		order.ID,
		order.URL.String(),
		order.URL.Domain(),
		order.URL.HashKey(),
		string(order.Type),
		order.Priority,
		order.Status,
		lastVisit,
		next,
		order.Reason,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	return nil
}
