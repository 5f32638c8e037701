package review

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umeshshetty/peoples-agent/internal/core/model"
)

var tableRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PGStore keeps review cards in Postgres.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGStore connects, checks the connection and creates the table if needed.
func NewPGStore(ctx context.Context, dsn, table string, maxConns int32) (*PGStore, error) {
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid review table name %q", table)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PGStore{pool: pool, table: table}
	for _, stmt := range s.schemaSQL() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return s, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Get(ctx context.Context, thoughtID string) (model.ReviewCard, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE thought_id = $1`, columns, s.table), thoughtID)
	c, err := scanCard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReviewCard{}, notFound(thoughtID)
	}
	if err != nil {
		return model.ReviewCard{}, fmt.Errorf("failed to load review card %s: %w", thoughtID, err)
	}
	return c, nil
}

func (s *PGStore) Insert(ctx context.Context, card model.ReviewCard) (model.ReviewCard, error) {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (thought_id, easiness, repetitions, interval_days, next_due, last_reviewed, preview)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (thought_id) DO NOTHING`, s.table),
		card.ThoughtID, card.Easiness, card.Repetitions, card.IntervalDays, card.NextDue, card.LastReviewed, card.Preview)
	if err != nil {
		return model.ReviewCard{}, fmt.Errorf("failed to insert review card %s: %w", card.ThoughtID, err)
	}
	return s.Get(ctx, card.ThoughtID)
}

func (s *PGStore) Update(ctx context.Context, card model.ReviewCard) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET easiness = $2, repetitions = $3, interval_days = $4, next_due = $5, last_reviewed = $6
		WHERE thought_id = $1`, s.table),
		card.ThoughtID, card.Easiness, card.Repetitions, card.IntervalDays, card.NextDue, card.LastReviewed)
	if err != nil {
		return fmt.Errorf("failed to update review card %s: %w", card.ThoughtID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(card.ThoughtID)
	}
	return nil
}

func (s *PGStore) Due(ctx context.Context, now time.Time, limit int) ([]model.ReviewCard, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE next_due <= $1 ORDER BY next_due, thought_id`, columns, s.table)
	args := []any{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards: %w", err)
	}
	defer rows.Close()

	var out []model.ReviewCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE next_due <= $1`, s.table), now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards: %w", err)
	}
	return n, nil
}

const columns = `thought_id, easiness, repetitions, interval_days, next_due, last_reviewed, preview`

func scanCard(row pgx.Row) (model.ReviewCard, error) {
	var c model.ReviewCard
	err := row.Scan(&c.ThoughtID, &c.Easiness, &c.Repetitions, &c.IntervalDays, &c.NextDue, &c.LastReviewed, &c.Preview)
	return c, err
}

func (s *PGStore) schemaSQL() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
		thought_id TEXT PRIMARY KEY,
		easiness DOUBLE PRECISION NOT NULL,
		repetitions INTEGER NOT NULL DEFAULT 0,
		interval_days INTEGER NOT NULL DEFAULT 0,
		next_due TIMESTAMPTZ NOT NULL,
		last_reviewed TIMESTAMPTZ,
		preview TEXT NOT NULL DEFAULT ''
	)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_next_due_idx ON %[1]s (next_due)`, s.table),
	}
}
