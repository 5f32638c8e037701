package vector

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Embedding is a pgvector value in its text form: [0.1,0.2,0.3].
type Embedding []float32

func (v *Embedding) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}

	var s string
	switch val := src.(type) {
	case []byte:
		s = string(val)
	case string:
		s = val
	default:
		return fmt.Errorf("cannot scan %T into Embedding", src)
	}

	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		*v = nil
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("failed to parse vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

func (v Embedding) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

var tableRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PGIndex stores vectors in a pgvector column and ranks by cosine distance.
type PGIndex struct {
	db    *sqlx.DB
	table string
}

type pgRow struct {
	ID       string  `db:"id"`
	Score    float64 `db:"score"`
	Metadata []byte  `db:"metadata"`
}

// NewPGIndex opens the database and ensures the table exists. dims of 0 leaves
// the column unconstrained.
func NewPGIndex(ctx context.Context, dsn, table string, dims int) (*PGIndex, error) {
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid vector table name %q", table)
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	idx := &PGIndex{db: db, table: table}
	if err := idx.migrate(ctx, dims); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PGIndex) migrate(ctx context.Context, dims int) error {
	col := "vector"
	if dims > 0 {
		col = fmt.Sprintf("vector(%d)", dims)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding %s NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.table, col),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata)`, p.table, p.table),
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", p.table, err)
		}
	}
	return nil
}

func (p *PGIndex) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	md, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = p.db.ExecContext(ctx, p.upsertSQL(), id, Embedding(vec), md)
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", id, err)
	}
	return nil
}

func (p *PGIndex) Query(ctx context.Context, vec []float32, k int, filter Filter) ([]Match, error) {
	fd, err := json.Marshal(metadataOrEmpty(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}
	var rows []pgRow
	if err := p.db.SelectContext(ctx, &rows, p.querySQL(), Embedding(vec), fd, k); err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		var md map[string]any
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &md); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", r.ID, err)
			}
		}
		out = append(out, Match{ID: r.ID, Score: r.Score, Metadata: md})
	}
	return out, nil
}

func (p *PGIndex) Close() error {
	return p.db.Close()
}

func (p *PGIndex) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`, p.table)
}

func (p *PGIndex) querySQL() string {
	return fmt.Sprintf(`SELECT id, 1 - (embedding <=> $1) AS score, metadata
		FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1
		LIMIT $3`, p.table)
}

func metadataOrEmpty[M ~map[string]any](m M) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
