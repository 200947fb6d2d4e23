package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/scout/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS site_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	bytes BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS site_records_url ON site_records(url);
`

// New creates a Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := connect(ctx, dsn, schema)
	if err != nil {
		return nil, err
	}
	return &postgresBackend{pool: pool}, nil
}

func connect(ctx context.Context, dsn, ddl string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	return pool, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *storage.Record) error {
	const q = `
	INSERT INTO site_records (
		id, run_id, url, status_code, content_type, text, bytes, duration_ms, detected_bot, detection_src, created_at, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := b.pool.Exec(ctx, q,
		rec.ID,
		rec.RunID,
		rec.URL,
		rec.StatusCode,
		rec.ContentType,
		rec.Text,
		rec.Bytes,
		rec.Duration.Milliseconds(),
		rec.DetectedBot,
		rec.DetectionSrc,
		rec.CreatedAt,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", rec.URL, err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	q := `SELECT id, run_id, url, status_code, content_type, text, bytes, duration_ms, detected_bot, detection_src, created_at, error FROM site_records WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.URL != "" {
		q += ` AND url = ` + arg(filter.URL)
	}
	if filter.RunID != "" {
		q += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.DetectedBot != nil {
		q += ` AND detected_bot = ` + arg(*filter.DetectedBot)
	}
	if filter.Since != nil {
		q += ` AND created_at >= ` + arg(*filter.Since)
	}

	q += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		q += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		q += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		var (
			r          storage.Record
			durationMs int64
			size       int64
		)
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.URL, &r.StatusCode, &r.ContentType, &r.Text, &size,
			&durationMs, &r.DetectedBot, &r.DetectionSrc, &r.CreatedAt, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		r.Bytes = int(size)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}

	return out, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
