package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/scout/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS site_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_type TEXT,
	text TEXT,
	bytes INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT,
	created_at DATETIME NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS site_records_url ON site_records(url);
`

// New creates a SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := open(dsn, schema)
	if err != nil {
		return nil, err
	}
	return &sqliteBackend{db: db}, nil
}

func open(dsn, ddl string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; the run is serial anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return db, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rec *storage.Record) error {
	const q = `
	INSERT INTO site_records (
		id, run_id, url, status_code, content_type, text, bytes, duration_ms, detected_bot, detection_src, created_at, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := b.db.ExecContext(ctx, q,
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
		return fmt.Errorf("sqlite: save %s: %w", rec.URL, err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	q := `SELECT id, run_id, url, status_code, content_type, text, bytes, duration_ms, detected_bot, detection_src, created_at, error FROM site_records WHERE 1=1`
	args := []any{}

	if filter.URL != "" {
		q += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.RunID != "" {
		q += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.DetectedBot != nil {
		q += ` AND detected_bot = ?`
		args = append(args, *filter.DetectedBot)
	}
	if filter.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	q += ` ORDER BY created_at DESC`

	// SQLite requires LIMIT whenever OFFSET is used; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		var (
			r          storage.Record
			durationMs int64
			ctype      sql.NullString
			text       sql.NullString
			src        sql.NullString
			errText    sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.URL, &r.StatusCode, &ctype, &text, &r.Bytes,
			&durationMs, &r.DetectedBot, &src, &r.CreatedAt, &errText,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		r.ContentType = ctype.String
		r.Text = text.String
		r.DetectionSrc = src.String
		r.Error = errText.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}

	return out, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
