package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/FranksOps/scout/internal/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ ledger.Ledger = (*Ledger)(nil)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS seen_domains (
	domain TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Ledger keeps the seen-domain set in Postgres, loaded fully at open.
type Ledger struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
	set  *ledger.Set
}

// OpenLedger connects to dsn, creates seen_domains if missing and loads it.
func OpenLedger(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := connect(ctx, dsn, ledgerSchema)
	if err != nil {
		return nil, err
	}

	set, err := loadSet(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Ledger{pool: pool, set: set}, nil
}

func loadSet(ctx context.Context, pool *pgxpool.Pool) (*ledger.Set, error) {
	rows, err := pool.Query(ctx, `SELECT domain FROM seen_domains`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load ledger: %w", err)
	}
	defer rows.Close()

	set := ledger.NewSet()
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		set.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load ledger: %w", err)
	}
	return set, nil
}

func (l *Ledger) Contains(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set.Has(domain)
}

func (l *Ledger) Append(ctx context.Context, domain string) error {
	if err := ledger.Validate(domain); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO seen_domains (domain) VALUES ($1) ON CONFLICT (domain) DO NOTHING`, domain,
	); err != nil {
		return fmt.Errorf("postgres: append %s: %w", domain, err)
	}
	l.set.Add(domain)
	return nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set.Len()
}

func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}
