package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/FranksOps/scout/internal/ledger"
)

var _ ledger.Ledger = (*Ledger)(nil)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS seen_domains (
	domain TEXT PRIMARY KEY,
	first_seen DATETIME NOT NULL
);
`

// Ledger is a seen-domain ledger stored in a SQLite table. The whole table
// is loaded at open, like the file ledger.
type Ledger struct {
	mu  sync.Mutex
	db  *sql.DB
	set *ledger.Set
}

// OpenLedger opens (creating if needed) the seen_domains table at dsn.
func OpenLedger(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := open(dsn, ledgerSchema)
	if err != nil {
		return nil, err
	}

	set, err := loadSet(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{db: db, set: set}, nil
}

func loadSet(ctx context.Context, db *sql.DB) (*ledger.Set, error) {
	rows, err := db.QueryContext(ctx, `SELECT domain FROM seen_domains`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load ledger: %w", err)
	}
	defer rows.Close()

	set := ledger.NewSet()
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("sqlite: scan ledger: %w", err)
		}
		set.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load ledger: %w", err)
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

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO seen_domains (domain, first_seen) VALUES (?, ?) ON CONFLICT(domain) DO NOTHING`,
		domain, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append %s: %w", domain, err)
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
	return l.db.Close()
}
