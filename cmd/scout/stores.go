package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FranksOps/scout/internal/ledger"
	"github.com/FranksOps/scout/internal/storage"
	"github.com/FranksOps/scout/internal/storage/csvbackend"
	"github.com/FranksOps/scout/internal/storage/jsonbackend"
	"github.com/FranksOps/scout/internal/storage/postgres"
	"github.com/FranksOps/scout/internal/storage/sqlite"
)

const sqlitePrefix = "sqlite:"

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// openLedger picks a ledger backend from dsn: sqlite:PATH, a postgres URL,
// or otherwise a plain text file.
func openLedger(ctx context.Context, dsn string) (ledger.Ledger, error) {
	switch {
	case strings.HasPrefix(dsn, sqlitePrefix):
		l, err := sqlite.OpenLedger(ctx, strings.TrimPrefix(dsn, sqlitePrefix))
		if err != nil {
			return nil, err
		}
		return l, nil
	case isPostgres(dsn):
		l, err := postgres.OpenLedger(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		l, err := ledger.OpenFile(dsn)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// openStore picks a record store from dsn: sqlite:PATH, a postgres URL, or
// a .csv, .json, .jsonl or .ndjson file.
func openStore(ctx context.Context, dsn string) (storage.Backend, error) {
	switch {
	case strings.HasPrefix(dsn, sqlitePrefix):
		return sqlite.New(strings.TrimPrefix(dsn, sqlitePrefix))
	case isPostgres(dsn):
		return postgres.New(ctx, dsn)
	}

	switch strings.ToLower(filepath.Ext(dsn)) {
	case ".csv":
		return csvbackend.New(dsn)
	case ".json", ".jsonl", ".ndjson":
		return jsonbackend.New(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnsupportedStore, dsn)
	}
}
