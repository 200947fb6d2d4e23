package csvbackend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/scout/internal/storage"
)

func TestCSVBackend(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "scout.csv")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec1 := &storage.Record{
		ID:         "csv1",
		RunID:      "run-a",
		URL:        "https://one.example.test",
		StatusCode: 200,
		Text:       "line one\nline two, with comma",
		Bytes:      512,
		Duration:   10 * time.Millisecond,
		CreatedAt:  now.Add(-2 * time.Hour),
	}
	rec2 := &storage.Record{
		ID:           "csv2",
		RunID:        "run-b",
		URL:          "https://two.example.test",
		StatusCode:   403,
		Duration:     20 * time.Millisecond,
		DetectedBot:  true,
		DetectionSrc: "Cloudflare",
		CreatedAt:    now.Add(-1 * time.Hour),
	}

	for _, r := range []*storage.Record{rec1, rec2} {
		if err := b.Save(ctx, r); err != nil {
			t.Fatalf("Failed to save %s: %v", r.ID, err)
		}
	}

	byURL, err := b.Query(ctx, storage.Filter{URL: "https://one.example.test"})
	if err != nil {
		t.Fatalf("Failed to query by URL: %v", err)
	}
	if len(byURL) != 1 {
		t.Fatalf("Expected 1 result for URL filter, got %d", len(byURL))
	}
	if byURL[0].Text != rec1.Text {
		t.Errorf("multi-line text not preserved: %q", byURL[0].Text)
	}
	if !byURL[0].CreatedAt.Equal(rec1.CreatedAt) {
		t.Errorf("Expected CreatedAt %v, got %v", rec1.CreatedAt, byURL[0].CreatedAt)
	}

	boolTrue := true
	bots, err := b.Query(ctx, storage.Filter{DetectedBot: &boolTrue})
	if err != nil {
		t.Fatalf("Failed to query by DetectedBot: %v", err)
	}
	if len(bots) != 1 || bots[0].DetectionSrc != "Cloudflare" {
		t.Errorf("unexpected bot results: %v", bots)
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to query all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "csv2" {
		t.Errorf("expected newest first, got %v", all)
	}

	limited, err := b.Query(ctx, storage.Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Failed to query with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "csv1" {
		t.Errorf("unexpected window: %v", limited)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening must not write a second header.
	b2, err := New(filePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()
	again, err := b2.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("expected 2 records after reopen, got %d", len(again))
	}
}
