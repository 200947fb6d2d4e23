package textsink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/scout/internal/storage"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeContent, false},
		{"content", ModeContent, false},
		{"LINKS", ModeLinks, false},
		{"link", ModeLinks, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLinkMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.txt")
	ctx := context.Background()

	s, err := Open(path, ModeLinks)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, u := range []string{"https://a.example", "https://b.example"} {
		if err := s.Save(ctx, &storage.Record{URL: u}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A second run appends.
	s, err = Open(path, ModeLinks)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s.Save(ctx, &storage.Record{URL: "https://c.example"})
	_ = s.Close()

	got, _ := os.ReadFile(path)
	want := "https://a.example\nhttps://b.example\nhttps://c.example\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestContentMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "text.txt")
	ctx := context.Background()

	s, err := Open(path, ModeContent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(ctx, &storage.Record{URL: "https://a.example", Text: "Hello\nWorld"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, &storage.Record{URL: "https://empty.example"}); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	_ = s.Close()

	got, _ := os.ReadFile(path)
	want := "--- URL: https://a.example\nHello\nWorld\n\n" + strings.Repeat("=", 80) + "\n\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestOpenFailure(t *testing.T) {
	if _, err := Open(t.TempDir(), ModeLinks); err == nil {
		t.Fatal("expected error opening a directory")
	}
}
