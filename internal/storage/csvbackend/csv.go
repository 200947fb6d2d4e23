package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/scout/internal/storage"
)

var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

var columns = []string{
	"id",
	"run_id",
	"url",
	"status_code",
	"content_type",
	"text",
	"bytes",
	"duration_ms",
	"detected_bot",
	"detection_src",
	"created_at",
	"error",
}

// New opens filePath for appending, writing the header row if the file is new.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: stat: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		_ = w.Write(columns)
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, rec *storage.Record) error {
	row := []string{
		rec.ID,
		rec.RunID,
		rec.URL,
		strconv.Itoa(rec.StatusCode),
		rec.ContentType,
		rec.Text,
		strconv.Itoa(rec.Bytes),
		strconv.FormatInt(rec.Duration.Milliseconds(), 10),
		strconv.FormatBool(rec.DetectedBot),
		rec.DetectionSrc,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.Error,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	w := csv.NewWriter(b.file)
	_ = w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csvbackend: save %s: %w", rec.URL, err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.Record{}, nil
		}
		return nil, fmt.Errorf("csvbackend: read header: %w", err)
	}

	var matched []*storage.Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: read: %w", err)
		}
		if len(row) != len(columns) {
			continue // malformed
		}

		rec := parseRow(row)
		if filter.Match(rec) {
			matched = append(matched, rec)
		}
	}

	// Rows are appended oldest first.
	slices.Reverse(matched)
	return filter.Window(matched), nil
}

func parseRow(row []string) *storage.Record {
	status, _ := strconv.Atoi(row[3])
	size, _ := strconv.Atoi(row[6])
	durationMs, _ := strconv.ParseInt(row[7], 10, 64)
	bot, _ := strconv.ParseBool(row[8])
	created, _ := time.Parse(time.RFC3339Nano, row[10])

	return &storage.Record{
		ID:           row[0],
		RunID:        row[1],
		URL:          row[2],
		StatusCode:   status,
		ContentType:  row[4],
		Text:         row[5],
		Bytes:        size,
		Duration:     time.Duration(durationMs) * time.Millisecond,
		DetectedBot:  bot,
		DetectionSrc: row[9],
		CreatedAt:    created,
		Error:        row[11],
	}
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
