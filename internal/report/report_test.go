package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/scout/internal/discovery"
	"github.com/FranksOps/scout/internal/pipeline"
	"github.com/FranksOps/scout/internal/storage"
)

func sampleRecords(now time.Time) []*storage.Record {
	return []*storage.Record{
		{RunID: "r1", StatusCode: 200, Text: "hello", Bytes: 3, CreatedAt: now},
		{RunID: "r1", StatusCode: 403, Bytes: 4, CreatedAt: now.Add(time.Second), DetectedBot: true, DetectionSrc: "Cloudflare", Error: "unexpected status 403"},
		{RunID: "r2", CreatedAt: now.Add(2 * time.Second), Error: "timeout"},
	}
}

func TestGenerateSummary(t *testing.T) {
	now := time.Now()
	s := GenerateSummary(sampleRecords(now))

	if s.Sites != 3 || s.WithText != 1 || s.Errors != 2 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Detections != 1 || s.DetectionsBySrc["Cloudflare"] != 1 {
		t.Errorf("unexpected detections %+v", s)
	}
	if s.StatusCodes[200] != 1 || s.StatusCodes[403] != 1 || len(s.StatusCodes) != 2 {
		t.Errorf("unexpected status codes %v", s.StatusCodes)
	}
	if s.Runs != 2 || s.TotalBytes != 7 {
		t.Errorf("runs %d bytes %d", s.Runs, s.TotalBytes)
	}
	if s.Duration != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", s.Duration)
	}

	empty := GenerateSummary(nil)
	if empty.Sites != 0 || empty.StatusCodes == nil {
		t.Errorf("unexpected empty summary %+v", empty)
	}
}

func TestWriteFormats(t *testing.T) {
	s := GenerateSummary(sampleRecords(time.Now()))

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatText, []string{"Scout Store Summary", "Sites:         3 (1 with text)", "Cloudflare: 1"}},
		{FormatHTML, []string{"<title>Scout Report</title>", "<td>Cloudflare</td><td>1</td>", "color: red"}},
		{FormatJSON, []string{`"sites": 3`, `"Cloudflare": 1`}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, tt.format, s); err != nil {
				t.Fatalf("Write: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}

	var buf bytes.Buffer
	_ = Write(&buf, FormatNone, s)
	if buf.Len() != 0 {
		t.Errorf("none format wrote %q", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "JSON": FormatJSON, "html": FormatHTML, "none": FormatNone} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestWriteRun(t *testing.T) {
	now := time.Now().UTC()
	sum := pipeline.Summary{
		RunID:     "run-42",
		Suffix:    "or.id",
		Mode:      "content",
		Started:   now,
		Finished:  now.Add(time.Minute),
		Discovery: discovery.Stats{Queries: 5, ProviderPages: 7, Failovers: 1, LimitReached: true},
		Found:     30,
		New:       12,
		Written:   10,
		Empty:     2,
	}

	var buf bytes.Buffer
	if err := WriteRun(&buf, FormatText, sum); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	out := buf.String()
	for _, w := range []string{"Scout Run run-42", "or.id (content mode)", "Found:         30 (limit reached)", "Written:       10"} {
		if !strings.Contains(out, w) {
			t.Errorf("missing %q in:\n%s", w, out)
		}
	}
	if strings.Contains(out, "Interrupted") || strings.Contains(out, "Write errors") {
		t.Errorf("unexpected optional lines:\n%s", out)
	}

	buf.Reset()
	if err := WriteRun(&buf, FormatJSON, sum); err != nil {
		t.Fatalf("WriteRun json: %v", err)
	}
	var decoded pipeline.Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RunID != "run-42" || decoded.Discovery.Queries != 5 {
		t.Errorf("unexpected decoded summary %+v", decoded)
	}
}
