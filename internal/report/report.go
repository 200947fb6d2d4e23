// Package report renders run summaries and aggregates over stored records.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/scout/internal/pipeline"
	"github.com/FranksOps/scout/internal/storage"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatNone Format = "none"
)

// ParseFormat validates s. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatHTML, FormatNone:
		return f, nil
	default:
		return "", fmt.Errorf("report: unknown format %q", s)
	}
}

// Summary aggregates stored records.
type Summary struct {
	Sites           int            `json:"sites"`
	WithText        int            `json:"with_text"`
	Errors          int            `json:"errors"`
	Detections      int            `json:"detections"`
	Runs            int            `json:"runs"`
	StatusCodes     map[int]int    `json:"status_codes"`
	DetectionsBySrc map[string]int `json:"detections_by_src"`
	TotalBytes      int64          `json:"total_bytes"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	Duration        time.Duration  `json:"duration"`
}

// GenerateSummary aggregates recs.
func GenerateSummary(recs []*storage.Record) Summary {
	s := Summary{
		StatusCodes:     make(map[int]int),
		DetectionsBySrc: make(map[string]int),
	}
	if len(recs) == 0 {
		return s
	}

	runs := make(map[string]struct{})
	s.StartTime = recs[0].CreatedAt
	s.EndTime = recs[0].CreatedAt

	for _, r := range recs {
		s.Sites++
		if r.Text != "" {
			s.WithText++
		}
		if r.Error != "" {
			s.Errors++
		}
		if r.DetectedBot {
			s.Detections++
			s.DetectionsBySrc[r.DetectionSrc]++
		}
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		if r.RunID != "" {
			runs[r.RunID] = struct{}{}
		}
		s.TotalBytes += int64(r.Bytes)

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	s.Runs = len(runs)
	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const summaryText = `Scout Store Summary
-------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Runs:          {{.Runs}}
Sites:         {{.Sites}} ({{.WithText}} with text)
Total Bytes:   {{.TotalBytes}} bytes
Errors:        {{.Errors}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Detections: {{.Detections}}
{{- range $src, $count := .DetectionsBySrc}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}
`

var summaryTextTmpl = texttemplate.Must(texttemplate.New("summary").Parse(summaryText))

// WriteText writes a human-readable store summary.
func WriteText(w io.Writer, s Summary) error {
	if err := summaryTextTmpl.Execute(w, s); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const summaryHTML = `<!DOCTYPE html>
<html>
<head>
<title>Scout Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Scout Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Runs}} runs)</p>
  <div class="card"><div>Sites</div><div class="val">{{.Sites}}</div></div>
  <div class="card"><div>With Text</div><div class="val">{{.WithText}}</div></div>
  <div class="card"><div>Errors</div><div class="val">{{.Errors}}</div></div>
  <div class="card"><div>Detections</div><div class="val" style="color: {{if gt .Detections 0}}red{{else}}green{{end}};">{{.Detections}}</div></div>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Detections By Source</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .DetectionsBySrc}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

var summaryHTMLTmpl = template.Must(template.New("summary").Parse(summaryHTML))

// WriteHTML writes the store summary as a standalone HTML page.
func WriteHTML(w io.Writer, s Summary) error {
	if err := summaryHTMLTmpl.Execute(w, s); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

// Write renders s in format f. FormatNone writes nothing.
func Write(w io.Writer, f Format, s Summary) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, s)
	case FormatHTML:
		return WriteHTML(w, s)
	case FormatNone:
		return nil
	default:
		return WriteText(w, s)
	}
}

const runText = `Scout Run {{.RunID}}
Suffix:        {{.Suffix}} ({{.Mode}} mode)
Time:          {{.Started.Format "2006-01-02 15:04:05"}} - {{.Finished.Format "2006-01-02 15:04:05"}}
Queries:       {{.Discovery.Queries}} ({{.Discovery.ProviderPages}} provider pages, {{.Discovery.FallbackSearches}} fallback searches)
Failovers:     {{.Discovery.Failovers}} ({{.Discovery.ExhaustedChains}} exhausted)
Found:         {{.Found}}{{if .Discovery.LimitReached}} (limit reached){{end}}
New:           {{.New}}
Written:       {{.Written}}
Empty:         {{.Empty}}
Blocked:       {{.Blocked}}
{{- if or .OutputErrors .StoreErrors .LedgerErrors}}
Write errors:  output {{.OutputErrors}}, store {{.StoreErrors}}, ledger {{.LedgerErrors}}
{{- end}}
{{- if .Interrupted}}
Interrupted:   yes
{{- end}}
`

var runTextTmpl = texttemplate.Must(texttemplate.New("run").Parse(runText))

// WriteRun renders a run summary. HTML is not offered for runs and falls
// back to text.
func WriteRun(w io.Writer, f Format, s pipeline.Summary) error {
	switch f {
	case FormatNone:
		return nil
	case FormatJSON:
		return WriteJSON(w, s)
	}
	if err := runTextTmpl.Execute(w, s); err != nil {
		return fmt.Errorf("report: render run: %w", err)
	}
	return nil
}
