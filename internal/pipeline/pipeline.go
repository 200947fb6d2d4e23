// Package pipeline runs one scout pass: discover sites, drop the ones the
// ledger already holds, then fetch, write and record each new site in turn.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/FranksOps/scout/internal/discovery"
	"github.com/FranksOps/scout/internal/ledger"
	"github.com/FranksOps/scout/internal/metrics"
	"github.com/FranksOps/scout/internal/storage"
	"github.com/FranksOps/scout/internal/storage/textsink"
	"github.com/FranksOps/scout/pkg/ratelimit"
	"github.com/google/uuid"
)

// Discoverer produces the found set for a suffix.
type Discoverer interface {
	Discover(ctx context.Context, suffix string) (discovery.Result, error)
}

// Extractor fetches one site and fills in its text.
type Extractor interface {
	Record(ctx context.Context, targetURL string) (*storage.Record, error)
}

// Pipeline wires the stages of a run. Output and Ledger must be open for
// writing before Run is called.
type Pipeline struct {
	Discoverer Discoverer
	Extractor  Extractor
	Ledger     ledger.Ledger
	Output     storage.Sink
	// Store optionally receives every processed record.
	Store   storage.Sink
	Mode    textsink.Mode
	Limit   int
	Delay   time.Duration
	Sleeper ratelimit.Sleeper
	Logger  *slog.Logger
	RunID   string
}

// Summary describes a finished run.
type Summary struct {
	RunID        string          `json:"run_id"`
	Suffix       string          `json:"suffix"`
	Mode         string          `json:"mode"`
	Started      time.Time       `json:"started"`
	Finished     time.Time       `json:"finished"`
	Discovery    discovery.Stats `json:"discovery"`
	Found        int             `json:"found"`
	New          int             `json:"new"`
	Written      int             `json:"written"`
	Empty        int             `json:"empty"`
	Blocked      int             `json:"blocked"`
	OutputErrors int             `json:"output_errors"`
	StoreErrors  int             `json:"store_errors"`
	LedgerErrors int             `json:"ledger_errors"`
	Interrupted  bool            `json:"interrupted"`
	Targets      []string        `json:"targets,omitempty"`
}

var errMissing = errors.New("pipeline: discoverer, ledger and output are required")

// Run executes the pass. Per-site failures are logged and counted; the
// returned error is the context's if the run was interrupted.
func (p *Pipeline) Run(ctx context.Context, suffix string) (Summary, error) {
	if p.Discoverer == nil || p.Ledger == nil || p.Output == nil {
		return Summary{}, errMissing
	}
	if p.Mode == "" {
		p.Mode = textsink.ModeContent
	}
	if p.Mode == textsink.ModeContent && p.Extractor == nil {
		return Summary{}, errors.New("pipeline: content mode needs an extractor")
	}
	if p.Sleeper == nil {
		p.Sleeper = ratelimit.Pause
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}

	sum := Summary{RunID: p.RunID, Suffix: suffix, Mode: string(p.Mode), Started: time.Now().UTC()}
	p.Logger.Info("run started", "run_id", p.RunID, "suffix", suffix, "mode", p.Mode, "limit", p.Limit, "ledger_size", p.Ledger.Len())

	res, err := p.Discoverer.Discover(ctx, suffix)
	sum.Discovery = res.Stats
	sum.Found = len(res.Found)
	if err != nil {
		sum.Interrupted = true
		sum.Finished = time.Now().UTC()
		return sum, err
	}

	targets := ledger.NewTargets(res.Found, p.Ledger, p.Limit)
	sum.New = len(targets)
	sum.Targets = targets
	if len(targets) == 0 {
		p.Logger.Info("no new targets found", "found", sum.Found)
		sum.Finished = time.Now().UTC()
		return sum, nil
	}

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			sum.Interrupted = true
			sum.Finished = time.Now().UTC()
			return sum, err
		}
		p.Logger.Info("processing target", "n", i+1, "of", len(targets), "url", target)

		rec, err := p.process(ctx, target)
		if err != nil {
			sum.Interrupted = true
			sum.Finished = time.Now().UTC()
			return sum, err
		}
		p.record(ctx, rec, &sum)

		if i < len(targets)-1 {
			if err := p.Sleeper.Sleep(ctx, p.Delay); err != nil {
				sum.Interrupted = true
				sum.Finished = time.Now().UTC()
				return sum, err
			}
		}
	}

	sum.Finished = time.Now().UTC()
	p.Logger.Info("run finished", "run_id", p.RunID, "new", sum.New, "written", sum.Written, "empty", sum.Empty)
	return sum, nil
}

func (p *Pipeline) process(ctx context.Context, target string) (*storage.Record, error) {
	if p.Mode == textsink.ModeLinks {
		return &storage.Record{URL: target}, nil
	}

	rec, err := p.Extractor.Record(ctx, target)
	if err != nil {
		return nil, err
	}
	metrics.RecordFetch(target, rec)
	return rec, nil
}

// record writes rec to the output and store, then appends its URL to the
// ledger. The ledger append happens even when no text was extracted.
func (p *Pipeline) record(ctx context.Context, rec *storage.Record, sum *Summary) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.RunID = p.RunID

	if rec.DetectedBot {
		sum.Blocked++
	}

	if p.Mode == textsink.ModeContent && rec.Text == "" {
		sum.Empty++
		p.Logger.Warn("no text extracted", "url", rec.URL, "status", rec.StatusCode, "err", rec.Error)
	} else if err := p.Output.Save(ctx, rec); err != nil {
		sum.OutputErrors++
		p.Logger.Error("write output failed", "url", rec.URL, "err", err)
	} else {
		sum.Written++
	}

	if p.Store != nil {
		if err := p.Store.Save(ctx, rec); err != nil {
			sum.StoreErrors++
			p.Logger.Error("store record failed", "url", rec.URL, "err", err)
		}
	}

	if err := p.Ledger.Append(ctx, rec.URL); err != nil {
		sum.LedgerErrors++
		p.Logger.Error("ledger append failed", "url", rec.URL, "err", err)
	}
}
