package serp

import (
	"context"
	"time"
)

// scriptedProvider answers pages from a per-credential script keyed by
// credential key, and records every request.
type scriptedProvider struct {
	script map[string][]PageResult
	calls  []PageRequest
}

func (p *scriptedProvider) Page(_ context.Context, req PageRequest) PageResult {
	p.calls = append(p.calls, req)
	queue := p.script[req.Credential.Key]
	if len(queue) == 0 {
		return PageResult{Outcome: OutcomeEmpty}
	}
	res := queue[0]
	p.script[req.Credential.Key] = queue[1:]
	return res
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}
