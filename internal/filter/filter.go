// Package filter implements the ordered, named predicate pipeline a
// candidate trade must pass before a copy worker opens it. New
// filters register themselves by name; a route references filters by name
// and unknown names fail routing-config validation.
package filter

import "github.com/copytrade/router/internal/domain"

// Candidate is the trade a route is about to mirror.
type Candidate struct {
	Position domain.Position
}

// State is the read-only route state snapshot filters evaluate against.
type State struct {
	Rule             domain.RuleSet
	DailyTrades      int
	DailyLoss        float64
	LastTradeEpochMs int64
	NowMs            int64
	ActiveCycles     int
	SourcePositions  []domain.Position
	ProcessedIDs     map[string]struct{}
}

// Verdict is the outcome of evaluating one filter or a whole pipeline.
type Verdict struct {
	Accept  bool
	Reasons []string
}

// Filter is a pure predicate over (candidate, state). It must not perform
// I/O beyond reading the already-resolved State it's given.
type Filter interface {
	Name() string
	Evaluate(c Candidate, s State) (accept bool, reason string)
}

// Pipeline evaluates an ordered list of named filters.
type Pipeline struct {
	filters []Filter
}

// NewPipeline builds a pipeline from filters looked up by name, in the order
// given. Unknown names are a config-validation error, caught by Registry
// before a Pipeline is ever built, so NewPipeline assumes every name already
// resolved.
func NewPipeline(filters []Filter) *Pipeline {
	return &Pipeline{filters: filters}
}

// Evaluate runs the pipeline. In the default (non-trace) mode it
// short-circuits on the first rejection, matching the decision the worker
// actually needs. In trace mode it runs every filter and collects every
// rejection reason, for route-level observability logging.
func (p *Pipeline) Evaluate(c Candidate, s State, trace bool) Verdict {
	var reasons []string
	accept := true
	for _, f := range p.filters {
		ok, reason := f.Evaluate(c, s)
		if ok {
			continue
		}
		accept = false
		reasons = append(reasons, f.Name()+": "+reason)
		if !trace {
			break
		}
	}
	return Verdict{Accept: accept, Reasons: reasons}
}
