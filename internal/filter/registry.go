package filter

import "fmt"

// Registry resolves filter names to constructors. It is the single source
// of truth for "known filter names" that routing config validation checks
// against.
type Registry struct {
	factories map[string]func() Filter
}

// NewRegistry builds a registry preloaded with every concrete filter this
// repo ships. Callers may register additional
// filters before validating config.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Filter)}
	r.Register("already-processed", func() Filter { return alreadyProcessedFilter{} })
	r.Register("daily-loss-guard", func() Filter { return dailyLossGuardFilter{} })
	r.Register("max-concurrent-cycles", func() Filter { return maxConcurrentCyclesFilter{} })
	r.Register("min-interval", func() Filter { return minIntervalFilter{} })
	r.Register("daily-trade-cap", func() Filter { return dailyTradeCapFilter{} })
	r.Register("trading-hours", func() Filter { return tradingHoursFilter{} })
	r.Register("martingale-base-multiple", func() Filter { return martingaleBaseMultipleFilter{} })
	r.Register("grid-cluster", func() Filter { return gridClusterFilter{} })
	return r
}

// Register adds or replaces a named filter constructor.
func (r *Registry) Register(name string, factory func() Filter) {
	r.factories[name] = factory
}

// Known reports whether name is a registered filter.
func (r *Registry) Known(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Build resolves a list of names into a Pipeline, in order. It returns an
// error naming the first unknown filter encountered.
func (r *Registry) Build(names []string) (*Pipeline, error) {
	filters := make([]Filter, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("filter: unknown filter %q", name)
		}
		filters = append(filters, factory())
	}
	return NewPipeline(filters), nil
}
