// Package worker implements the copy worker: one instance per
// enabled route, owning that route's runtime state, its subscription to the
// position monitor, and its pending-exit retry loop. Event handling within a
// single worker is single-threaded and cooperative — every handler for a
// given route runs to completion before the next one begins — so the state
// below is only ever mutated from the Run goroutine. Readers outside that
// goroutine (the global supervisor, the performance monitor) only ever see a
// published Snapshot, never the live maps.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/filter"
	"github.com/copytrade/router/internal/monitor"
	"github.com/copytrade/router/internal/notify"
	"github.com/copytrade/router/internal/pool"
	"github.com/copytrade/router/internal/sizer"
	"github.com/copytrade/router/internal/store"
)

// Clock abstracts time for deterministic day-roll and retry-loop tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Snapshot is the lock-free, read-only view of a worker's state exposed to
// the global supervisor and the performance monitor.
type Snapshot struct {
	RouteID           string
	Enabled           bool
	Trades            int
	DailyLoss         float64
	Positions         int
	ActiveCycles      int
	LastTradeEpochMs  int64
	LastHeartbeat     time.Time
	ConsecutiveLosses int
	LastSlippagePips  float64
	Wins              int
	Losses            int
	TotalProfit       float64
	TotalLoss         float64
}

// Worker owns one route's runtime state machine.
type Worker struct {
	route    domain.Route
	rule     domain.RuleSet
	source   domain.Account
	dest     domain.Account
	rc       notify.RouteContext
	// limits overrides the per-symbol broker defaults when set (LotStep > 0).
	limits   sizer.Limits
	retryInt time.Duration

	poolClient *pool.Client
	st         store.Store
	notifier   *notify.Notifier
	pipeline   *filter.Pipeline
	sz         *sizer.Sizer
	src        monitor.Source
	clock      Clock
	log        *slog.Logger

	// Mutated only from Run's goroutine.
	sourcePositions   map[string]domain.Position
	processedTradeIds map[string]struct{}
	// pendingCloses holds closes whose mapping lookup or exit-queue write hit
	// a store outage, keyed by source position id. Held in memory only —
	// lost on restart — and retried every tick until the store recovers.
	pendingCloses     map[string]domain.CloseInfo
	dayBucket         string
	tradesToday       int
	dailyLoss         float64
	lastTradeEpochMs  int64
	activeCycles      int
	consecutiveLosses int
	lastSlippagePips  float64
	wins              int
	losses            int
	totalProfit       float64
	totalLoss         float64

	snapshot atomic.Pointer[Snapshot]
}

// Config bundles everything a Worker needs beyond the route/rule-set/account
// triple, so New's signature stays readable.
type Config struct {
	Route      domain.Route
	Rule       domain.RuleSet
	Source     domain.Account
	Dest       domain.Account
	Limits     sizer.Limits
	PoolClient *pool.Client
	Store      store.Store
	Notifier   *notify.Notifier
	Pipeline   *filter.Pipeline
	Sizer      *sizer.Sizer
	EventSrc   monitor.Source
	// RetryInterval is how often the pending-exit retry loop runs; defaults
	// to 60s when zero.
	RetryInterval time.Duration
	Clock         Clock
	Log           *slog.Logger
}

// New builds a Worker for one enabled route.
func New(cfg Config) *Worker {
	retryInt := cfg.RetryInterval
	if retryInt <= 0 {
		retryInt = 60 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	w := &Worker{
		route:    cfg.Route,
		rule:     cfg.Rule,
		source:   cfg.Source,
		dest:     cfg.Dest,
		limits:   cfg.Limits,
		retryInt: retryInt,

		poolClient: cfg.PoolClient,
		st:         cfg.Store,
		notifier:   cfg.Notifier,
		pipeline:   cfg.Pipeline,
		sz:         cfg.Sizer,
		src:        cfg.EventSrc,
		clock:      clock,
		log: cfg.Log.With(
			slog.String("component", "worker"),
			slog.String("route", cfg.Route.ID),
		),

		sourcePositions:   make(map[string]domain.Position),
		processedTradeIds: make(map[string]struct{}),
		pendingCloses:     make(map[string]domain.CloseInfo),
	}
	w.rc = notify.RouteContext{
		RouteID:        cfg.Route.ID,
		SourceNickname: cfg.Source.Nickname,
		DestNickname:   cfg.Dest.Nickname,
		RuleName:       cfg.Rule.Name,
	}
	w.publishSnapshot()
	return w
}

// limitsFor returns the broker-enforced bounds to clamp a symbol's sizing
// result to: the worker's configured override when set, else the symbol's
// standard default.
func (w *Worker) limitsFor(symbol string) sizer.Limits {
	if w.limits.LotStep > 0 {
		return w.limits
	}
	return sizer.DefaultLimits(symbol)
}

// Snapshot returns the most recently published state. Safe to call
// concurrently with Run; never blocks on it.
func (w *Worker) Snapshot() Snapshot {
	if s := w.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{RouteID: w.route.ID}
}

func (w *Worker) publishSnapshot() {
	w.snapshot.Store(&Snapshot{
		RouteID:           w.route.ID,
		Enabled:           w.route.Enabled,
		Trades:            w.tradesToday,
		DailyLoss:         w.dailyLoss,
		Positions:         len(w.sourcePositions),
		ActiveCycles:      w.activeCycles,
		LastTradeEpochMs:  w.lastTradeEpochMs,
		LastHeartbeat:     w.clock.Now(),
		ConsecutiveLosses: w.consecutiveLosses,
		LastSlippagePips:  w.lastSlippagePips,
		Wins:              w.wins,
		Losses:            w.losses,
		TotalProfit:       w.totalProfit,
		TotalLoss:         w.totalLoss,
	})
}

// Run fetches the initial position list, seeds route state, then blocks
// servicing monitor events and the pending-exit retry loop until ctx is
// cancelled or the monitor's Run returns an unrecoverable error.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.start(ctx); err != nil {
		return fmt.Errorf("worker %s: start: %w", w.route.ID, err)
	}

	monitorErrCh := make(chan error, 1)
	go func() {
		monitorErrCh <- w.src.Run(ctx)
	}()

	retryTicker := time.NewTicker(w.retryInt)
	defer retryTicker.Stop()

	events := w.src.Events()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return nil

		case err := <-monitorErrCh:
			if err != nil {
				return fmt.Errorf("worker %s: position monitor: %w", w.route.ID, err)
			}
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
			w.publishSnapshot()

		case <-retryTicker.C:
			w.runPendingExitRetries(ctx)
			w.retryPendingCloses(ctx)
			w.publishSnapshot()
		}
	}
}

// start fetches the source account's current positions once and seeds
// sourcePositions/processedTradeIds per the copyExistingPositions decision
// (see DESIGN.md open-question 3).
func (w *Worker) start(ctx context.Context) error {
	positions, err := w.poolClient.GetPositions(ctx, w.source.ID, w.source.Region)
	if err != nil {
		return fmt.Errorf("fetch initial positions: %w", err)
	}

	w.rotateDailyStatsIfNeeded()

	for _, p := range positions {
		w.sourcePositions[p.ID] = p
		if !w.route.CopyExistingPositions {
			w.processedTradeIds[p.ID] = struct{}{}
		}
	}

	w.log.Info("worker started",
		slog.Int("initial_positions", len(positions)),
		slog.Bool("copy_existing", w.route.CopyExistingPositions),
	)
	return nil
}

func (w *Worker) handleEvent(ctx context.Context, ev domain.Event) {
	w.rotateDailyStatsIfNeeded()
	switch ev.Kind {
	case domain.EventOpened:
		w.handleOpened(ctx, ev.Position)
	case domain.EventUpdated:
		w.handleUpdated(ctx, ev.Position)
	case domain.EventClosed:
		info := domain.CloseInfo{Reason: domain.CloseReasonOpaque}
		if ev.CloseInfo != nil {
			info = *ev.CloseInfo
		}
		w.handleClosed(ctx, ev.Position.ID, info)
	}
}

// rotateDailyStatsIfNeeded resets dailyStats and processedTradeIds at the
// first event of any new UTC calendar day, before filter evaluation.
func (w *Worker) rotateDailyStatsIfNeeded() {
	today := w.clock.Now().UTC().Format("2006-01-02")
	if w.dayBucket == today {
		return
	}
	if w.dayBucket != "" {
		w.log.Info("day roll", slog.String("previous_day", w.dayBucket), slog.String("day", today))
	}
	w.dayBucket = today
	w.tradesToday = 0
	w.dailyLoss = 0
	w.wins = 0
	w.losses = 0
	w.totalProfit = 0
	w.totalLoss = 0
	w.processedTradeIds = make(map[string]struct{})
}
