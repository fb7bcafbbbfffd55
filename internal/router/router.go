// Package router owns the lifecycle of every copy worker:
// loading and validating routing configuration, starting one worker per
// enabled route, the global emergency-stop supervisor, and the control-bus
// command handler.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/filter"
	"github.com/copytrade/router/internal/monitor"
	"github.com/copytrade/router/internal/notify"
	"github.com/copytrade/router/internal/pool"
	"github.com/copytrade/router/internal/routing"
	"github.com/copytrade/router/internal/sizer"
	"github.com/copytrade/router/internal/store"
	"github.com/copytrade/router/internal/worker"
)

// SourceFactory builds the position-monitor backend for an account; the
// router is agnostic to polling vs streaming — that choice is
// made by whoever wires the app together.
type SourceFactory func(account domain.Account) monitor.Source

// Router owns the full set of configured workers and their supervisors.
type Router struct {
	cfg        *routing.Config
	registry   *filter.Registry
	poolClient *pool.Client
	st         store.Store
	notifier   *notify.Notifier
	sources    SourceFactory
	log        *slog.Logger

	mu        sync.Mutex
	workers   map[string]*runningWorker
	running   bool
	startedAt time.Time
	eg        *errgroup.Group

	supervisorStop chan struct{}
}

type runningWorker struct {
	w      *worker.Worker
	cancel context.CancelFunc
}

// New builds a Router from an already-resolved routing configuration. Load
// (below) produces that configuration from disk.
func New(cfg *routing.Config, registry *filter.Registry, poolClient *pool.Client, st store.Store, notifier *notify.Notifier, sources SourceFactory, log *slog.Logger) *Router {
	return &Router{
		cfg:        cfg,
		registry:   registry,
		poolClient: poolClient,
		st:         st,
		notifier:   notifier,
		sources:    sources,
		log:        log.With(slog.String("component", "router")),
		workers:    make(map[string]*runningWorker),
	}
}

// Load reads and validates the routing configuration file, bootstrapping it
// from an adjacent example when missing.
func Load(path, examplePath string, registry *filter.Registry) (*routing.Config, error) {
	return routing.LoadFile(path, examplePath, registry)
}

// Start instantiates one worker per enabled route and launches the global
// supervisor. The caller's ctx governs the lifetime of
// every worker and the supervisor; Start returns once everything is
// launched, not when it finishes — call Wait to block until every worker
// has stopped.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	eg, _ := errgroup.WithContext(ctx)
	r.eg = eg

	for i := range r.cfg.Routes {
		route := r.cfg.Routes[i]
		if !route.Enabled {
			continue
		}
		if err := r.startWorkerLocked(ctx, route); err != nil {
			return fmt.Errorf("router: start route %s: %w", route.ID, err)
		}
	}

	r.running = true
	r.startedAt = time.Now()
	r.supervisorStop = make(chan struct{})
	go r.runGlobalSupervisor(ctx)

	r.log.Info("router started", slog.Int("routes", len(r.workers)))
	return nil
}

// startWorkerLocked builds and launches one route's worker. Caller holds
// r.mu.
func (r *Router) startWorkerLocked(ctx context.Context, route domain.Route) error {
	rule, ok := r.cfg.RuleSets[route.RuleSet]
	if !ok {
		return fmt.Errorf("unknown rule set %q", route.RuleSet)
	}
	sourceAcct, ok := r.cfg.Accounts[route.Source]
	if !ok {
		return fmt.Errorf("unknown source account %q", route.Source)
	}
	destAcct, ok := r.cfg.Accounts[route.Destination]
	if !ok {
		return fmt.Errorf("unknown destination account %q", route.Destination)
	}

	pipeline, err := r.registry.Build(rule.Filters)
	if err != nil {
		return fmt.Errorf("build filter pipeline: %w", err)
	}

	wCtx, cancel := context.WithCancel(ctx)
	w := worker.New(worker.Config{
		Route:      route,
		Rule:       rule,
		Source:     sourceAcct,
		Dest:       destAcct,
		PoolClient: r.poolClient,
		Store:      r.st,
		Notifier:   r.notifier,
		Pipeline:   pipeline,
		Sizer:      sizer.New(rule),
		EventSrc:   r.sources(sourceAcct),
		Log:        r.log,
	})

	rw := &runningWorker{w: w, cancel: cancel}
	r.workers[route.ID] = rw

	r.eg.Go(func() error {
		if err := w.Run(wCtx); err != nil {
			r.log.Error("worker exited with error", slog.String("route", route.ID), slog.String("error", err.Error()))
		}
		// A worker's own error never brings down its siblings, so it is
		// logged here rather than returned to the group.
		return nil
	})

	return nil
}

// Wait blocks until every started worker's Run has returned, e.g. because
// Stop was called or ctx was cancelled. Start must be called first.
func (r *Router) Wait() error {
	r.mu.Lock()
	eg := r.eg
	r.mu.Unlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}

// ToggleRoute starts or stops the worker for routeId without affecting any
// other route. It also flips the in-memory
// Enabled flag on the resolved config. The change is not written back to the
// routing config file, neither here nor by the control-bus command handler.
func (r *Router) ToggleRoute(ctx context.Context, routeID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.cfg.Routes {
		if r.cfg.Routes[i].ID == routeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRoute, routeID)
	}

	r.cfg.Routes[idx].Enabled = enabled

	if existing, ok := r.workers[routeID]; ok {
		if enabled {
			return nil
		}
		existing.cancel()
		delete(r.workers, routeID)
		return nil
	}

	if !enabled {
		return nil
	}
	return r.startWorkerLocked(ctx, r.cfg.Routes[idx])
}

// RouteDailyLossLimits returns each configured route's rule-set
// MaxDailyLoss, keyed by route id. Used by the performance monitor to
// evaluate the daily-loss warning threshold per route.
func (r *Router) RouteDailyLossLimits() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]float64, len(r.cfg.Routes))
	for _, rt := range r.cfg.Routes {
		if rule, ok := r.cfg.RuleSets[rt.RuleSet]; ok {
			out[rt.ID] = rule.MaxDailyLoss
		}
	}
	return out
}

// GlobalAlertSettings returns the configured alert thresholds and summary
// schedule, for the performance monitor.
func (r *Router) GlobalAlertSettings() domain.AlertSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Global.Alerts
}

// Uptime reports how long the router has been running; zero before Start.
func (r *Router) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return time.Since(r.startedAt)
}

// Snapshots returns each running worker's lock-free state snapshot, keyed
// by route id. Used by the performance monitor and the control bus's
// get_stats command.
func (r *Router) Snapshots() map[string]worker.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]worker.Snapshot, len(r.workers))
	for id, rw := range r.workers {
		out[id] = rw.w.Snapshot()
	}
	return out
}

// Stop cancels every running worker and the global supervisor. It does not
// block for workers to finish draining; callers that need that use Wait.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rw := range r.workers {
		rw.cancel()
		delete(r.workers, id)
	}
	if r.supervisorStop != nil {
		close(r.supervisorStop)
		r.supervisorStop = nil
	}
	r.running = false
}

// runGlobalSupervisor implements global supervisor: every 60s,
// sum dailyLoss across all workers; if the global emergency stop is
// enabled and the sum reaches the configured limit, notify and latch-stop
// every worker. A distributed lock ensures only one router instance
// performs the evaluation when multiple share a state store.
func (r *Router) runGlobalSupervisor(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.supervisorStop:
			return
		case <-ticker.C:
			r.evaluateGlobalStop(ctx)
		}
	}
}

func (r *Router) evaluateGlobalStop(ctx context.Context) {
	if !r.cfg.Global.EmergencyStop.Enabled {
		return
	}

	unlock, err := r.st.Acquire(ctx, "lock:global-supervisor", 55*time.Second)
	if err != nil {
		return // another instance holds the evaluation lock this tick
	}
	defer unlock()

	var total float64
	for _, snap := range r.Snapshots() {
		total += snap.DailyLoss
	}

	if total < r.cfg.Global.EmergencyStop.DailyLossLimit {
		return
	}

	r.log.Error("global emergency stop latched", slog.Float64("daily_loss", total))
	r.notifier.Alert(ctx, notify.RouteContext{RouteID: "global"}, "emergency_stop",
		fmt.Sprintf("global daily loss %.2f reached limit %.2f; all routes stopped, operator restart required",
			total, r.cfg.Global.EmergencyStop.DailyLossLimit))
	r.Stop()
}

// StatsSnapshotPayload renders the current per-route snapshots as the
// wire-stable protobuf payload written to routing:stats:current. A structpb.Struct is used instead of a hand-authored message
// type: a real generated proto.Message the struct tags can't accidentally
// get wrong, while still giving every route's stats a stable field-by-field
// encoding across router versions.
func (r *Router) StatsSnapshotPayload() ([]byte, error) {
	snapshots := r.Snapshots()
	routes := make([]any, 0, len(snapshots))
	for _, s := range snapshots {
		routes = append(routes, map[string]any{
			"routeId":          s.RouteID,
			"enabled":          s.Enabled,
			"trades":           float64(s.Trades),
			"dailyLoss":        s.DailyLoss,
			"positions":        float64(s.Positions),
			"lastTradeEpochMs": float64(s.LastTradeEpochMs),
		})
	}

	st, err := structpb.NewStruct(map[string]any{
		"routes":        routes,
		"uptimeSeconds": r.Uptime().Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("router: build stats struct: %w", err)
	}
	return proto.Marshal(st)
}
