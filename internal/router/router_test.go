package router

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/filter"
	"github.com/copytrade/router/internal/monitor"
	"github.com/copytrade/router/internal/notify"
	"github.com/copytrade/router/internal/routing"
	"github.com/copytrade/router/internal/sizer"
	"github.com/copytrade/router/internal/store"
	"github.com/copytrade/router/internal/worker"
)

type fakeStore struct {
	acquireErr error
}

func (fakeStore) PutMapping(ctx context.Context, m domain.Mapping) error { return nil }
func (fakeStore) GetMapping(ctx context.Context, key domain.MappingKey) (domain.Mapping, error) {
	return domain.Mapping{}, nil
}
func (fakeStore) DeleteMapping(ctx context.Context, key domain.MappingKey) error { return nil }
func (fakeStore) ListMappings(ctx context.Context, sourceAccountID string) ([]domain.Mapping, error) {
	return nil, nil
}
func (fakeStore) MarkClosed(ctx context.Context, accountID, positionID string) error { return nil }
func (fakeStore) WasRecentlyClosed(ctx context.Context, accountID, positionID string) (bool, error) {
	return false, nil
}
func (fakeStore) MarkOrphanNotified(ctx context.Context, accountID, positionID string) error {
	return nil
}
func (fakeStore) WasOrphanNotified(ctx context.Context, accountID, positionID string) (bool, error) {
	return false, nil
}
func (fakeStore) QueuePendingExit(ctx context.Context, key domain.MappingKey, m domain.Mapping) error {
	return nil
}
func (fakeStore) ListPendingExits(ctx context.Context, sourceAccountID string) ([]domain.PendingExit, error) {
	return nil, nil
}
func (fakeStore) RemovePendingExit(ctx context.Context, key domain.MappingKey) error { return nil }
func (fakeStore) WriteHourlyMetrics(ctx context.Context, routeID string, hourBucket time.Time, m store.MetricsBucket) error {
	return nil
}
func (fakeStore) WriteDailyMetrics(ctx context.Context, routeID string, dayBucket time.Time, m store.MetricsBucket) error {
	return nil
}
func (fakeStore) WritePerfCache(ctx context.Context, routeID, window string, payload []byte) error {
	return nil
}
func (fakeStore) WriteAlert(ctx context.Context, alertID string, payload []byte) error { return nil }
func (fakeStore) WriteStatsSnapshot(ctx context.Context, payload []byte) error         { return nil }
func (fakeStore) WriteDailyReport(ctx context.Context, date string, payload []byte) error {
	return nil
}
func (fakeStore) WriteWeeklyReport(ctx context.Context, monday string, payload []byte) error {
	return nil
}
func (f fakeStore) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return func() {}, nil
}
func (fakeStore) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (fakeStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (fakeStore) Close() error { return nil }

type fakeSource struct{}

func (fakeSource) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (fakeSource) Events() <-chan domain.Event   { return make(chan domain.Event) }

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRouter(t *testing.T, st store.Store) *Router {
	t.Helper()
	cfg := &routing.Config{
		Accounts: map[string]domain.Account{
			"src": {ID: "src", Nickname: "source"},
			"dst": {ID: "dst", Nickname: "dest"},
		},
		RuleSets: map[string]domain.RuleSet{
			"conservative": {Name: "conservative", MaxDailyLoss: 500},
		},
		Routes: []domain.Route{
			{ID: "r1", Source: "src", Destination: "dst", RuleSet: "conservative", Enabled: true},
		},
		Global: domain.GlobalSettings{
			EmergencyStop: domain.EmergencyStopConfig{Enabled: true, DailyLossLimit: 1000},
		},
	}
	registry := filter.NewRegistry()
	notifier := notify.NewNotifier(nil, nil, 0, discardLog())
	return New(cfg, registry, nil, st, notifier, func(domain.Account) monitor.Source { return fakeSource{} }, discardLog())
}

func TestRouteDailyLossLimits(t *testing.T) {
	r := testRouter(t, fakeStore{})
	limits := r.RouteDailyLossLimits()
	if limits["r1"] != 500 {
		t.Errorf("expected route r1's daily loss limit of 500, got %v", limits["r1"])
	}
}

func TestGlobalAlertSettings(t *testing.T) {
	r := testRouter(t, fakeStore{})
	r.cfg.Global.Alerts = domain.AlertSettings{PropFirmWarningThreshold: 0.8, DailySummaryTimeUTC: "21:00"}
	settings := r.GlobalAlertSettings()
	if settings.PropFirmWarningThreshold != 0.8 || settings.DailySummaryTimeUTC != "21:00" {
		t.Errorf("unexpected alert settings: %+v", settings)
	}
}

func TestUptimeIsZeroBeforeStart(t *testing.T) {
	r := testRouter(t, fakeStore{})
	if r.Uptime() != 0 {
		t.Errorf("expected zero uptime before Start, got %v", r.Uptime())
	}
}

func TestSnapshotsReflectsRunningWorkers(t *testing.T) {
	r := testRouter(t, fakeStore{})
	w := worker.New(worker.Config{
		Route: r.cfg.Routes[0], Rule: r.cfg.RuleSets["conservative"],
		Source: r.cfg.Accounts["src"], Dest: r.cfg.Accounts["dst"],
		Store: fakeStore{}, Notifier: notify.NewNotifier(nil, nil, 0, discardLog()),
		Sizer: sizer.New(r.cfg.RuleSets["conservative"]), EventSrc: fakeSource{}, Log: discardLog(),
	})
	r.workers["r1"] = &runningWorker{w: w, cancel: func() {}}

	snaps := r.Snapshots()
	if len(snaps) != 1 || snaps["r1"].RouteID != "r1" {
		t.Fatalf("expected one snapshot for r1, got %+v", snaps)
	}
}

func TestToggleRouteStopsRunningWorker(t *testing.T) {
	r := testRouter(t, fakeStore{})
	cancelled := false
	w := worker.New(worker.Config{
		Route: r.cfg.Routes[0], Rule: r.cfg.RuleSets["conservative"],
		Source: r.cfg.Accounts["src"], Dest: r.cfg.Accounts["dst"],
		Store: fakeStore{}, Notifier: notify.NewNotifier(nil, nil, 0, discardLog()),
		Sizer: sizer.New(r.cfg.RuleSets["conservative"]), EventSrc: fakeSource{}, Log: discardLog(),
	})
	r.workers["r1"] = &runningWorker{w: w, cancel: func() { cancelled = true }}

	if err := r.ToggleRoute(context.Background(), "r1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelled {
		t.Errorf("expected disabling an enabled route to cancel its worker")
	}
	if _, ok := r.workers["r1"]; ok {
		t.Errorf("expected the worker to be removed from the running set")
	}
}

func TestToggleRouteUnknownRoute(t *testing.T) {
	r := testRouter(t, fakeStore{})
	err := r.ToggleRoute(context.Background(), "missing", true)
	if err == nil {
		t.Fatalf("expected an error toggling an unknown route")
	}
}

func TestToggleRouteEnablingAlreadyRunningIsNoop(t *testing.T) {
	r := testRouter(t, fakeStore{})
	w := worker.New(worker.Config{
		Route: r.cfg.Routes[0], Rule: r.cfg.RuleSets["conservative"],
		Source: r.cfg.Accounts["src"], Dest: r.cfg.Accounts["dst"],
		Store: fakeStore{}, Notifier: notify.NewNotifier(nil, nil, 0, discardLog()),
		Sizer: sizer.New(r.cfg.RuleSets["conservative"]), EventSrc: fakeSource{}, Log: discardLog(),
	})
	r.workers["r1"] = &runningWorker{w: w, cancel: func() { t.Fatal("should not cancel when re-enabling") }}

	if err := r.ToggleRoute(context.Background(), "r1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.workers["r1"]; !ok {
		t.Errorf("expected the worker to remain running")
	}
}

func TestEvaluateGlobalStopBelowLimitDoesNothing(t *testing.T) {
	r := testRouter(t, fakeStore{})
	w := worker.New(worker.Config{
		Route: r.cfg.Routes[0], Rule: r.cfg.RuleSets["conservative"],
		Source: r.cfg.Accounts["src"], Dest: r.cfg.Accounts["dst"],
		Store: fakeStore{}, Notifier: notify.NewNotifier(nil, nil, 0, discardLog()),
		Sizer: sizer.New(r.cfg.RuleSets["conservative"]), EventSrc: fakeSource{}, Log: discardLog(),
	})
	r.workers["r1"] = &runningWorker{w: w, cancel: func() {}}
	r.running = true

	r.evaluateGlobalStop(context.Background())
	if !r.running {
		t.Errorf("expected the router to keep running when total daily loss is below the limit")
	}
}

func TestEvaluateGlobalStopDisabledSkipsEvaluation(t *testing.T) {
	r := testRouter(t, fakeStore{})
	r.cfg.Global.EmergencyStop.Enabled = false
	r.running = true
	r.evaluateGlobalStop(context.Background())
	if !r.running {
		t.Errorf("expected evaluateGlobalStop to be a no-op when disabled")
	}
}

func TestEvaluateGlobalStopSkipsWhenLockHeld(t *testing.T) {
	r := testRouter(t, fakeStore{acquireErr: domain.ErrLockHeld})
	r.running = true
	r.evaluateGlobalStop(context.Background())
	if !r.running {
		t.Errorf("expected the router to remain untouched when another instance holds the lock")
	}
}

func TestStatsSnapshotPayloadMarshalsWithoutError(t *testing.T) {
	r := testRouter(t, fakeStore{})
	payload, err := r.StatsSnapshotPayload()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload) == 0 {
		t.Errorf("expected a non-empty marshaled payload")
	}
}

func TestStopClearsWorkersAndRunningFlag(t *testing.T) {
	r := testRouter(t, fakeStore{})
	w := worker.New(worker.Config{
		Route: r.cfg.Routes[0], Rule: r.cfg.RuleSets["conservative"],
		Source: r.cfg.Accounts["src"], Dest: r.cfg.Accounts["dst"],
		Store: fakeStore{}, Notifier: notify.NewNotifier(nil, nil, 0, discardLog()),
		Sizer: sizer.New(r.cfg.RuleSets["conservative"]), EventSrc: fakeSource{}, Log: discardLog(),
	})
	cancelled := false
	r.workers["r1"] = &runningWorker{w: w, cancel: func() { cancelled = true }}
	r.running = true
	r.supervisorStop = make(chan struct{})

	r.Stop()

	if !cancelled {
		t.Errorf("expected Stop to cancel every running worker")
	}
	if len(r.workers) != 0 {
		t.Errorf("expected Stop to clear the workers map")
	}
	if r.running {
		t.Errorf("expected Stop to clear the running flag")
	}
}
