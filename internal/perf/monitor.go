// Package perf implements the performance monitor: a
// 60s metrics snapshot, a 30s alert evaluation, and event-time-scheduled
// daily/weekly summary dispatch. It never mutates worker state — it only
// reads each worker's lock-free Snapshot and writes to the state store and
// the notifier.
package perf

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/notify"
	"github.com/copytrade/router/internal/store"
	"github.com/copytrade/router/internal/store/pgstore"
	"github.com/copytrade/router/internal/worker"
)

// archiveRetention bounds how long durable-history rows live in Postgres
// before the monitor exports them to cold storage and deletes them.
const archiveRetention = 90 * 24 * time.Hour

// Clock abstracts time for deterministic summary-scheduling tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SnapshotSource is the read-only view the monitor needs of the running
// router. Satisfied by *router.Router; kept as an interface here so perf
// does not need to import router (which imports worker, which perf also
// imports directly for the Snapshot type).
type SnapshotSource interface {
	Snapshots() map[string]worker.Snapshot
	RouteDailyLossLimits() map[string]float64
	GlobalAlertSettings() domain.AlertSettings
}

// Monitor aggregates per-route stats and evaluates alert conditions.
type Monitor struct {
	source   SnapshotSource
	st       store.Store
	notifier *notify.Notifier
	history  *pgstore.HistoryStore // nil-safe: history mirroring is optional
	archiver domain.Archiver       // nil-safe: cold-storage archival is optional
	clock    Clock
	log      *slog.Logger

	mu                sync.Mutex
	lastDailySummary  string
	lastWeeklySummary string
}

// Config bundles Monitor's dependencies.
type Config struct {
	Source   SnapshotSource
	Store    store.Store
	Notifier *notify.Notifier
	History  *pgstore.HistoryStore
	Archiver domain.Archiver
	Clock    Clock
	Log      *slog.Logger
}

// New builds a Monitor.
func New(cfg Config) *Monitor {
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Monitor{
		source:   cfg.Source,
		st:       cfg.Store,
		notifier: cfg.Notifier,
		history:  cfg.History,
		archiver: cfg.Archiver,
		clock:    clock,
		log:      cfg.Log.With(slog.String("component", "perf")),
	}
}

// Run blocks servicing the 60s metrics tick and the 30s alert tick until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	metricsTicker := time.NewTicker(60 * time.Second)
	defer metricsTicker.Stop()
	alertTicker := time.NewTicker(30 * time.Second)
	defer alertTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-metricsTicker.C:
			m.writeMetrics(ctx)
			m.checkSummaries(ctx)
		case <-alertTicker.C:
			m.evaluateAlerts(ctx)
		}
	}
}

// writeMetrics implements 60s snapshot: per-route hourly and
// daily hash writes, plus the dashboard's short-TTL perf cache.
func (m *Monitor) writeMetrics(ctx context.Context) {
	now := m.clock.Now().UTC()
	hourBucket := now.Truncate(time.Hour)
	dayBucket := now.Truncate(24 * time.Hour)

	for routeID, snap := range m.source.Snapshots() {
		bucket := bucketFromSnapshot(snap)

		if err := m.st.WriteHourlyMetrics(ctx, routeID, hourBucket, bucket); err != nil {
			m.log.Error("write hourly metrics failed", slog.String("route", routeID), slog.String("error", err.Error()))
		}
		if err := m.st.WriteDailyMetrics(ctx, routeID, dayBucket, bucket); err != nil {
			m.log.Error("write daily metrics failed", slog.String("route", routeID), slog.String("error", err.Error()))
		}

		payload, err := json.Marshal(bucket)
		if err != nil {
			m.log.Error("marshal perf cache failed", slog.String("route", routeID), slog.String("error", err.Error()))
			continue
		}
		for _, window := range []string{"1h", "24h", "7d", "30d"} {
			if err := m.st.WritePerfCache(ctx, routeID, window, payload); err != nil {
				m.log.Error("write perf cache failed", slog.String("route", routeID), slog.String("window", window), slog.String("error", err.Error()))
			}
		}

		if m.history != nil {
			detail := map[string]any{
				"trades": bucket.Trades, "profit": bucket.Profit, "loss": bucket.Loss,
				"positions": bucket.Positions, "winRate": bucket.WinRate, "profitFactor": bucket.ProfitFactor,
			}
			if err := m.history.RecordReport(ctx, routeID, "hour", hourBucket.Format(time.RFC3339), detail); err != nil {
				m.log.Warn("history mirror of hourly metrics failed", slog.String("route", routeID), slog.String("error", err.Error()))
			}
		}
	}
}

func bucketFromSnapshot(snap worker.Snapshot) store.MetricsBucket {
	b := store.MetricsBucket{
		Trades:    snap.Trades,
		Profit:    snap.TotalProfit,
		Loss:      snap.TotalLoss,
		Positions: snap.Positions,
	}
	if closed := snap.Wins + snap.Losses; closed > 0 {
		b.WinRate = float64(snap.Wins) / float64(closed)
	}
	if snap.TotalLoss > 0 {
		b.ProfitFactor = snap.TotalProfit / snap.TotalLoss
	}
	return b
}

// evaluateAlerts implements 30s alert conditions. Each alert is
// dispatched through the notifier, which already deduplicates identical
// messages within its spam window, so a condition that stays true across
// ticks does not spam the operator.
func (m *Monitor) evaluateAlerts(ctx context.Context) {
	cfg := m.source.GlobalAlertSettings()
	limits := m.source.RouteDailyLossLimits()
	now := m.clock.Now()

	for routeID, snap := range m.source.Snapshots() {
		rc := notify.RouteContext{RouteID: routeID}

		if limit := limits[routeID]; limit > 0 && cfg.PropFirmWarningThreshold > 0 {
			if snap.DailyLoss >= limit*cfg.PropFirmWarningThreshold {
				m.alert(ctx, rc, "daily_loss_warning",
					fmt.Sprintf("daily loss %.2f reached %.0f%% of limit %.2f", snap.DailyLoss, cfg.PropFirmWarningThreshold*100, limit))
			}
		}

		if cfg.ConsecutiveLossAlert > 0 && snap.ConsecutiveLosses >= cfg.ConsecutiveLossAlert {
			m.alert(ctx, rc, "consecutive_losses",
				fmt.Sprintf("%d consecutive losing trades", snap.ConsecutiveLosses))
		}

		if cfg.SlippageThresholdPips > 0 && snap.LastSlippagePips > cfg.SlippageThresholdPips {
			m.alert(ctx, rc, "slippage",
				fmt.Sprintf("last fill slipped %.1f pips, threshold %.1f", snap.LastSlippagePips, cfg.SlippageThresholdPips))
		}

		if !snap.LastHeartbeat.IsZero() && now.Sub(snap.LastHeartbeat) > 5*time.Minute {
			m.alert(ctx, rc, "connection_lost",
				fmt.Sprintf("no heartbeat for %s", now.Sub(snap.LastHeartbeat).Round(time.Second)))
		}
	}
}

func (m *Monitor) alert(ctx context.Context, rc notify.RouteContext, kind, detail string) {
	m.notifier.Alert(ctx, rc, kind, detail)
	payload, err := json.Marshal(map[string]string{"route": rc.RouteID, "kind": kind, "detail": detail})
	if err != nil {
		return
	}
	alertID := fmt.Sprintf("%s:%s:%d", rc.RouteID, kind, m.clock.Now().Unix())
	if err := m.st.WriteAlert(ctx, alertID, payload); err != nil {
		m.log.Error("write alert failed", slog.String("alert", alertID), slog.String("error", err.Error()))
	}
}

// checkSummaries dispatches the daily/weekly summary once per schedule hit,
// by comparing the current event time against the configured time-of-day
// and weekday rather than arming a wall-clock timer.
func (m *Monitor) checkSummaries(ctx context.Context) {
	cfg := m.source.GlobalAlertSettings()
	if cfg.DailySummaryTimeUTC == "" {
		return
	}
	now := m.clock.Now().UTC()
	due, err := timeOfDayReached(now, cfg.DailySummaryTimeUTC)
	if err != nil {
		m.log.Warn("invalid dailySummaryTimeUTC", slog.String("value", cfg.DailySummaryTimeUTC))
		return
	}
	if !due {
		return
	}

	today := now.Format("2006-01-02")

	m.mu.Lock()
	alreadyDaily := m.lastDailySummary == today
	if !alreadyDaily {
		m.lastDailySummary = today
	}
	m.mu.Unlock()

	if !alreadyDaily {
		m.dispatchSummary(ctx, "daily", today)
		m.runArchival(ctx, now)
	}

	if cfg.WeeklySummaryDay != "" && now.Weekday().String() == cfg.WeeklySummaryDay {
		monday := mondayOf(now).Format("2006-01-02")

		m.mu.Lock()
		alreadyWeekly := m.lastWeeklySummary == monday
		if !alreadyWeekly {
			m.lastWeeklySummary = monday
		}
		m.mu.Unlock()

		if !alreadyWeekly {
			m.dispatchSummary(ctx, "weekly", monday)
		}
	}
}

func (m *Monitor) dispatchSummary(ctx context.Context, period, bucket string) {
	snapshots := m.source.Snapshots()
	routes := make(map[string]store.MetricsBucket, len(snapshots))
	var totalTrades int
	var totalProfit, totalLoss float64
	for routeID, snap := range snapshots {
		b := bucketFromSnapshot(snap)
		routes[routeID] = b
		totalTrades += b.Trades
		totalProfit += b.Profit
		totalLoss += b.Loss
	}

	summary := map[string]any{
		"period": period, "bucket": bucket, "routes": routes,
		"totalTrades": totalTrades, "totalProfit": totalProfit, "totalLoss": totalLoss,
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		m.log.Error("marshal summary failed", slog.String("period", period), slog.String("error", err.Error()))
		return
	}

	var writeErr error
	if period == "daily" {
		writeErr = m.st.WriteDailyReport(ctx, bucket, payload)
	} else {
		writeErr = m.st.WriteWeeklyReport(ctx, bucket, payload)
	}
	if writeErr != nil {
		m.log.Error("write report cache failed", slog.String("period", period), slog.String("error", writeErr.Error()))
	}

	if m.history != nil {
		if err := m.history.RecordReport(ctx, "", period, bucket, summary); err != nil {
			m.log.Warn("history mirror of summary failed", slog.String("period", period), slog.String("error", err.Error()))
		}
	}

	m.notifier.Alert(ctx, notify.RouteContext{RouteID: "global"}, period+"_summary",
		fmt.Sprintf("%s summary for %s: %d trades, profit %.2f, loss %.2f", period, bucket, totalTrades, totalProfit, totalLoss))
}

// runArchival exports durable-history rows older than archiveRetention to
// cold storage once a day, piggybacking on the daily summary's schedule
// check rather than running its own ticker. A no-op when no S3 archiver is
// configured.
func (m *Monitor) runArchival(ctx context.Context, now time.Time) {
	if m.archiver == nil {
		return
	}
	cutoff := now.Add(-archiveRetention)

	if n, err := m.archiver.ArchiveClosedPositions(ctx, cutoff); err != nil {
		m.log.Error("archive closed positions failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.log.Info("archived closed positions", slog.Int64("rows", n), slog.String("before", cutoff.Format(time.RFC3339)))
	}

	if n, err := m.archiver.ArchiveReports(ctx, cutoff); err != nil {
		m.log.Error("archive reports failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.log.Info("archived reports", slog.Int64("rows", n), slog.String("before", cutoff.Format(time.RFC3339)))
	}

	if n, err := m.archiver.ArchiveAuditLog(ctx, cutoff); err != nil {
		m.log.Error("archive audit log failed", slog.String("error", err.Error()))
	} else if n > 0 {
		m.log.Info("archived audit log", slog.Int64("rows", n), slog.String("before", cutoff.Format(time.RFC3339)))
	}
}

// timeOfDayReached reports whether now's UTC clock time is at or past
// hhmm ("HH:MM"), for the purpose of a once-per-tick schedule check.
func timeOfDayReached(now time.Time, hhmm string) (bool, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hh, &mm); err != nil {
		return false, fmt.Errorf("perf: parse time-of-day %q: %w", hhmm, err)
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
	return !now.Before(target), nil
}

// mondayOf returns the Monday of t's ISO week, at midnight UTC.
func mondayOf(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO: Sunday is day 7
	}
	monday := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}
