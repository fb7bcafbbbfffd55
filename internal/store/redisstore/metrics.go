package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/copytrade/router/internal/store"
)

const (
	hourlyMetricsTTL = 7 * 24 * time.Hour
	dailyMetricsTTL  = 30 * 24 * time.Hour
	perfCacheTTL     = 5 * time.Minute
	alertTTL         = 24 * time.Hour
	statsSnapshotTTL = 60 * time.Second
	reportTTL        = 90 * 24 * time.Hour
)

func metricsFields(trades int, profit, loss float64, positions int, winRate, profitFactor float64) map[string]any {
	return map[string]any{
		"trades":       trades,
		"profit":       profit,
		"loss":         loss,
		"positions":    positions,
		"winRate":      winRate,
		"profitFactor": profitFactor,
	}
}

// WriteHourlyMetrics writes the hour-bucketed metrics hash, TTL 7 days.
func (c *Client) WriteHourlyMetrics(ctx context.Context, routeID string, hourBucket time.Time, m store.MetricsBucket) error {
	key := hourlyMetricsKey(routeID, hourBucket.UTC().Format("2006-01-02T15"))
	return c.writeMetricsHash(ctx, key, m, hourlyMetricsTTL)
}

// WriteDailyMetrics writes the day-bucketed running-aggregate hash, TTL 30 days.
func (c *Client) WriteDailyMetrics(ctx context.Context, routeID string, dayBucket time.Time, m store.MetricsBucket) error {
	key := dailyMetricsKey(routeID, dayBucket.UTC().Format("2006-01-02"))
	return c.writeMetricsHash(ctx, key, m, dailyMetricsTTL)
}

func (c *Client) writeMetricsHash(ctx context.Context, key string, m store.MetricsBucket, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, metricsFields(m.Trades, m.Profit, m.Loss, m.Positions, m.WinRate, m.ProfitFactor))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: write metrics %s: %w", key, err)
	}
	return nil
}

// WritePerfCache writes the short-TTL dashboard-read cache for a route/window.
func (c *Client) WritePerfCache(ctx context.Context, routeID, window string, payload []byte) error {
	if err := c.rdb.Set(ctx, perfCacheKey(routeID, window), payload, perfCacheTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: write perf cache %s/%s: %w", routeID, window, err)
	}
	return nil
}

// WriteAlert persists an evaluated alert condition.
func (c *Client) WriteAlert(ctx context.Context, alertID string, payload []byte) error {
	if err := c.rdb.Set(ctx, alertKey(alertID), payload, alertTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: write alert %s: %w", alertID, err)
	}
	return nil
}

// WriteStatsSnapshot writes the get_stats control-bus response, TTL 60s.
func (c *Client) WriteStatsSnapshot(ctx context.Context, payload []byte) error {
	if err := c.rdb.Set(ctx, statsSnapshotKey, payload, statsSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: write stats snapshot: %w", err)
	}
	return nil
}

// WriteDailyReport caches the daily summary under report:daily:{date}.
func (c *Client) WriteDailyReport(ctx context.Context, date string, payload []byte) error {
	if err := c.rdb.Set(ctx, dailyReportKey(date), payload, reportTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: write daily report %s: %w", date, err)
	}
	return nil
}

// WriteWeeklyReport caches the weekly summary under report:weekly:{monday}.
func (c *Client) WriteWeeklyReport(ctx context.Context, monday string, payload []byte) error {
	if err := c.rdb.Set(ctx, weeklyReportKey(monday), payload, reportTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: write weekly report %s: %w", monday, err)
	}
	return nil
}
