// Package store defines the narrow interfaces the rest of the router uses
// to persist and retrieve position mappings, pending exits, idempotency
// markers, and metrics. A Redis-backed implementation lives
// in the redisstore subpackage; a durable audit mirror lives in pgstore.
package store

import (
	"context"
	"time"

	"github.com/copytrade/router/internal/domain"
)

// Mappings persists the source-position to destination-position
// correspondence. TTL is refreshed to 7 days on every write.
type Mappings interface {
	PutMapping(ctx context.Context, m domain.Mapping) error
	// GetMapping returns domain.ErrMappingAbsent if no mapping exists for key.
	GetMapping(ctx context.Context, key domain.MappingKey) (domain.Mapping, error)
	DeleteMapping(ctx context.Context, key domain.MappingKey) error
	// ListMappings is a best-effort scan; it may miss mappings created after
	// the scan starts.
	ListMappings(ctx context.Context, sourceAccountID string) ([]domain.Mapping, error)
}

// Markers records idempotency markers: closed-position and orphan-notified,
// each with a 24h TTL.
type Markers interface {
	MarkClosed(ctx context.Context, accountID, positionID string) error
	WasRecentlyClosed(ctx context.Context, accountID, positionID string) (bool, error)
	MarkOrphanNotified(ctx context.Context, accountID, positionID string) error
	WasOrphanNotified(ctx context.Context, accountID, positionID string) (bool, error)
}

// PendingExits is the retry queue for destination closes that could not
// complete immediately. ListPendingExits atomically increments each
// returned entry's retry counter.
type PendingExits interface {
	QueuePendingExit(ctx context.Context, key domain.MappingKey, m domain.Mapping) error
	ListPendingExits(ctx context.Context, sourceAccountID string) ([]domain.PendingExit, error)
	RemovePendingExit(ctx context.Context, key domain.MappingKey) error
}

// MetricsBucket is one hour or day aggregate written by the performance
// monitor.
type MetricsBucket struct {
	Trades      int
	Profit      float64
	Loss        float64
	Positions   int
	WinRate     float64
	ProfitFactor float64
}

// Metrics is the performance monitor's write surface into the state store.
type Metrics interface {
	WriteHourlyMetrics(ctx context.Context, routeID string, hourBucket time.Time, m MetricsBucket) error
	WriteDailyMetrics(ctx context.Context, routeID string, dayBucket time.Time, m MetricsBucket) error
	WritePerfCache(ctx context.Context, routeID, window string, payload []byte) error
	WriteAlert(ctx context.Context, alertID string, payload []byte) error
	WriteStatsSnapshot(ctx context.Context, payload []byte) error
	WriteDailyReport(ctx context.Context, date string, payload []byte) error
	WriteWeeklyReport(ctx context.Context, monday string, payload []byte) error
}

// LockManager hands out distributed locks, used by the global supervisor to
// ensure a single process drives the emergency-stop evaluation when more
// than one router instance shares a state store.
type LockManager interface {
	// Acquire returns domain.ErrLockHeld if the lock is already held. The
	// returned func releases the lock; it is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ControlBus is the optional Redis pub/sub channel used for operator
// commands.
type ControlBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Store aggregates every persistence surface C1 exposes.
type Store interface {
	Mappings
	Markers
	PendingExits
	Metrics
	LockManager
	ControlBus

	Close() error
}
