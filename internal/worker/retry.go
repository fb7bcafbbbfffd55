package worker

import (
	"context"
	"log/slog"

	"github.com/copytrade/router/internal/domain"
)

// runPendingExitRetries re-runs the close path for every pending exit queued
// for this worker's source account. The
// store has already incremented each entry's retry counter on listing;
// entries that still fail are simply left for the next tick and expire on
// their own after 48h.
func (w *Worker) runPendingExitRetries(ctx context.Context) {
	entries, err := w.st.ListPendingExits(ctx, w.source.ID)
	if err != nil {
		w.log.Warn("list pending exits failed", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		w.retryPendingExit(ctx, entry)
	}
}

// retryPendingCloses re-attempts every close that couldn't resolve its
// mapping or queue its exit during a store outage. Each entry is re-driven
// through resolveClose, which re-adds it to pendingCloses on its own if the
// store is still down.
func (w *Worker) retryPendingCloses(ctx context.Context) {
	for positionID, info := range w.pendingCloses {
		w.resolveClose(ctx, positionID, info)
	}
}

func (w *Worker) retryPendingExit(ctx context.Context, entry domain.PendingExit) {
	destList, err := w.poolClient.GetPositions(ctx, w.dest.ID, w.dest.Region)
	if err != nil {
		w.log.Warn("retry pending exit: fetch destination positions failed",
			slog.String("position", entry.Mapping.DestPositionID), slog.String("error", err.Error()))
		return
	}

	stillOpen := false
	for _, dp := range destList {
		if dp.ID == entry.Mapping.DestPositionID {
			stillOpen = true
			break
		}
	}
	if !stillOpen {
		_ = w.st.DeleteMapping(ctx, entry.Mapping.Key)
		_ = w.st.RemovePendingExit(ctx, entry.Mapping.Key)
		return
	}

	res, err := w.poolClient.ClosePosition(ctx, w.dest.ID, w.dest.Region, entry.Mapping.DestPositionID)
	if err != nil || !res.Success {
		w.log.Warn("retry pending exit failed",
			slog.String("position", entry.Mapping.DestPositionID), slog.Int("retry_count", entry.RetryCount))
		return
	}

	_ = w.st.MarkClosed(ctx, w.dest.ID, entry.Mapping.DestPositionID)
	_ = w.st.DeleteMapping(ctx, entry.Mapping.Key)
	_ = w.st.RemovePendingExit(ctx, entry.Mapping.Key)
	w.notifier.ExitCopied(ctx, w.rc, entry.Mapping, domain.CloseInfo{Reason: domain.CloseReasonOpaque}, res)
}
