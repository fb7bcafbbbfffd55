package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/filter"
	"github.com/copytrade/router/internal/pips"
	"github.com/copytrade/router/internal/sizer"
)

// handleOpened implements Opened pseudocode.
func (w *Worker) handleOpened(ctx context.Context, position domain.Position) {
	if _, done := w.processedTradeIds[position.ID]; done {
		return
	}

	if w.rule.MaxDailyLoss > 0 && w.dailyLoss >= w.rule.MaxDailyLoss {
		w.processedTradeIds[position.ID] = struct{}{}
		return
	}

	verdict := w.pipeline.Evaluate(filter.Candidate{Position: position}, w.filterState(), true)
	if !verdict.Accept {
		w.notifier.FilterRejection(ctx, w.rc, position, verdict.Reasons)
		return
	}

	destPositions, err := w.poolClient.GetPositions(ctx, w.dest.ID, w.dest.Region)
	if err != nil {
		w.log.Error("fetch destination positions failed", slog.String("error", err.Error()))
		w.notifier.CopyFailure(ctx, w.rc, position, fmt.Sprintf("fetch destination positions: %v", err))
		return
	}
	correlationPrefix := correlationComment(position.ID, 0)
	for _, dp := range destPositions {
		if strings.Contains(dp.Comment, correlationPrefix) {
			w.processedTradeIds[position.ID] = struct{}{}
			w.notifier.CopyFailure(ctx, w.rc, position, "duplicate")
			return
		}
	}

	destVolume, err := w.sz.Compute(position.Volume, w.dailyLoss, w.limitsFor(position.Symbol))
	if err != nil {
		w.notifier.CopyFailure(ctx, w.rc, position, "invalid-size")
		return
	}

	sl := withBuffer(position.StopLoss, w.route.StopLossBufferPips, position.Side, position.Symbol, position.OpenPrice, false)
	tp := withBuffer(position.TakeProfit, w.route.TakeProfitBufferPips, position.Side, position.Symbol, position.OpenPrice, true)

	comment := correlationComment(position.ID, int64(position.Volume*100+0.5))
	res, err := w.poolClient.ExecuteTrade(ctx, w.dest.ID, w.dest.Region, domain.TradeRequest{
		Symbol:     position.Symbol,
		Side:       position.Side,
		Volume:     destVolume,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    comment,
	})
	if err != nil || !res.Success {
		reason := res.Error
		if reason == "" && err != nil {
			reason = err.Error()
		}
		w.notifier.CopyFailure(ctx, w.rc, position, reason)
		return
	}

	mapping := domain.Mapping{
		Key:             domain.MappingKey{SourceAccountID: w.source.ID, SourcePositionID: position.ID},
		DestAccountID:   w.dest.ID,
		DestPositionID:  res.OrderID,
		Symbol:          position.Symbol,
		SourceVolume:    position.Volume,
		DestVolume:      destVolume,
		OpenedAt:        w.clock.Now(),
		SourceOpenPrice: position.OpenPrice,
		DestOpenPrice:   res.OpenPrice,
	}
	if err := w.st.PutMapping(ctx, mapping); err != nil {
		w.log.Error("store mapping failed", slog.String("error", err.Error()))
	}

	w.processedTradeIds[position.ID] = struct{}{}
	w.lastTradeEpochMs = w.clock.Now().UnixMilli()
	w.tradesToday++
	if pip := pips.Size(position.Symbol); pip > 0 && res.OpenPrice > 0 {
		w.lastSlippagePips = (res.OpenPrice - position.OpenPrice) / pip
		if w.lastSlippagePips < 0 {
			w.lastSlippagePips = -w.lastSlippagePips
		}
	}
	w.notifier.CopySuccess(ctx, w.rc, position, destVolume, res)
}

// handleUpdated implements Updated handling: refresh the cached
// position, detect a partial close, and propagate SL/TP changes.
func (w *Worker) handleUpdated(ctx context.Context, position domain.Position) {
	old, known := w.sourcePositions[position.ID]
	w.sourcePositions[position.ID] = position
	if !known {
		return
	}

	if old.Volume > position.Volume {
		w.handlePartialClose(ctx, position.ID, old.Volume, position.Volume)
	}

	if equalSLTP(old.StopLoss, position.StopLoss) && equalSLTP(old.TakeProfit, position.TakeProfit) {
		return
	}

	mapping, err := w.st.GetMapping(ctx, domain.MappingKey{SourceAccountID: w.source.ID, SourcePositionID: position.ID})
	if err != nil {
		return
	}

	sl := withBuffer(position.StopLoss, w.route.StopLossBufferPips, position.Side, position.Symbol, position.OpenPrice, false)
	tp := withBuffer(position.TakeProfit, w.route.TakeProfitBufferPips, position.Side, position.Symbol, position.OpenPrice, true)
	if _, err := w.poolClient.ModifyPosition(ctx, w.dest.ID, w.dest.Region, mapping.DestPositionID, sl, tp); err != nil {
		w.log.Warn("propagate SL/TP failed", slog.String("position", position.ID), slog.String("error", err.Error()))
	}
}

// handlePartialClose scales the destination volume down to match a shrunken
// source position, skipping closes too small to be worth a lot-step.
func (w *Worker) handlePartialClose(ctx context.Context, positionID string, oldVolume, newVolume float64) {
	mapping, err := w.st.GetMapping(ctx, domain.MappingKey{SourceAccountID: w.source.ID, SourcePositionID: positionID})
	if err != nil {
		return
	}

	limits := w.limitsFor(mapping.Symbol)
	step := limits.LotStep
	if step <= 0 {
		step = 0.01
	}

	closeVolume, fullClose := sizer.ScalePartialClose(oldVolume, newVolume, mapping.DestVolume, limits)
	if closeVolume < step {
		return
	}

	if fullClose {
		res, err := w.poolClient.ClosePosition(ctx, w.dest.ID, w.dest.Region, mapping.DestPositionID)
		if err != nil || !res.Success {
			w.log.Warn("partial-close-as-full-close failed", slog.String("position", positionID))
			return
		}
		_ = w.st.MarkClosed(ctx, w.dest.ID, mapping.DestPositionID)
		_ = w.st.DeleteMapping(ctx, mapping.Key)
		return
	}

	res, err := w.poolClient.ClosePositionPartial(ctx, w.dest.ID, w.dest.Region, mapping.DestPositionID, closeVolume)
	if err != nil || !res.Success {
		w.log.Warn("partial close failed", slog.String("position", positionID))
		return
	}
	mapping.DestVolume = domain.Round2(mapping.DestVolume - closeVolume)
	mapping.SourceVolume = newVolume
	if err := w.st.PutMapping(ctx, mapping); err != nil {
		w.log.Error("update mapping after partial close failed", slog.String("error", err.Error()))
	}
}

// handleClosed implements Closed pseudocode.
func (w *Worker) handleClosed(ctx context.Context, positionID string, info domain.CloseInfo) {
	delete(w.sourcePositions, positionID)
	switch {
	case info.Profit < 0:
		w.dailyLoss += -info.Profit
		w.totalLoss += -info.Profit
		w.losses++
		w.consecutiveLosses++
	case info.Profit > 0:
		w.totalProfit += info.Profit
		w.wins++
		w.consecutiveLosses = 0
	}

	w.resolveClose(ctx, positionID, info)
}

// resolveClose looks up the mapping for a closed source position and drives
// the destination close to completion. A store outage on the mapping lookup
// is not the same as "no mapping": it is held in pendingCloses and retried
// on the next tick rather than triggering an orphan notification, which
// would otherwise fire on every transient outage and leak the mapping.
func (w *Worker) resolveClose(ctx context.Context, positionID string, info domain.CloseInfo) {
	mapping, err := w.st.GetMapping(ctx, domain.MappingKey{SourceAccountID: w.source.ID, SourcePositionID: positionID})
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			w.log.Warn("store unavailable resolving close, deferring", slog.String("position", positionID))
			w.pendingCloses[positionID] = info
			return
		}
		delete(w.pendingCloses, positionID)
		notified, werr := w.st.WasOrphanNotified(ctx, w.source.ID, positionID)
		if werr == nil && !notified {
			w.notifier.Orphan(ctx, w.rc, w.source.ID, positionID)
			_ = w.st.MarkOrphanNotified(ctx, w.source.ID, positionID)
		}
		return
	}
	delete(w.pendingCloses, positionID)

	destList, err := w.poolClient.GetPositions(ctx, w.dest.ID, w.dest.Region)
	if err != nil {
		w.queueExitRetry(ctx, mapping, info)
		w.notifier.ExitFailure(ctx, w.rc, mapping, fmt.Sprintf("fetch destination positions: %v", err))
		return
	}

	stillOpen := false
	for _, dp := range destList {
		if dp.ID == mapping.DestPositionID {
			stillOpen = true
			break
		}
	}

	if !stillOpen {
		_ = w.st.MarkClosed(ctx, w.dest.ID, mapping.DestPositionID)
		_ = w.st.DeleteMapping(ctx, mapping.Key)
		return
	}

	res, err := w.poolClient.ClosePosition(ctx, w.dest.ID, w.dest.Region, mapping.DestPositionID)
	if err != nil || !res.Success {
		reason := res.Error
		if reason == "" && err != nil {
			reason = err.Error()
		}
		w.queueExitRetry(ctx, mapping, info)
		w.notifier.ExitFailure(ctx, w.rc, mapping, reason)
		return
	}

	_ = w.st.MarkClosed(ctx, w.dest.ID, mapping.DestPositionID)
	_ = w.st.DeleteMapping(ctx, mapping.Key)
	w.notifier.ExitCopied(ctx, w.rc, mapping, info, res)
}

// queueExitRetry persists a pending exit to the durable retry queue. If the
// store itself is what's failing, the write is lost the same way the lookup
// would be, so the exit is kept in pendingCloses instead — retryPendingCloses
// drains it once the store answers again.
func (w *Worker) queueExitRetry(ctx context.Context, mapping domain.Mapping, info domain.CloseInfo) {
	if err := w.st.QueuePendingExit(ctx, mapping.Key, mapping); err != nil {
		w.log.Warn("queue pending exit failed, holding in memory",
			slog.String("position", mapping.Key.SourcePositionID), slog.String("error", err.Error()))
		w.pendingCloses[mapping.Key.SourcePositionID] = info
	}
}

// filterState builds the read-only snapshot the filter pipeline evaluates
// candidates against.
func (w *Worker) filterState() filter.State {
	positions := make([]domain.Position, 0, len(w.sourcePositions))
	for _, p := range w.sourcePositions {
		positions = append(positions, p)
	}
	return filter.State{
		Rule:             w.rule,
		DailyTrades:      w.tradesToday,
		DailyLoss:        w.dailyLoss,
		LastTradeEpochMs: w.lastTradeEpochMs,
		NowMs:            w.clock.Now().UnixMilli(),
		ActiveCycles:     w.activeCycles,
		SourcePositions:  positions,
		ProcessedIDs:     w.processedTradeIds,
	}
}

// correlationComment builds the executeTrade correlation comment used for
// crash-recovery dedup: "copy_{sourcePositionId}_v{centi}".
// volumeCenti of 0 yields only the prefix, used for the duplicate-scan match.
func correlationComment(sourcePositionID string, volumeCenti int64) string {
	if volumeCenti == 0 {
		return fmt.Sprintf("copy_%s_", sourcePositionID)
	}
	return fmt.Sprintf("copy_%s_v%d", sourcePositionID, volumeCenti)
}

// withBuffer loosens a source SL/TP by buffer pips, or falls back to the
// symbol-default distance when the source carries none at all.
// isTakeProfit selects which side of the trade the default distance and
// sign convention apply to.
func withBuffer(src *float64, bufferPips float64, side domain.Side, symbol string, openPrice float64, isTakeProfit bool) *float64 {
	pip := pips.Size(symbol)

	if src == nil {
		distance := pips.DefaultStopLossPips(symbol)
		if isTakeProfit {
			distance = pips.DefaultTakeProfitPips(symbol)
		}
		offset := distance * pip
		var v float64
		switch {
		case side == domain.SideBuy && !isTakeProfit, side == domain.SideSell && isTakeProfit:
			v = openPrice - offset
		default:
			v = openPrice + offset
		}
		return &v
	}

	offset := bufferPips * pip
	v := *src
	loosenUp := (side == domain.SideBuy && isTakeProfit) || (side == domain.SideSell && !isTakeProfit)
	if loosenUp {
		v += offset
	} else {
		v -= offset
	}
	return &v
}

func equalSLTP(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
