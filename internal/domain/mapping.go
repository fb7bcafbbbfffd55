package domain

import "time"

// MappingKey identifies a source position uniquely within the system: a
// source account and the broker-assigned position id on that account.
type MappingKey struct {
	SourceAccountID string
	SourcePositionID string
}

// Mapping is the persisted back-reference between a source position and the
// destination position opened to mirror it. It is value data only — volumes
// and prices captured at copy time — never an embedded broker-owned Position.
type Mapping struct {
	Key             MappingKey
	DestAccountID   string
	DestPositionID  string
	Symbol          string
	SourceVolume    float64
	DestVolume      float64
	OpenedAt        time.Time
	SourceOpenPrice float64
	DestOpenPrice   float64
}

// PendingExit is a queued intent to close a mirrored destination position
// whose source position has already closed, recorded when the close attempt
// could not complete immediately (store outage or pool failure).
type PendingExit struct {
	Mapping    Mapping
	QueuedAt   time.Time
	RetryCount int
}

// CloseReason classifies why a source position closed, inferred from the
// close deal's comment when the broker/pool supplies one.
type CloseReason string

const (
	CloseReasonTP      CloseReason = "TP"
	CloseReasonSL      CloseReason = "SL"
	CloseReasonStopOut CloseReason = "STOP_OUT"
	CloseReasonManual  CloseReason = "MANUAL"
	CloseReasonEAClose CloseReason = "EA_CLOSE"
	CloseReasonOther   CloseReason = "OTHER"
	CloseReasonOpaque  CloseReason = "CLOSED"
)

// CloseInfo carries what's known about a source close: the cause and the
// realized profit, when available from the close deal.
type CloseInfo struct {
	Reason CloseReason
	Profit float64
}
