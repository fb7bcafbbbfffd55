package domain

// EventKind is the shape every position monitor backend (polling or
// streaming) normalizes its output to.
type EventKind string

const (
	EventOpened EventKind = "opened"
	EventUpdated EventKind = "updated"
	EventClosed  EventKind = "closed"
)

// Event is one entry in the ordered per-position stream the position
// monitor produces. For EventClosed, Position carries the last-known
// snapshot and CloseInfo (when available) classifies the close.
type Event struct {
	Kind      EventKind
	AccountID string
	Position  Position
	CloseInfo *CloseInfo
}
