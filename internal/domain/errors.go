// Package domain holds the core types shared by every component of the
// copy-trading router: accounts, routes, rule sets, positions, mappings, and
// the event/error vocabulary components use to talk to each other.
package domain

import "errors"

// Sentinel errors callers branch on. Everything else is wrapped with
// fmt.Errorf("pkg: action: %w", err) at the point it's produced.
var (
	ErrNotFound          = errors.New("not found")
	ErrMappingAbsent     = errors.New("mapping absent")
	ErrStoreUnavailable  = errors.New("state store unavailable")
	ErrConfigInvalid     = errors.New("routing configuration invalid")
	ErrLockHeld          = errors.New("lock already held")
	ErrGlobalStopLatched = errors.New("global emergency stop is latched")
	ErrUnknownRoute      = errors.New("unknown route")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrUnknownRuleSet    = errors.New("unknown rule set")
	ErrUnknownFilter     = errors.New("unknown filter")
	ErrInvalidSize       = errors.New("invalid destination size")
	ErrContextDone       = errors.New("context cancelled")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)
