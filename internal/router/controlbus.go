package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"

	"github.com/copytrade/router/internal/domain"
)

const (
	controlBusChannel = "routing:commands"
	hmacIterations    = 480_000
	hmacKeyLen        = 32
)

// hmacSalt is fixed rather than random: the operator's publishing tool and
// this subscriber must derive the identical key from the same configured
// passphrase, and there is no channel to exchange a random salt over.
var hmacSalt = []byte("copytrade-router-control-bus-v1")

// DeriveControlBusKey turns an operator-configured passphrase into the
// HMAC-SHA256 signing key used to authenticate routing:commands payloads.
// Grounded on the teacher's internal/crypto/keymanager.go, which derives an
// AES key from a password the same way; here the derived key signs rather
// than encrypts, so only pbkdf2.Key + crypto/hmac are needed.
func DeriveControlBusKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), hmacSalt, hmacIterations, hmacKeyLen, sha256.New)
}

// Command is the routing:commands wire payload.
type Command struct {
	Type    string `json:"type"` // toggle_route | reload_config | get_stats
	RouteID string `json:"routeId,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// signedEnvelope wraps a Command with its signature. The signature covers
// the raw payload bytes, not a re-serialization of them, so the verifier
// never needs the two sides to agree on JSON field ordering.
type signedEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// SignCommand produces the routing:commands payload a control-bus publisher
// sends. Exported for operator tooling, not used by the router itself.
func SignCommand(key []byte, cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("controlbus: marshal command: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	env := signedEnvelope{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
	return json.Marshal(env)
}

// verifyEnvelope checks the HMAC and returns the enclosed command. Any
// malformed or mis-signed payload is rejected outright — a compromised
// Redis subscriber cannot flip a route without the passphrase.
func verifyEnvelope(key []byte, raw []byte) (Command, error) {
	var env signedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Command{}, fmt.Errorf("controlbus: decode envelope: %w", err)
	}
	got, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return Command{}, fmt.Errorf("controlbus: decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(env.Payload)
	if !hmac.Equal(mac.Sum(nil), got) {
		return Command{}, fmt.Errorf("controlbus: signature mismatch")
	}
	var cmd Command
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("controlbus: decode command: %w", err)
	}
	return cmd, nil
}

// RunControlBus subscribes to routing:commands and dispatches toggle_route,
// reload_config, and get_stats. It blocks until ctx
// is cancelled or the subscription channel closes.
func (r *Router) RunControlBus(ctx context.Context, key []byte, configPath, examplePath string) error {
	ch, err := r.st.Subscribe(ctx, controlBusChannel)
	if err != nil {
		return fmt.Errorf("controlbus: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			cmd, err := verifyEnvelope(key, raw)
			if err != nil {
				r.log.Warn("control-bus command rejected", slog.String("error", err.Error()))
				continue
			}
			r.handleCommand(ctx, cmd, configPath, examplePath)
		}
	}
}

func (r *Router) handleCommand(ctx context.Context, cmd Command, configPath, examplePath string) {
	switch cmd.Type {
	case "toggle_route":
		if err := r.ToggleRoute(ctx, cmd.RouteID, cmd.Enabled); err != nil {
			r.log.Error("toggle_route failed", slog.String("route", cmd.RouteID), slog.String("error", err.Error()))
		}
	case "reload_config":
		if err := r.reloadConfig(ctx, configPath, examplePath); err != nil {
			r.log.Error("reload_config failed", slog.String("error", err.Error()))
		}
	case "get_stats":
		payload, err := r.StatsSnapshotPayload()
		if err != nil {
			r.log.Error("get_stats failed", slog.String("error", err.Error()))
			return
		}
		if err := r.st.WriteStatsSnapshot(ctx, payload); err != nil {
			r.log.Error("write stats snapshot failed", slog.String("error", err.Error()))
		}
	default:
		r.log.Warn("unknown control-bus command", slog.String("type", cmd.Type))
	}
}

// reloadConfig re-reads the routing config file and reconciles running
// workers against it: routes that became disabled or whose definition
// changed are stopped (and restarted if still enabled), newly-enabled
// routes are started, and routes removed from the file entirely are
// stopped without touching any other route.
func (r *Router) reloadConfig(ctx context.Context, path, examplePath string) error {
	newCfg, err := Load(path, examplePath, r.registry)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oldByID := make(map[string]domain.Route, len(r.cfg.Routes))
	for _, rt := range r.cfg.Routes {
		oldByID[rt.ID] = rt
	}
	r.cfg = newCfg

	seen := make(map[string]bool, len(newCfg.Routes))
	for _, rt := range newCfg.Routes {
		seen[rt.ID] = true
		prev, existed := oldByID[rt.ID]
		changed := !existed || prev != rt
		rw, running := r.workers[rt.ID]

		switch {
		case running && (!rt.Enabled || changed):
			rw.cancel()
			delete(r.workers, rt.ID)
			if rt.Enabled && changed {
				if err := r.startWorkerLocked(ctx, rt); err != nil {
					r.log.Error("restart route after reload failed", slog.String("route", rt.ID), slog.String("error", err.Error()))
				}
			}
		case !running && rt.Enabled:
			if err := r.startWorkerLocked(ctx, rt); err != nil {
				r.log.Error("start route after reload failed", slog.String("route", rt.ID), slog.String("error", err.Error()))
			}
		}
	}

	for id, rw := range r.workers {
		if !seen[id] {
			rw.cancel()
			delete(r.workers, id)
		}
	}

	r.log.Info("config reloaded", slog.Int("routes", len(newCfg.Routes)))
	return nil
}
