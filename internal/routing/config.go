// Package routing parses and validates the routing configuration file: the
// JSON document naming accounts, rule sets, filter parameters, routes, and
// global settings. Parsing decodes directly into tagged Go sum
// types — no ad-hoc map[string]any shape-checking survives past this
// package.
package routing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/filter"
)

// AccountConfig is one entry under "accounts".
type AccountConfig struct {
	Nickname string `json:"nickname"`
	Platform string `json:"platform"`
	Region   string `json:"region"`
	Type     string `json:"type"`
}

// RuleSetConfig is one entry under "ruleSets", before its sizing mode is
// resolved into a domain.SizingMode.
type RuleSetConfig struct {
	Type                 string              `json:"type"` // proportional | fixed | dynamic
	Multiplier           float64             `json:"multiplier,omitempty"`
	FixedLotSize         float64             `json:"fixedLotSize,omitempty"`
	Dynamic              []domain.DynamicTier `json:"dynamic,omitempty"`
	MaxDailyTrades       int                 `json:"maxDailyTrades"`
	MaxDailyLoss         float64             `json:"maxDailyLoss"`
	MinTimeBetweenTrades int64               `json:"minTimeBetweenTrades"`
	MaxOpenPositions     int                 `json:"maxOpenPositions"`
	MaxConcurrentCycles  int                 `json:"maxConcurrentCycles"`
	PriceClusterPips     float64             `json:"priceClusterPips"`
	BaseLots             float64             `json:"baseLots"`
	SoftLossThreshold    float64             `json:"softLossThreshold"`
	AllowedUTCHours      []int               `json:"allowedUtcHours"`
	Filters              []string            `json:"filters"`
}

// RouteConfig is one entry under "routes".
type RouteConfig struct {
	ID                    string                  `json:"id"`
	Name                  string                  `json:"name"`
	Source                string                  `json:"source"`
	Destination           string                  `json:"destination"`
	RuleSet               string                  `json:"ruleSet"`
	Enabled               bool                    `json:"enabled"`
	CopyExistingPositions bool                    `json:"copyExistingPositions"`
	StopLossBufferPips    float64                 `json:"stopLossBufferPips"`
	TakeProfitBufferPips  float64                 `json:"takeProfitBufferPips"`
	Notifications         domain.NotificationFlags `json:"notifications"`
}

// EmergencyStopConfig mirrors domain.EmergencyStopConfig's JSON shape under
// "globalSettings.emergencyStopLoss".
type EmergencyStopConfig struct {
	Enabled        bool    `json:"enabled"`
	DailyLossLimit float64 `json:"dailyLossLimit"`
}

// GlobalSettingsConfig is "globalSettings".
type GlobalSettingsConfig struct {
	EmergencyStopLoss EmergencyStopConfig  `json:"emergencyStopLoss"`
	AlertSettings     domain.AlertSettings `json:"alertSettings"`
}

// Document is the whole routing configuration file, decoded as-is before
// resolution into domain types. Unknown top-level or nested fields are
// ignored by encoding/json's default behavior, matching ("unknown
// fields are ignored").
type Document struct {
	Accounts        map[string]AccountConfig         `json:"accounts"`
	RuleSets        map[string]RuleSetConfig         `json:"ruleSets"`
	Filters         map[string]map[string]any        `json:"filters"`
	Routes          []RouteConfig                    `json:"routes"`
	GlobalSettings  GlobalSettingsConfig              `json:"globalSettings"`
}

// Parse decodes a routing configuration document from raw JSON.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return &doc, nil
}

// Config is the fully validated, resolved routing configuration: every
// reference checked, every rule set's sizing mode resolved into its
// domain.SizingMode sum type, every filter pipeline buildable.
type Config struct {
	Accounts map[string]domain.Account
	RuleSets map[string]domain.RuleSet
	Routes   []domain.Route
	Global   domain.GlobalSettings
}

// Resolve validates doc against registry and produces a Config. Every
// violation is collected and returned together; callers get one error naming every
// problem, not just the first.
func Resolve(doc *Document, registry *filter.Registry) (*Config, error) {
	var problems []string

	accounts := make(map[string]domain.Account, len(doc.Accounts))
	for id, a := range doc.Accounts {
		accounts[id] = domain.Account{
			ID:       id,
			Nickname: a.Nickname,
			Platform: a.Platform,
			Region:   a.Region,
			Type:     parseAccountType(a.Type),
		}
	}

	ruleSets := make(map[string]domain.RuleSet, len(doc.RuleSets))
	for name, rc := range doc.RuleSets {
		mode, err := resolveSizing(rc)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ruleSet %q: %v", name, err))
			continue
		}
		for _, fname := range rc.Filters {
			if !registry.Known(fname) {
				problems = append(problems, fmt.Sprintf("ruleSet %q: unknown filter %q", name, fname))
			}
		}
		ruleSets[name] = domain.RuleSet{
			Name:                       name,
			Sizing:                     mode,
			MaxDailyTrades:             rc.MaxDailyTrades,
			MaxDailyLoss:               rc.MaxDailyLoss,
			MinTimeBetweenTradesMs:     rc.MinTimeBetweenTrades,
			MaxConcurrentDestPositions: rc.MaxOpenPositions,
			MaxConcurrentCycles:        rc.MaxConcurrentCycles,
			PriceClusterPips:           rc.PriceClusterPips,
			BaseLots:                   rc.BaseLots,
			SoftLossThreshold:          rc.SoftLossThreshold,
			AllowedUTCHours:            rc.AllowedUTCHours,
			Filters:                    rc.Filters,
		}
	}

	routes := make([]domain.Route, 0, len(doc.Routes))
	seenIDs := make(map[string]struct{}, len(doc.Routes))
	for _, rc := range doc.Routes {
		if rc.ID == "" {
			problems = append(problems, "route: missing required field \"id\"")
			continue
		}
		if _, dup := seenIDs[rc.ID]; dup {
			problems = append(problems, fmt.Sprintf("route %q: duplicate route id", rc.ID))
		}
		seenIDs[rc.ID] = struct{}{}

		if _, ok := accounts[rc.Source]; !ok {
			problems = append(problems, fmt.Sprintf("route %q: unknown source account %q", rc.ID, rc.Source))
		}
		if _, ok := accounts[rc.Destination]; !ok {
			problems = append(problems, fmt.Sprintf("route %q: unknown destination account %q", rc.ID, rc.Destination))
		}
		if _, ok := ruleSets[rc.RuleSet]; !ok {
			problems = append(problems, fmt.Sprintf("route %q: unknown rule set %q", rc.ID, rc.RuleSet))
		}

		routes = append(routes, domain.Route{
			ID:                    rc.ID,
			Name:                  rc.Name,
			Source:                rc.Source,
			Destination:           rc.Destination,
			RuleSet:               rc.RuleSet,
			Enabled:               rc.Enabled,
			CopyExistingPositions: rc.CopyExistingPositions,
			Notifications:         rc.Notifications,
			StopLossBufferPips:    rc.StopLossBufferPips,
			TakeProfitBufferPips:  rc.TakeProfitBufferPips,
		})
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigInvalid, strings.Join(problems, "; "))
	}

	return &Config{
		Accounts: accounts,
		RuleSets: ruleSets,
		Routes:   routes,
		Global: domain.GlobalSettings{
			EmergencyStop: domain.EmergencyStopConfig{
				Enabled:        doc.GlobalSettings.EmergencyStopLoss.Enabled,
				DailyLossLimit: doc.GlobalSettings.EmergencyStopLoss.DailyLossLimit,
			},
			Alerts: doc.GlobalSettings.AlertSettings,
		},
	}, nil
}

func resolveSizing(rc RuleSetConfig) (domain.SizingMode, error) {
	switch rc.Type {
	case "proportional":
		if rc.Multiplier <= 0 {
			return nil, fmt.Errorf("proportional sizing requires a positive multiplier")
		}
		return domain.ProportionalSizing{Multiplier: rc.Multiplier}, nil
	case "fixed":
		if rc.FixedLotSize <= 0 {
			return nil, fmt.Errorf("fixed sizing requires a positive fixedLotSize")
		}
		return domain.FixedSizing{FixedLots: rc.FixedLotSize}, nil
	case "dynamic":
		if len(rc.Dynamic) == 0 {
			return nil, fmt.Errorf("dynamic sizing requires at least one tier")
		}
		return domain.DynamicSizing{Tiers: rc.Dynamic}, nil
	default:
		return nil, fmt.Errorf("unknown sizing type %q", rc.Type)
	}
}

func parseAccountType(t string) domain.AccountType {
	switch strings.ToLower(t) {
	case "demo":
		return domain.AccountDemo
	case "prop_evaluation", "propevaluation":
		return domain.AccountPropEvaluation
	case "prop_funded", "propfunded":
		return domain.AccountPropFunded
	default:
		return domain.AccountLive
	}
}
