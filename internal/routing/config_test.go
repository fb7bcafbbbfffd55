package routing

import (
	"strings"
	"testing"

	"github.com/copytrade/router/internal/filter"
)

func validDoc() *Document {
	return &Document{
		Accounts: map[string]AccountConfig{
			"src": {Nickname: "source", Type: "live"},
			"dst": {Nickname: "dest", Type: "demo"},
		},
		RuleSets: map[string]RuleSetConfig{
			"conservative": {Type: "proportional", Multiplier: 1, MaxDailyTrades: 10, MaxDailyLoss: 500},
		},
		Routes: []RouteConfig{
			{ID: "r1", Source: "src", Destination: "dst", RuleSet: "conservative", Enabled: true},
		},
	}
}

func TestResolveAcceptsValidDocument(t *testing.T) {
	cfg, err := Resolve(validDoc(), filter.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].ID != "r1" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
	if cfg.RuleSets["conservative"].Sizing == nil {
		t.Errorf("expected a resolved sizing mode")
	}
}

func TestResolveRejectsMissingRouteID(t *testing.T) {
	doc := validDoc()
	doc.Routes[0].ID = ""
	if _, err := Resolve(doc, filter.NewRegistry()); err == nil {
		t.Fatalf("expected a missing route id to fail resolution")
	}
}

func TestResolveRejectsDuplicateRouteID(t *testing.T) {
	doc := validDoc()
	doc.Routes = append(doc.Routes, doc.Routes[0])
	_, err := Resolve(doc, filter.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "duplicate route id") {
		t.Fatalf("expected a duplicate route id error, got %v", err)
	}
}

func TestResolveRejectsUnknownAccountReference(t *testing.T) {
	doc := validDoc()
	doc.Routes[0].Source = "ghost"
	_, err := Resolve(doc, filter.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "unknown source account") {
		t.Fatalf("expected an unknown source account error, got %v", err)
	}
}

func TestResolveRejectsUnknownRuleSetReference(t *testing.T) {
	doc := validDoc()
	doc.Routes[0].RuleSet = "ghost"
	_, err := Resolve(doc, filter.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "unknown rule set") {
		t.Fatalf("expected an unknown rule set error, got %v", err)
	}
}

func TestResolveRejectsUnknownFilterName(t *testing.T) {
	doc := validDoc()
	rs := doc.RuleSets["conservative"]
	rs.Filters = []string{"not_a_real_filter"}
	doc.RuleSets["conservative"] = rs
	_, err := Resolve(doc, filter.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "unknown filter") {
		t.Fatalf("expected an unknown filter error, got %v", err)
	}
}

func TestResolveCollectsMultipleProblemsTogether(t *testing.T) {
	doc := validDoc()
	doc.Routes[0].Source = "ghost"
	doc.Routes[0].Destination = "ghost2"
	_, err := Resolve(doc, filter.NewRegistry())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(err.Error(), "ghost") || !strings.Contains(err.Error(), "ghost2") {
		t.Errorf("expected both problems to be reported together, got: %v", err)
	}
}

func TestResolveSizingProportionalRequiresPositiveMultiplier(t *testing.T) {
	doc := validDoc()
	rs := doc.RuleSets["conservative"]
	rs.Multiplier = 0
	doc.RuleSets["conservative"] = rs
	if _, err := Resolve(doc, filter.NewRegistry()); err == nil {
		t.Fatalf("expected a zero multiplier to fail resolution")
	}
}

func TestResolveSizingFixedRequiresPositiveLotSize(t *testing.T) {
	doc := validDoc()
	rs := doc.RuleSets["conservative"]
	rs.Type = "fixed"
	rs.FixedLotSize = 0
	doc.RuleSets["conservative"] = rs
	if _, err := Resolve(doc, filter.NewRegistry()); err == nil {
		t.Fatalf("expected fixed sizing with no lot size to fail resolution")
	}
}

func TestResolveSizingDynamicRequiresAtLeastOneTier(t *testing.T) {
	doc := validDoc()
	rs := doc.RuleSets["conservative"]
	rs.Type = "dynamic"
	doc.RuleSets["conservative"] = rs
	if _, err := Resolve(doc, filter.NewRegistry()); err == nil {
		t.Fatalf("expected dynamic sizing with no tiers to fail resolution")
	}
}

func TestResolveSizingUnknownTypeFails(t *testing.T) {
	doc := validDoc()
	rs := doc.RuleSets["conservative"]
	rs.Type = "unknown"
	doc.RuleSets["conservative"] = rs
	if _, err := Resolve(doc, filter.NewRegistry()); err == nil {
		t.Fatalf("expected an unknown sizing type to fail resolution")
	}
}

func TestParseDecodesValidJSON(t *testing.T) {
	raw := []byte(`{"accounts":{},"ruleSets":{},"routes":[]}`)
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Accounts == nil || doc.RuleSets == nil {
		t.Errorf("expected empty-but-non-nil maps after decoding")
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatalf("expected invalid JSON to fail parsing")
	}
}

func TestParseAcceptsUnknownFields(t *testing.T) {
	raw := []byte(`{"accounts":{},"ruleSets":{},"routes":[],"somethingElse":true}`)
	if _, err := Parse(raw); err != nil {
		t.Fatalf("expected unknown top-level fields to be ignored, got error: %v", err)
	}
}

func TestParseAccountTypeVariants(t *testing.T) {
	cases := map[string]string{
		"live": "live", "demo": "demo",
		"prop_evaluation": "prop-evaluation", "propevaluation": "prop-evaluation",
		"prop_funded": "prop-funded", "propfunded": "prop-funded",
		"bogus": "live",
	}
	for in, want := range cases {
		if got := string(parseAccountType(in)); got != want {
			t.Errorf("parseAccountType(%q) = %q, want %q", in, got, want)
		}
	}
}
