package domain

// AccountType enumerates the kinds of brokerage account the router mirrors
// into or out of. Prop-firm accounts carry stricter caps enforced at the
// rule-set level, not here.
type AccountType string

const (
	AccountLive           AccountType = "live"
	AccountDemo           AccountType = "demo"
	AccountPropEvaluation AccountType = "prop-evaluation"
	AccountPropFunded     AccountType = "prop-funded"
)

// Account is a stable, immutable-after-load descriptor for one brokerage
// account known to the router. The ID is the opaque string the pool service
// uses to address the account; it is never reused across accounts.
type Account struct {
	ID              string
	Nickname        string
	Platform        string
	Region          string
	Type            AccountType
	InitialBalance  float64
}
