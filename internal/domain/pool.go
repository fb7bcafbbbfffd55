package domain

// This file defines the wire contract between the copy-trading core and the
// external connection-pool service. The pool is a black box:
// these are the only shapes the core ever depends on.

// AccountSnapshot is the balance/equity/margin view of an account.
type AccountSnapshot struct {
	AccountID string
	Balance   float64
	Equity    float64
	Margin    float64
}

// TradeRequest is the input to executeTrade. Comment carries the correlation
// id ("copy_{sourcePositionId}_v{sourceVolumeCenti}") used for crash-safe
// dedup.
type TradeRequest struct {
	Symbol     string
	Side       Side
	Volume     float64
	StopLoss   *float64
	TakeProfit *float64
	Comment    string
}

// TradeResult is the output of executeTrade.
type TradeResult struct {
	Success   bool
	OrderID   string
	OpenPrice float64
	Error     string
}

// CloseResult is the output of closePosition.
type CloseResult struct {
	Success bool
	Profit  float64
	Error   string
}

// PriceQuote is a single symbol's current price.
type PriceQuote struct {
	Symbol string
	Bid    float64
	Ask    float64
}
