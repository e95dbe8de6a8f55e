// Package pricing is the deterministic order pricing engine. It is pure:
// given a request and the configured price tables it produces an itemized
// Quote without touching the database or the panel.
package pricing

import (
	"time"
)

// QuoteKind distinguishes how a quote was produced.
type QuoteKind string

const (
	QuoteKindPurchase  QuoteKind = "purchase"
	QuoteKindExtension QuoteKind = "extension"
	QuoteKindAddOn     QuoteKind = "addon"
)

// SquadPrice is the priced view of a selectable server.
type SquadPrice struct {
	UUID          string
	MonthlyKopeks int64
}

// Discounts carries the promo group percentages applied per component.
type Discounts struct {
	ServerPercent  int
	TrafficPercent int
	DevicePercent  int
	// PeriodPercent maps period days to a base-price discount
	// (default group only).
	PeriodPercent map[int]int
}

// Request prices a new purchase or a full-configuration extension.
// A modem slot is billed as part of the devices component.
type Request struct {
	PeriodDays   int
	TrafficGB    int
	DeviceLimit  int
	ModemEnabled bool
	Squads       []SquadPrice
	Discounts    Discounts
}

// AddOnRequest prices a mid-cycle configuration change, prorated over the
// remaining paid months. Deltas are raw monthly kopeks before discounts;
// negative deltas never refund.
type AddOnRequest struct {
	DaysLeft                  int
	TrafficMonthlyDeltaKopeks int64
	ServersMonthlyDeltaKopeks int64
	DevicesDelta              int
	AddModem                  bool
	Discounts                 Discounts
}

// QuoteLine is one priced component of a quote.
type QuoteLine struct {
	Component               string
	MonthlyKopeks           int64
	DiscountPercent         int
	DiscountedMonthlyKopeks int64
	TotalKopeks             int64
}

// Quote is the engine's result: a line-itemized breakdown with a single
// integer total.
type Quote struct {
	Kind       QuoteKind
	PeriodDays int
	Months     int

	BaseKopeks              int64
	TrafficMonthlyKopeks    int64
	ServersMonthlyKopeks    int64
	DevicesMonthlyKopeks    int64
	DiscountedTrafficKopeks int64
	DiscountedServersKopeks int64
	DiscountedDevicesKopeks int64

	TotalKopeks int64
	Lines       []QuoteLine
	PricedAt    time.Time
}
