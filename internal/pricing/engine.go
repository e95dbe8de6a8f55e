package pricing

import (
	"github.com/nebulink/vpnbroker/internal/config"
)

// Engine prices orders against the configured tables. All arithmetic is
// integer kopeks.
type Engine struct {
	table              config.PriceTable
	defaultDeviceLimit int
	maxDeviceLimit     int
	pricePerDevice     int64
	modemPrice         int64
}

func NewEngine(table config.PriceTable, devices config.DeviceConfig) *Engine {
	return &Engine{
		table:              table,
		defaultDeviceLimit: devices.DefaultLimit,
		maxDeviceLimit:     devices.MaxLimit,
		pricePerDevice:     devices.PricePerDeviceKopeks,
		modemPrice:         devices.ModemPriceKopeks,
	}
}

// MonthsFor rounds a period length to whole months, never below one.
func MonthsFor(days int) int {
	months := (days + 15) / 30
	if months < 1 {
		months = 1
	}
	return months
}

// TrafficMonthly looks up the monthly price of a traffic tier (0 = unlimited).
func (e *Engine) TrafficMonthly(gb int) (int64, error) {
	price, ok := e.table.TrafficPrices[gb]
	if !ok {
		return 0, ErrUnknownTrafficTier
	}
	return price, nil
}

// DevicesMonthly prices device slots beyond the default allowance.
func (e *Engine) DevicesMonthly(deviceLimit int) int64 {
	extra := deviceLimit - e.defaultDeviceLimit
	if extra < 0 {
		extra = 0
	}
	return int64(extra) * e.pricePerDevice
}

// ModemMonthly is the monthly price of the modem slot.
func (e *Engine) ModemMonthly() int64 { return e.modemPrice }

// ResetTrafficFee is the flat fee for zeroing used traffic mid-cycle.
func (e *Engine) ResetTrafficFee() (int64, error) {
	fee, ok := e.table.PeriodPrices[30]
	if !ok {
		return 0, ErrUnknownPeriod
	}
	return fee, nil
}

// Price produces a quote for a new purchase or a full-configuration
// extension of period days.
func (e *Engine) Price(req Request) (Quote, error) {
	base, ok := e.table.PeriodPrices[req.PeriodDays]
	if !ok {
		return Quote{}, ErrUnknownPeriod
	}
	if req.DeviceLimit < 1 || req.DeviceLimit > e.maxDeviceLimit {
		return Quote{}, ErrDeviceLimitRange
	}

	trafficMonthly, err := e.TrafficMonthly(req.TrafficGB)
	if err != nil {
		return Quote{}, err
	}

	var serversMonthly int64
	for _, squad := range req.Squads {
		serversMonthly += squad.MonthlyKopeks
	}
	devicesMonthly := e.DevicesMonthly(req.DeviceLimit)
	if req.ModemEnabled {
		devicesMonthly += e.modemPrice
	}

	months := MonthsFor(req.PeriodDays)
	discountedBase := ApplyPercent(base, req.Discounts.PeriodPercent[req.PeriodDays])
	discountedTraffic := ApplyPercent(trafficMonthly, req.Discounts.TrafficPercent)
	discountedServers := ApplyPercent(serversMonthly, req.Discounts.ServerPercent)
	discountedDevices := ApplyPercent(devicesMonthly, req.Discounts.DevicePercent)

	quote := Quote{
		Kind:       QuoteKindPurchase,
		PeriodDays: req.PeriodDays,
		Months:     months,

		BaseKopeks:              discountedBase,
		TrafficMonthlyKopeks:    trafficMonthly,
		ServersMonthlyKopeks:    serversMonthly,
		DevicesMonthlyKopeks:    devicesMonthly,
		DiscountedTrafficKopeks: discountedTraffic,
		DiscountedServersKopeks: discountedServers,
		DiscountedDevicesKopeks: discountedDevices,

		TotalKopeks: discountedBase + int64(months)*(discountedTraffic+discountedServers+discountedDevices),
	}

	quote.Lines = []QuoteLine{
		{Component: "period", MonthlyKopeks: base, DiscountPercent: req.Discounts.PeriodPercent[req.PeriodDays], DiscountedMonthlyKopeks: discountedBase, TotalKopeks: discountedBase},
		{Component: "traffic", MonthlyKopeks: trafficMonthly, DiscountPercent: req.Discounts.TrafficPercent, DiscountedMonthlyKopeks: discountedTraffic, TotalKopeks: int64(months) * discountedTraffic},
		{Component: "servers", MonthlyKopeks: serversMonthly, DiscountPercent: req.Discounts.ServerPercent, DiscountedMonthlyKopeks: discountedServers, TotalKopeks: int64(months) * discountedServers},
		{Component: "devices", MonthlyKopeks: devicesMonthly, DiscountPercent: req.Discounts.DevicePercent, DiscountedMonthlyKopeks: discountedDevices, TotalKopeks: int64(months) * discountedDevices},
	}

	if err := quote.verify(); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// AddOn prices a mid-cycle change, prorated over the remaining months.
// Reductions never refund: every component delta is clamped at zero.
func (e *Engine) AddOn(req AddOnRequest) (Quote, error) {
	months := MonthsFor(req.DaysLeft)

	trafficDelta := clampNonNegative(req.TrafficMonthlyDeltaKopeks)
	serversDelta := clampNonNegative(req.ServersMonthlyDeltaKopeks)
	devicesDelta := int64(0)
	if req.DevicesDelta > 0 {
		devicesDelta = int64(req.DevicesDelta) * e.pricePerDevice
	}
	if req.AddModem {
		devicesDelta += e.modemPrice
	}

	discountedTraffic := ApplyPercent(trafficDelta, req.Discounts.TrafficPercent)
	discountedServers := ApplyPercent(serversDelta, req.Discounts.ServerPercent)
	discountedDevices := ApplyPercent(devicesDelta, req.Discounts.DevicePercent)

	quote := Quote{
		Kind:   QuoteKindAddOn,
		Months: months,

		TrafficMonthlyKopeks:    trafficDelta,
		ServersMonthlyKopeks:    serversDelta,
		DevicesMonthlyKopeks:    devicesDelta,
		DiscountedTrafficKopeks: discountedTraffic,
		DiscountedServersKopeks: discountedServers,
		DiscountedDevicesKopeks: discountedDevices,

		TotalKopeks: int64(months) * (discountedTraffic + discountedServers + discountedDevices),
	}

	quote.Lines = []QuoteLine{
		{Component: "traffic", MonthlyKopeks: trafficDelta, DiscountPercent: req.Discounts.TrafficPercent, DiscountedMonthlyKopeks: discountedTraffic, TotalKopeks: int64(months) * discountedTraffic},
		{Component: "servers", MonthlyKopeks: serversDelta, DiscountPercent: req.Discounts.ServerPercent, DiscountedMonthlyKopeks: discountedServers, TotalKopeks: int64(months) * discountedServers},
		{Component: "devices", MonthlyKopeks: devicesDelta, DiscountPercent: req.Discounts.DevicePercent, DiscountedMonthlyKopeks: discountedDevices, TotalKopeks: int64(months) * discountedDevices},
	}

	if err := quote.verify(); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// verify recomputes the total identity from the itemized lines.
func (q Quote) verify() error {
	var sum int64
	for _, line := range q.Lines {
		sum += line.TotalKopeks
	}
	if sum != q.TotalKopeks {
		return ErrQuoteInconsistent
	}
	expected := q.BaseKopeks + int64(q.Months)*(q.DiscountedTrafficKopeks+q.DiscountedServersKopeks+q.DiscountedDevicesKopeks)
	if expected != q.TotalKopeks {
		return ErrQuoteInconsistent
	}
	return nil
}

// ApplyPercent discounts amount by percent with integer arithmetic. When
// the discount is at least a whole ruble (100 kopeks) and the result is not
// ruble-aligned, the result is rounded up to the next ruble, capped at the
// original amount. Fractional-kopek truncation must not under-charge.
func ApplyPercent(amount int64, percent int) int64 {
	if amount <= 0 || percent <= 0 {
		return amount
	}
	if percent >= 100 {
		return 0
	}
	discount := amount * int64(percent) / 100
	result := amount - discount
	if discount >= 100 && result%100 != 0 {
		result += 100 - result%100
		if result > amount {
			result = amount
		}
	}
	return result
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
