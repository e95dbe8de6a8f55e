package pricing

import (
	"testing"

	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	return NewEngine(config.DefaultPriceTable(), config.DeviceConfig{
		DefaultLimit:         1,
		MaxLimit:             10,
		PricePerDeviceKopeks: 5000,
		ModemPriceKopeks:     10000,
	})
}

func TestMonthsFor(t *testing.T) {
	cases := map[int]int{
		14:  1,
		20:  1,
		30:  1,
		45:  2,
		60:  2,
		90:  3,
		180: 6,
		360: 12,
	}
	for days, want := range cases {
		assert.Equal(t, want, MonthsFor(days), "days=%d", days)
	}
}

func TestApplyPercent(t *testing.T) {
	cases := []struct {
		name    string
		amount  int64
		percent int
		want    int64
	}{
		{"zero percent", 5000, 0, 5000},
		{"zero amount", 0, 50, 0},
		{"full discount", 9900, 100, 0},
		{"over full discount", 9900, 150, 0},
		{"quarter off whole rubles", 10000, 25, 7500},
		{"small discount keeps kopeks", 150, 10, 135},
		{"large discount rounds up to ruble", 9990, 25, 7500},
		{"rounding capped at original", 101, 1, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ApplyPercent(tc.amount, tc.percent))
		})
	}
}

func TestPrice_MonthlyPurchase(t *testing.T) {
	e := testEngine()

	quote, err := e.Price(Request{
		PeriodDays:  30,
		TrafficGB:   10,
		DeviceLimit: 2,
		Squads:      []SquadPrice{{UUID: "nl-1", MonthlyKopeks: 15000}},
	})
	require.NoError(t, err)

	assert.Equal(t, QuoteKindPurchase, quote.Kind)
	assert.Equal(t, 1, quote.Months)
	// 99000 base + 5000 traffic + 15000 server + 5000 extra device.
	assert.Equal(t, int64(124000), quote.TotalKopeks)
	assert.Len(t, quote.Lines, 4)
}

func TestPrice_QuarterWithTrafficDiscount(t *testing.T) {
	e := testEngine()

	quote, err := e.Price(Request{
		PeriodDays:  90,
		TrafficGB:   50,
		DeviceLimit: 1,
		Discounts:   Discounts{TrafficPercent: 25},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, quote.Months)
	assert.Equal(t, int64(7500), quote.DiscountedTrafficKopeks)
	// 269000 base + 3 months of discounted traffic.
	assert.Equal(t, int64(291500), quote.TotalKopeks)
}

func TestPrice_ModemBilledAsDeviceComponent(t *testing.T) {
	e := testEngine()

	without, err := e.Price(Request{PeriodDays: 30, TrafficGB: 0, DeviceLimit: 1})
	require.NoError(t, err)
	with, err := e.Price(Request{PeriodDays: 30, TrafficGB: 0, DeviceLimit: 1, ModemEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), with.TotalKopeks-without.TotalKopeks)
	assert.Equal(t, int64(10000), with.DevicesMonthlyKopeks)
}

func TestPrice_Errors(t *testing.T) {
	e := testEngine()

	_, err := e.Price(Request{PeriodDays: 31, TrafficGB: 10, DeviceLimit: 1})
	assert.ErrorIs(t, err, ErrUnknownPeriod)

	_, err = e.Price(Request{PeriodDays: 30, TrafficGB: 7, DeviceLimit: 1})
	assert.ErrorIs(t, err, ErrUnknownTrafficTier)

	_, err = e.Price(Request{PeriodDays: 30, TrafficGB: 10, DeviceLimit: 11})
	assert.ErrorIs(t, err, ErrDeviceLimitRange)

	_, err = e.Price(Request{PeriodDays: 30, TrafficGB: 10, DeviceLimit: 0})
	assert.ErrorIs(t, err, ErrDeviceLimitRange)
}

func TestAddOn_ProratesAndNeverRefunds(t *testing.T) {
	e := testEngine()

	quote, err := e.AddOn(AddOnRequest{
		DaysLeft:                  20,
		TrafficMonthlyDeltaKopeks: 5000,
		ServersMonthlyDeltaKopeks: -3000,
		DevicesDelta:              1,
		AddModem:                  true,
	})
	require.NoError(t, err)

	assert.Equal(t, QuoteKindAddOn, quote.Kind)
	assert.Equal(t, 1, quote.Months)
	assert.Equal(t, int64(0), quote.ServersMonthlyKopeks)
	// 5000 traffic + 5000 device + 10000 modem, one remaining month.
	assert.Equal(t, int64(20000), quote.TotalKopeks)
}

func TestAddOn_LongRemainderMultipliesMonths(t *testing.T) {
	e := testEngine()

	quote, err := e.AddOn(AddOnRequest{
		DaysLeft:                  170,
		TrafficMonthlyDeltaKopeks: 2000,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, quote.Months)
	assert.Equal(t, int64(12000), quote.TotalKopeks)
}

func TestResetTrafficFee(t *testing.T) {
	e := testEngine()
	fee, err := e.ResetTrafficFee()
	require.NoError(t, err)
	assert.Equal(t, int64(99000), fee)
}
