package config

import (
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// PriceTable holds the broker's price lists in kopeks. Loaded once at boot
// from prices.yml when present, otherwise the compiled-in defaults apply.
type PriceTable struct {
	// PeriodPrices maps period length in days to the base price.
	PeriodPrices map[int]int64
	// TrafficPrices maps a traffic tier in GB (0 = unlimited) to its monthly price.
	TrafficPrices map[int]int64
}

func DefaultPriceTable() PriceTable {
	return PriceTable{
		PeriodPrices: map[int]int64{
			14:  59_000,
			30:  99_000,
			60:  189_000,
			90:  269_000,
			180: 499_000,
			360: 899_000,
		},
		TrafficPrices: map[int]int64{
			0:   0,
			5:   3_000,
			10:  5_000,
			25:  7_000,
			50:  10_000,
			100: 15_000,
			250: 17_000,
			500: 25_000,
		},
	}
}

// LoadPriceTable reads prices.yml from the usual config locations. Missing
// file means defaults; a malformed file is a boot error.
func LoadPriceTable() (PriceTable, error) {
	v := viper.New()
	v.SetConfigName("prices")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/vpnbroker")
	v.AddConfigPath(".")
	v.SetEnvPrefix("VPNBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	table := DefaultPriceTable()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return table, nil
		}
		return PriceTable{}, err
	}

	var file struct {
		Periods map[int]int64 `mapstructure:"periods"`
		Traffic map[int]int64 `mapstructure:"traffic"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return PriceTable{}, err
	}
	if len(file.Periods) > 0 {
		table.PeriodPrices = file.Periods
	}
	if len(file.Traffic) > 0 {
		table.TrafficPrices = file.Traffic
	}
	return table, nil
}

// Periods returns the configured period lengths in ascending order.
func (t PriceTable) Periods() []int {
	out := make([]int, 0, len(t.PeriodPrices))
	for days := range t.PeriodPrices {
		out = append(out, days)
	}
	sort.Ints(out)
	return out
}

// TrafficTiers returns the configured traffic tiers in ascending order,
// with the unlimited tier (0) last.
func (t PriceTable) TrafficTiers() []int {
	out := make([]int, 0, len(t.TrafficPrices))
	unlimited := false
	for gb := range t.TrafficPrices {
		if gb == 0 {
			unlimited = true
			continue
		}
		out = append(out, gb)
	}
	sort.Ints(out)
	if unlimited {
		out = append(out, 0)
	}
	return out
}
