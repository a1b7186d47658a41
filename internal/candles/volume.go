package candles

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// Volume classification thresholds.
var (
	// whaleThreshold is the notional above which a single trade counts as
	// whale activity.
	whaleThreshold = decimal.NewFromInt(100000)

	// Tier multipliers against the rolling median 1m volume.
	tierExtremeMult = decimal.NewFromFloat(2.0)
	tierHighMult    = decimal.NewFromFloat(1.0)
	tierAboveMult   = decimal.NewFromFloat(0.5)

	// Absorption: heavy volume with almost no price movement.
	absorptionMaxMovePct = decimal.NewFromFloat(0.1)
	absorptionVolMult    = decimal.NewFromFloat(2.0)
)

// TierHistorySize is how many past 1m volumes feed the rolling median.
const TierHistorySize = 100

// MinuteStats is the raw per-minute aggregation of one instrument's trades,
// before tier classification and CVD accumulation.
type MinuteStats struct {
	Minute time.Time

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	TotalNotional decimal.Decimal
	BuyNotional   decimal.Decimal
	SellNotional  decimal.Decimal

	WhaleNotional decimal.Decimal
	WhaleCount    int
	TradeCount    int
}

// Delta is the signed buy minus sell notional.
func (m MinuteStats) Delta() decimal.Decimal {
	return m.BuyNotional.Sub(m.SellNotional)
}

// PriceChangePct is the close-over-open move in percent, zero for a zero
// open.
func (m MinuteStats) PriceChangePct() decimal.Decimal {
	if m.Open.IsZero() {
		return decimal.Zero
	}
	return m.Close.Sub(m.Open).Div(m.Open).Mul(decimal.NewFromInt(100))
}

// AggregateMinutes folds ordered trades into per-minute stats. Minutes with
// no trades are absent.
func AggregateMinutes(trades []model.Trade) ([]MinuteStats, error) {
	byMinute := make(map[string]*MinuteStats)

	for _, tr := range trades {
		ts, err := tr.Time()
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", tr.TradeID, err)
		}
		minute := model.FloorToMinute(ts)
		key := model.FormatSec(minute)

		m, ok := byMinute[key]
		if !ok {
			m = &MinuteStats{
				Minute: minute,
				Open:   tr.Price,
				High:   tr.Price,
				Low:    tr.Price,
			}
			byMinute[key] = m
		}

		if tr.Price.GreaterThan(m.High) {
			m.High = tr.Price
		}
		if tr.Price.LessThan(m.Low) {
			m.Low = tr.Price
		}
		m.Close = tr.Price

		notional := tr.Notional()
		m.TotalNotional = m.TotalNotional.Add(notional)
		if tr.Side == "buy" {
			m.BuyNotional = m.BuyNotional.Add(notional)
		} else {
			m.SellNotional = m.SellNotional.Add(notional)
		}
		if notional.GreaterThanOrEqual(whaleThreshold) {
			m.WhaleNotional = m.WhaleNotional.Add(notional)
			m.WhaleCount++
		}
		m.TradeCount++
	}

	out := make([]MinuteStats, 0, len(byMinute))
	for _, m := range byMinute {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Minute.Before(out[j].Minute)
	})
	return out, nil
}

// VolumeTier classifies a minute's total volume against the rolling median of
// preceding minutes. Without a usable median (no history yet, or a median of
// zero) classification defaults to the mid tier.
func VolumeTier(volume decimal.Decimal, history []decimal.Decimal) string {
	if len(history) == 0 {
		return model.TierAbove
	}
	median := Median(history)
	if median.IsZero() {
		return model.TierAbove
	}
	ratio := volume.Div(median)
	switch {
	case ratio.GreaterThan(tierExtremeMult):
		return model.TierExtreme
	case ratio.GreaterThan(tierHighMult):
		return model.TierHigh
	case ratio.GreaterThan(tierAboveMult):
		return model.TierAbove
	}
	return model.TierNormal
}

// DetectAbsorption reports heavy volume paired with a flat price: volume above
// twice the rolling median while the absolute close-over-open move stays
// within 0.1 percent.
func DetectAbsorption(priceChangePct, volume decimal.Decimal, history []decimal.Decimal) bool {
	if len(history) == 0 {
		return false
	}
	median := Median(history)
	if median.IsZero() {
		return false
	}
	return priceChangePct.Abs().LessThanOrEqual(absorptionMaxMovePct) &&
		volume.GreaterThan(median.Mul(absorptionVolMult))
}

// DetectDivergence reports a price move whose sign contradicts the volume
// delta: price up on net selling, or price down on net buying.
func DetectDivergence(priceChangePct, delta decimal.Decimal) bool {
	if priceChangePct.IsZero() || delta.IsZero() {
		return false
	}
	return priceChangePct.Sign() != delta.Sign()
}

// Median returns the median of values; the mean of the two middle elements
// for even counts.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
