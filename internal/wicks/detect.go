// Package wicks detects candle wicks and tracks each one through its
// lifecycle: untouched until a later candle reaches the wick price, touched
// or expired after that. Stored prices keep full decimal precision and every
// event id is a deterministic function of the candle identity, so
// reprocessing can only ever re-emit identical events.
package wicks

import (
	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// Detect extracts the wicks of one candle: the upper wick above the body high
// and the lower wick below the body low. Only strictly positive wick sizes
// produce an event, so a candle yields zero, one or two wicks. tickSz is
// carried on the event for later tip metrics; pass "0" when unknown.
func Detect(c model.Candle, tickSz string) []model.WickEvent {
	bodyHigh := c.BodyHigh()
	bodyLow := c.BodyLow()
	bodySize := c.Close.Sub(c.Open).Abs()

	base := model.WickEvent{
		InstID:          c.InstID,
		Timeframe:       c.Timeframe,
		CreationTimeUTC: c.WindowEndUTC,
		WindowEndUTC:    c.WindowEndUTC,
		BodySize:        bodySize,
		CandleOpen:      c.Open,
		CandleHigh:      c.High,
		CandleLow:       c.Low,
		CandleClose:     c.Close,
		Status:          model.WickUntouched,
		TickSz:          tickSz,
		TolTipTicks:     1,
	}

	var out []model.WickEvent

	if upper := c.High.Sub(bodyHigh); upper.GreaterThan(decimal.Zero) {
		w := base
		w.EventID = model.WickEventID(c.InstID, c.Timeframe, c.WindowEndUTC, model.WickHigh)
		w.WickType = model.WickHigh
		w.WickPrice = c.High
		w.WickSize = upper
		out = append(out, w)
	}

	if lower := bodyLow.Sub(c.Low); lower.GreaterThan(decimal.Zero) {
		w := base
		w.EventID = model.WickEventID(c.InstID, c.Timeframe, c.WindowEndUTC, model.WickLow)
		w.WickType = model.WickLow
		w.WickPrice = c.Low
		w.WickSize = lower
		out = append(out, w)
	}

	return out
}
