package candles

import (
	"time"

	"github.com/shopspring/decimal"
)

// RollingVWAP maintains a trailing notional-weighted average price over a
// fixed lookback window. Entries are added in event-time order; Trim drops
// entries that fall out of the window.
type RollingVWAP struct {
	window  time.Duration
	entries []vwapEntry
}

type vwapEntry struct {
	ts          time.Time
	pxNotional  decimal.Decimal
	notional    decimal.Decimal
	tradeCount  int
}

// NewRollingVWAP returns an empty window of the given length.
func NewRollingVWAP(window time.Duration) *RollingVWAP {
	return &RollingVWAP{window: window}
}

// Add records one trade's contribution.
func (r *RollingVWAP) Add(ts time.Time, price, notional decimal.Decimal) {
	r.entries = append(r.entries, vwapEntry{
		ts:         ts,
		pxNotional: price.Mul(notional),
		notional:   notional,
		tradeCount: 1,
	})
}

// Trim drops entries strictly before asOf minus the window, so the window
// covers [asOf-window, asOf]. A trade at exactly the window floor still counts.
func (r *RollingVWAP) Trim(asOf time.Time) {
	floor := asOf.Add(-r.window)
	i := 0
	for i < len(r.entries) && r.entries[i].ts.Before(floor) {
		i++
	}
	if i > 0 {
		r.entries = append(r.entries[:0], r.entries[i:]...)
	}
}

// VWAP returns the notional-weighted average price of the current window, or
// nil when the window is empty or carries zero total notional.
func (r *RollingVWAP) VWAP() *decimal.Decimal {
	var sumPx, sumNotional decimal.Decimal
	for _, e := range r.entries {
		sumPx = sumPx.Add(e.pxNotional)
		sumNotional = sumNotional.Add(e.notional)
	}
	if sumNotional.IsZero() {
		return nil
	}
	v := sumPx.Div(sumNotional)
	return &v
}

// Count returns the number of trades currently inside the window.
func (r *RollingVWAP) Count() int {
	n := 0
	for _, e := range r.entries {
		n += e.tradeCount
	}
	return n
}
