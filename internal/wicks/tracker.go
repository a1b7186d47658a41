package wicks

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// DefaultExpiry is how long a wick stays trackable before it expires.
const DefaultExpiry = 168 * time.Hour

// closeTicks is the tip distance up to which a touch still counts as CLOSE.
const closeTicks = 3

// Tracker advances the wick lifecycle for one (instrument, timeframe) stream.
// It keeps only the active (untouched) wicks indexed by event id; terminal
// wicks leave the index immediately, so a candle is only ever checked against
// wicks that can still transition.
type Tracker struct {
	timeframe string
	expiry    time.Duration
	tickSz    *decimal.Decimal

	active map[string]*model.WickEvent
}

// NewTracker returns a tracker for one timeframe. tickSz may be nil when the
// instrument's tick size is unknown; tip metrics then stay nil on every
// touch.
func NewTracker(timeframe string, expiry time.Duration, tickSz *decimal.Decimal) *Tracker {
	if tickSz != nil && !tickSz.GreaterThan(decimal.Zero) {
		tickSz = nil
	}
	return &Tracker{
		timeframe: timeframe,
		expiry:    expiry,
		tickSz:    tickSz,
		active:    make(map[string]*model.WickEvent),
	}
}

// Restore seeds the tracker with previously persisted untouched wicks.
// Terminal wicks are ignored.
func (t *Tracker) Restore(wicks []model.WickEvent) {
	for _, w := range wicks {
		if w.Timeframe != t.timeframe || w.Terminal() {
			continue
		}
		cp := w
		t.active[w.EventID] = &cp
	}
}

// Process advances the tracker by one candle in event-time order and returns
// the emitted events: lifecycle transitions of earlier wicks first, then the
// wicks detected in this candle. For each active wick the earlier of expiry
// and touch wins: a wick whose expiry falls at or before this candle's window
// end expires and is not touch-checked.
func (t *Tracker) Process(c model.Candle) ([]model.WickEvent, error) {
	windowEnd, err := c.WindowEnd()
	if err != nil {
		return nil, fmt.Errorf("candle %s: %w", c.WindowStartUTC, err)
	}

	var emitted []model.WickEvent

	for _, id := range t.sortedActiveIDs() {
		w := t.active[id]

		created, err := model.ParseTime(w.CreationTimeUTC)
		if err != nil {
			return nil, fmt.Errorf("wick %s: %w", w.EventID, err)
		}
		// A candle never touches the wick of its own window or earlier.
		if !windowEnd.After(created) {
			continue
		}

		if windowEnd.Sub(created) >= t.expiry {
			w.Status = model.WickExpired
			emitted = append(emitted, *w)
			delete(t.active, id)
			continue
		}

		if touched := t.checkTouch(w, c, created, windowEnd); touched {
			emitted = append(emitted, *w)
			delete(t.active, id)
		}
	}

	tickStr := "0"
	if t.tickSz != nil {
		tickStr = t.tickSz.String()
	}
	for _, w := range Detect(c, tickStr) {
		if _, exists := t.active[w.EventID]; exists {
			continue
		}
		cp := w
		t.active[w.EventID] = &cp
		emitted = append(emitted, w)
	}

	return emitted, nil
}

// Active returns the remaining untouched wicks, ordered by event id.
func (t *Tracker) Active() []model.WickEvent {
	out := make([]model.WickEvent, 0, len(t.active))
	for _, id := range t.sortedActiveIDs() {
		out = append(out, *t.active[id])
	}
	return out
}

func (t *Tracker) sortedActiveIDs() []string {
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkTouch tests whether candle c reaches the wick price and, if so, fills
// the touch metadata in place and flips the status to touched.
func (t *Tracker) checkTouch(w *model.WickEvent, c model.Candle, created, windowEnd time.Time) bool {
	bodyHigh := c.BodyHigh()
	bodyLow := c.BodyLow()

	var byWick bool
	if w.WickType == model.WickHigh {
		byWick = c.High.GreaterThanOrEqual(w.WickPrice)
	} else {
		byWick = c.Low.LessThanOrEqual(w.WickPrice)
	}
	byBody := bodyLow.LessThanOrEqual(w.WickPrice) && w.WickPrice.LessThanOrEqual(bodyHigh)

	if !byWick && !byBody {
		return false
	}

	var class string
	switch {
	case byWick && byBody:
		class = model.TouchClassBoth
	case byBody:
		class = model.TouchClassBody
	default:
		class = model.TouchClassWick
	}

	touchTime := c.WindowEndUTC
	ageMinutes := int64(windowEnd.Sub(created) / time.Minute)

	w.Status = model.WickTouched
	w.TouchTimeUTC = &touchTime
	w.AgeAtTouchMinutes = &ageMinutes
	w.TouchByWick = &byWick
	w.TouchByBody = &byBody
	w.TouchClass = &class

	if byWick && t.tickSz != nil {
		extremum := c.High
		if w.WickType == model.WickLow {
			extremum = c.Low
		}

		distTicks := extremum.Sub(w.WickPrice).Abs().Div(*t.tickSz).IntPart()
		exact := distTicks == 0
		near := distTicks >= 1 && distTicks <= w.TolTipTicks

		var strength string
		switch {
		case exact:
			strength = model.SignalExact
		case near:
			strength = model.SignalNear
		case distTicks <= closeTicks:
			strength = model.SignalClose
		default:
			strength = model.SignalTouched
		}

		var overshoot decimal.Decimal
		if w.WickType == model.WickHigh {
			overshoot = extremum.Sub(w.WickPrice)
		} else {
			overshoot = w.WickPrice.Sub(extremum)
		}
		if overshoot.IsNegative() {
			overshoot = decimal.Zero
		}
		penTicks := overshoot.Div(*t.tickSz).IntPart()

		w.TipDistanceTicks = &distTicks
		w.TipExact = &exact
		w.TipNear = &near
		w.SignalStrength = &strength
		w.PenetrationTicks = &penTicks
	}

	return true
}
