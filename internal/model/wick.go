package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Wick lifecycle states. touched and expired are terminal.
const (
	WickUntouched = "untouched"
	WickTouched   = "touched"
	WickExpired   = "expired"
)

// Wick sides.
const (
	WickHigh = "high"
	WickLow  = "low"
)

// Touch classes: how a later candle reached the wick price.
const (
	TouchClassWick = "wick"
	TouchClassBody = "body"
	TouchClassBoth = "both"
)

// Tip signal strengths, ordered from strongest.
const (
	SignalExact   = "EXACT"
	SignalNear    = "NEAR"
	SignalClose   = "CLOSE"
	SignalTouched = "TOUCHED"
)

// WickEvent tracks one detected wick through its lifecycle. The event id is a
// deterministic composite of the candle identity and the wick side, so
// reprocessing the same candle can never create a duplicate entity. Touch
// metadata is nil until the wick is touched; tip metrics stay nil whenever
// the instrument's tick size is unknown.
type WickEvent struct {
	EventID         string `json:"event_id"`
	InstID          string `json:"instId"`
	Timeframe       string `json:"timeframe"`
	CreationTimeUTC string `json:"creation_time_utc"`
	WindowEndUTC    string `json:"window_end_utc"`

	WickType  string          `json:"wick_type"`
	WickPrice decimal.Decimal `json:"wick_price"`
	WickSize  decimal.Decimal `json:"wick_size"`
	BodySize  decimal.Decimal `json:"body_size"`

	CandleOpen  decimal.Decimal `json:"candle_open"`
	CandleHigh  decimal.Decimal `json:"candle_high"`
	CandleLow   decimal.Decimal `json:"candle_low"`
	CandleClose decimal.Decimal `json:"candle_close"`

	Status string `json:"status"`

	TouchTimeUTC      *string `json:"touch_time_utc"`
	AgeAtTouchMinutes *int64  `json:"age_at_touch_minutes"`
	TouchByWick       *bool   `json:"touch_by_wick"`
	TouchByBody       *bool   `json:"touch_by_body"`
	TouchClass        *string `json:"touch_class"`

	TipDistanceTicks *int64  `json:"tip_distance_ticks"`
	TipExact         *bool   `json:"tip_exact"`
	TipNear          *bool   `json:"tip_near"`
	SignalStrength   *string `json:"signal_strength"`
	PenetrationTicks *int64  `json:"penetration_ticks"`

	TickSz      string `json:"tickSz"`
	TolTipTicks int64  `json:"tol_tip_ticks"`
}

// WickEventID builds the deterministic composite id of a wick entity.
func WickEventID(instID, timeframe, windowEndUTC, wickType string) string {
	return fmt.Sprintf("%s|%s|%s|%s", instID, timeframe, windowEndUTC, wickType)
}

// Terminal reports whether the wick has reached a terminal state.
func (w WickEvent) Terminal() bool {
	return w.Status != WickUntouched
}
