package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframes lists the supported candle timeframes, base first.
var Timeframes = []string{"1m", "5m", "15m", "1h", "4h"}

// Candle is a UTC-aligned OHLCV window. Once a window's rollup completes the
// record is immutable; higher timeframes aggregate 1m candles, never raw
// trades.
type Candle struct {
	WindowStartUTC string `json:"window_start_utc"`
	WindowEndUTC   string `json:"window_end_utc"`
	InstID         string `json:"instId"`
	Exchange       string `json:"exchange"`
	Market         string `json:"market"`
	Timeframe      string `json:"timeframe"`

	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`

	TradeCount int `json:"trade_count"`
}

// WindowEnd parses the candle's window end.
func (c Candle) WindowEnd() (time.Time, error) {
	return ParseTime(c.WindowEndUTC)
}

// BodyHigh is the greater of open and close.
func (c Candle) BodyHigh() decimal.Decimal {
	if c.Open.GreaterThan(c.Close) {
		return c.Open
	}
	return c.Close
}

// BodyLow is the lesser of open and close.
func (c Candle) BodyLow() decimal.Decimal {
	if c.Open.LessThan(c.Close) {
		return c.Open
	}
	return c.Close
}

// TimeframeDuration returns the window length of a timeframe.
func TimeframeDuration(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown timeframe: %s", tf)
}

// FloorToMinute truncates a timestamp to the start of its UTC minute.
func FloorToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// FloorToTimeframe truncates a timestamp to the calendar-aligned window start
// of the given timeframe (5m boundaries at :00/:05/..., 4h boundaries at
// 00:00/04:00/...). UTC days are an exact multiple of every supported window,
// so truncating against the epoch yields calendar-aligned boundaries.
func FloorToTimeframe(t time.Time, tf string) (time.Time, error) {
	d, err := TimeframeDuration(tf)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(d), nil
}
