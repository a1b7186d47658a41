// Package model defines the record types shared by the exporter and the
// derived-metric processors.
//
// Every record persisted to the vault round-trips through JSON with the exact
// field names the downstream tooling expects, and all monetary values use
// decimal.Decimal so that aggregation never accumulates floating-point error.
// Decimals marshal as quoted strings.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TimeLayoutMicro is the timestamp format of raw records (trades, book
	// snapshots): RFC3339 UTC with microsecond precision.
	TimeLayoutMicro = "2006-01-02T15:04:05.000000Z"

	// TimeLayoutSec is the timestamp format of derived records (candles,
	// per-minute metrics): RFC3339 UTC with second precision.
	TimeLayoutSec = "2006-01-02T15:04:05Z"
)

// FormatMicro renders a timestamp in the raw-record layout.
func FormatMicro(t time.Time) string {
	return t.UTC().Format(TimeLayoutMicro)
}

// FormatSec renders a timestamp in the derived-record layout.
func FormatSec(t time.Time) string {
	return t.UTC().Format(TimeLayoutSec)
}

// ParseTime parses a vault timestamp in either layout.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayoutMicro, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(TimeLayoutSec, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid vault timestamp %q: %w", s, err)
	}
	return t, nil
}

// Trade is a single executed perpetual-swap trade as persisted in the raw
// trades log. Price and quantity arrive from the exchange as strings and are
// kept as decimals; contract metadata is denormalized onto every record so
// that downstream processors never need a metadata join.
type Trade struct {
	TimestampUTC string          `json:"timestamp_utc" validate:"required"`
	Exchange     string          `json:"exchange"`
	Market       string          `json:"market"`
	InstID       string          `json:"instId" validate:"required"`
	SymbolCanon  string          `json:"symbol_canon"`
	TradeID      string          `json:"trade_id" validate:"required"`
	Side         string          `json:"side" validate:"required,oneof=buy sell"`
	Price        decimal.Decimal `json:"price"`
	QtyContracts decimal.Decimal `json:"qty_contracts"`
	CtVal        decimal.Decimal `json:"ctVal"`
	CtMult       decimal.Decimal `json:"ctMult"`
	CtType       string          `json:"ctType"`
}

// Time parses the trade's event timestamp.
func (t Trade) Time() (time.Time, error) {
	return ParseTime(t.TimestampUTC)
}

// Notional is the USD value of the trade: qty_contracts × ctVal × price.
func (t Trade) Notional() decimal.Decimal {
	return t.QtyContracts.Mul(t.CtVal).Mul(t.Price)
}

// Key returns the trade's position in the global processing order.
func (t Trade) Key() OrderKey {
	return OrderKey{TimestampUTC: t.TimestampUTC, TradeID: t.TradeID}
}

// CanonicalSymbol derives the canonical spot-style symbol from a swap
// instrument id (BTC-USDT-SWAP -> BTC/USDT).
func CanonicalSymbol(instID string) string {
	return strings.Replace(strings.TrimSuffix(instID, "-SWAP"), "-", "/", 1)
}

// OrderKey is the ordering key of the input stream: event timestamp first,
// numeric trade id as the tie-break. Both vault timestamp layouts are
// fixed-width, so the timestamp component compares correctly as a string.
type OrderKey struct {
	TimestampUTC string
	TradeID      string
}

// IsZero reports whether the key is the initial (no input processed) cursor
// position.
func (k OrderKey) IsZero() bool {
	return k.TimestampUTC == "" && k.TradeID == ""
}

// Compare returns -1, 0 or +1 ordering k against other.
func (k OrderKey) Compare(other OrderKey) int {
	if c := strings.Compare(k.TimestampUTC, other.TimestampUTC); c != 0 {
		return c
	}
	return compareTradeIDs(k.TradeID, other.TradeID)
}

// After reports whether k is strictly after other.
func (k OrderKey) After(other OrderKey) bool {
	return k.Compare(other) > 0
}

// compareTradeIDs orders trade ids numerically when both sides parse as
// integers. Non-numeric ids sort after numeric ones, then by string.
func compareTradeIDs(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
