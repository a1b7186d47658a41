package model

import "github.com/shopspring/decimal"

// Volume intensity tiers, classified against a rolling median of 1m volumes.
const (
	TierNormal  = "T1"
	TierAbove   = "T2"
	TierHigh    = "T3"
	TierExtreme = "T4"
)

// VWAPRecord is one per-minute sample of the rolling 1h and 4h VWAP windows.
// A VWAP is nil when its window holds no trades or zero total notional.
type VWAPRecord struct {
	WindowStartUTC string           `json:"window_start_utc"`
	InstID         string           `json:"instId"`
	Exchange       string           `json:"exchange"`
	Market         string           `json:"market"`
	VWAP1h         *decimal.Decimal `json:"vwap_1h"`
	VWAP4h         *decimal.Decimal `json:"vwap_4h"`
	TradeCount1h   int              `json:"trade_count_1h"`
	TradeCount4h   int              `json:"trade_count_4h"`
}

// VolumeRecord holds the per-minute volume intensity metrics: notional flow
// split by side, whale activity, the running cumulative volume delta, and the
// adversarial classification flags.
type VolumeRecord struct {
	TimestampUTC   string          `json:"timestamp_utc"`
	InstID         string          `json:"instId"`
	Exchange       string          `json:"exchange"`
	Market         string          `json:"market"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	PriceChangePct decimal.Decimal `json:"price_change_pct"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	BuyVolume      decimal.Decimal `json:"buy_volume"`
	SellVolume     decimal.Decimal `json:"sell_volume"`
	Delta          decimal.Decimal `json:"delta"`
	CVD            decimal.Decimal `json:"cvd"`
	WhaleVolume    decimal.Decimal `json:"whale_volume"`
	WhaleCount     int             `json:"whale_count"`
	TradeCount     int             `json:"trade_count"`
	VolumeTier     string          `json:"volume_tier"`
	Absorption     bool            `json:"absorption"`
	Divergence     bool            `json:"divergence"`
}

// BucketRecord holds the per-snapshot liquidity band metrics. All slices are
// indexed by band, innermost band first. Young-wall ages are nil for bands
// with no confirmed wall.
type BucketRecord struct {
	TimestampUTC string `json:"timestamp_utc"`
	Exchange     string `json:"exchange"`
	Market       string `json:"market"`
	InstID       string `json:"instId"`
	MidPrice     string `json:"mid_price"`

	BandsBps []int `json:"bands_bps"`

	BidNotional []decimal.Decimal `json:"bid_notional"`
	AskNotional []decimal.Decimal `json:"ask_notional"`
	BidBase     []decimal.Decimal `json:"bid_base"`
	AskBase     []decimal.Decimal `json:"ask_base"`

	Imbalance []decimal.Decimal `json:"imbalance"`

	BidDeltaNotional    []decimal.Decimal `json:"bid_delta_notional"`
	AskDeltaNotional    []decimal.Decimal `json:"ask_delta_notional"`
	BidDeltaSignificant []bool            `json:"bid_delta_significant"`
	AskDeltaSignificant []bool            `json:"ask_delta_significant"`

	BidYoungAgeSec []*int64 `json:"bid_young_age_s"`
	AskYoungAgeSec []*int64 `json:"ask_young_age_s"`
	BidYoungActive []bool   `json:"bid_young_active"`
	AskYoungActive []bool   `json:"ask_young_active"`
}
