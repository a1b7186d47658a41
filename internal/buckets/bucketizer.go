// Package buckets derives per-band liquidity metrics from order book
// snapshots: notional depth by distance from mid, bid/ask imbalance, deltas
// against the previous snapshot, and young-wall tracking with a persistence
// filter so transient spoof walls never surface.
package buckets

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// BandsBps are the band upper bounds in basis points from mid, innermost
// first. A level belongs to the first band whose bound covers its distance.
var BandsBps = []int{10, 25, 50, 100, 200, 500}

// NumBands is the band count; every per-band slice has this length.
var NumBands = len(BandsBps)

const (
	// minPersistence is how long a wall must hold above threshold before it
	// counts as a confirmed young wall.
	minPersistence = 30 * time.Second

	// maxYoungAge is the age past which a confirmed young wall goes stale
	// and tracking resets.
	maxYoungAge = 3600 * time.Second
)

var (
	// Delta significance: absolute or relative to the previous value.
	minSignificantDeltaUSD = decimal.NewFromInt(100000)
	minSignificantDeltaPct = decimal.NewFromFloat(0.10)

	// wallThresholds is the per-instrument young-wall notional floor. BTC
	// carries a deeper market than ETH.
	wallThresholds = map[string]decimal.Decimal{
		"BTC-USDT-SWAP": decimal.NewFromInt(300000),
		"ETH-USDT-SWAP": decimal.NewFromInt(150000),
	}
	defaultWallThreshold = decimal.NewFromInt(150000)
)

// WallThreshold returns the young-wall notional floor for an instrument.
func WallThreshold(instID string) decimal.Decimal {
	if t, ok := wallThresholds[instID]; ok {
		return t
	}
	return defaultWallThreshold
}

// State carries the cross-snapshot memory of one instrument's bucket stream:
// the previous per-band notionals for deltas, and the tentative and confirmed
// birth timestamps of young walls. All slices are band-indexed.
type State struct {
	LastProcessedTimestampUTC string `json:"last_processed_timestamp_utc"`

	PrevBidNotional []decimal.Decimal `json:"prev_bid_notional"`
	PrevAskNotional []decimal.Decimal `json:"prev_ask_notional"`

	TentativeBidBornTS []*string `json:"tentative_bid_born_ts"`
	TentativeAskBornTS []*string `json:"tentative_ask_born_ts"`
	ConfirmedBidBornTS []*string `json:"confirmed_bid_born_ts"`
	ConfirmedAskBornTS []*string `json:"confirmed_ask_born_ts"`
}

// NewState returns a zeroed state with band-length slices.
func NewState() *State {
	return &State{
		PrevBidNotional:    zeroBands(),
		PrevAskNotional:    zeroBands(),
		TentativeBidBornTS: make([]*string, NumBands),
		TentativeAskBornTS: make([]*string, NumBands),
		ConfirmedBidBornTS: make([]*string, NumBands),
		ConfirmedAskBornTS: make([]*string, NumBands),
	}
}

// Normalize pads band slices that are missing or short, so states persisted
// before a band-list change still load.
func (s *State) Normalize() {
	pad := func(d []decimal.Decimal) []decimal.Decimal {
		for len(d) < NumBands {
			d = append(d, decimal.Zero)
		}
		return d[:NumBands]
	}
	padTS := func(p []*string) []*string {
		for len(p) < NumBands {
			p = append(p, nil)
		}
		return p[:NumBands]
	}
	s.PrevBidNotional = pad(s.PrevBidNotional)
	s.PrevAskNotional = pad(s.PrevAskNotional)
	s.TentativeBidBornTS = padTS(s.TentativeBidBornTS)
	s.TentativeAskBornTS = padTS(s.TentativeAskBornTS)
	s.ConfirmedBidBornTS = padTS(s.ConfirmedBidBornTS)
	s.ConfirmedAskBornTS = padTS(s.ConfirmedAskBornTS)
}

func zeroBands() []decimal.Decimal {
	out := make([]decimal.Decimal, NumBands)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

// Bucketizer computes bucket records for one instrument.
type Bucketizer struct {
	instID    string
	ctVal     decimal.Decimal
	threshold decimal.Decimal
}

// NewBucketizer returns a bucketizer using the instrument's contract value
// for notional conversion.
func NewBucketizer(instID string, ctVal decimal.Decimal) *Bucketizer {
	return &Bucketizer{
		instID:    instID,
		ctVal:     ctVal,
		threshold: WallThreshold(instID),
	}
}

// Process derives one bucket record from a snapshot and advances the state.
// Snapshots without a mid price yield (nil, nil) and leave the state
// untouched.
func (b *Bucketizer) Process(snap model.BookSnapshot, st *State) (*model.BucketRecord, error) {
	if snap.MidPrice == nil || *snap.MidPrice == "" {
		return nil, nil
	}
	mid, err := decimal.NewFromString(*snap.MidPrice)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: invalid mid price: %w", snap.TimestampUTC, err)
	}
	if mid.IsZero() {
		return nil, nil
	}
	ts, err := model.ParseTime(snap.TimestampUTC)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	bidNotional, bidBase := b.bucketSide(snap.Bids, mid, true)
	askNotional, askBase := b.bucketSide(snap.Asks, mid, false)

	imbalance := make([]decimal.Decimal, NumBands)
	for i := range imbalance {
		total := bidNotional[i].Add(askNotional[i])
		if total.IsZero() {
			imbalance[i] = decimal.Zero
		} else {
			imbalance[i] = bidNotional[i].Sub(askNotional[i]).Div(total).Round(2)
		}
	}

	bidDelta, bidSig := deltas(bidNotional, st.PrevBidNotional)
	askDelta, askSig := deltas(askNotional, st.PrevAskNotional)

	bidAge, bidActive := b.youngWalls(bidNotional, st.TentativeBidBornTS, st.ConfirmedBidBornTS, ts)
	askAge, askActive := b.youngWalls(askNotional, st.TentativeAskBornTS, st.ConfirmedAskBornTS, ts)

	rec := &model.BucketRecord{
		TimestampUTC: snap.TimestampUTC,
		Exchange:     "okx",
		Market:       "perps",
		InstID:       b.instID,
		MidPrice:     *snap.MidPrice,
		BandsBps:     BandsBps,

		BidNotional: bidNotional,
		AskNotional: askNotional,
		BidBase:     bidBase,
		AskBase:     askBase,

		Imbalance: imbalance,

		BidDeltaNotional:    bidDelta,
		AskDeltaNotional:    askDelta,
		BidDeltaSignificant: bidSig,
		AskDeltaSignificant: askSig,

		BidYoungAgeSec: bidAge,
		AskYoungAgeSec: askAge,
		BidYoungActive: bidActive,
		AskYoungActive: askActive,
	}

	st.PrevBidNotional = bidNotional
	st.PrevAskNotional = askNotional
	st.LastProcessedTimestampUTC = snap.TimestampUTC
	return rec, nil
}

// bucketSide assigns one side's levels to bands by bps distance from mid.
// Bid prices above mid and ask prices below mid are crossed leftovers and are
// skipped, as are levels beyond the outermost band.
func (b *Bucketizer) bucketSide(levels [][]string, mid decimal.Decimal, isBid bool) (notional, base []decimal.Decimal) {
	notional = zeroBands()
	base = zeroBands()
	tenThousand := decimal.NewFromInt(10000)

	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			continue
		}

		if isBid && price.GreaterThan(mid) {
			continue
		}
		if !isBid && price.LessThan(mid) {
			continue
		}

		distBps := mid.Sub(price).Abs().Div(mid).Mul(tenThousand)

		band := -1
		for i, upper := range BandsBps {
			if distBps.LessThanOrEqual(decimal.NewFromInt(int64(upper))) {
				band = i
				break
			}
		}
		if band < 0 {
			continue
		}

		baseQty := qty.Mul(b.ctVal)
		notional[band] = notional[band].Add(baseQty.Mul(price))
		base[band] = base[band].Add(baseQty)
	}
	return notional, base
}

// deltas compares per-band notionals with the previous snapshot. A delta is
// significant above $100k absolute or 10% of the previous value.
func deltas(current, previous []decimal.Decimal) ([]decimal.Decimal, []bool) {
	out := make([]decimal.Decimal, NumBands)
	sig := make([]bool, NumBands)
	for i := range current {
		prev := decimal.Zero
		if i < len(previous) {
			prev = previous[i]
		}
		d := current[i].Sub(prev)
		out[i] = d
		sig[i] = d.Abs().GreaterThan(minSignificantDeltaUSD) ||
			(prev.GreaterThan(decimal.Zero) && d.Abs().Div(prev).GreaterThan(minSignificantDeltaPct))
	}
	return out, sig
}

// youngWalls advances the two-phase wall tracking for one side in place.
// Above the threshold a band first runs a tentative persistence timer; after
// 30s the wall is confirmed and ages from its tentative birth. Confirmed
// walls past the stale bound, and any band dropping below the threshold,
// reset completely.
func (b *Bucketizer) youngWalls(notional []decimal.Decimal, tentative, confirmed []*string, now time.Time) ([]*int64, []bool) {
	ages := make([]*int64, NumBands)
	active := make([]bool, NumBands)

	for i := range notional {
		if notional[i].LessThan(b.threshold) {
			tentative[i] = nil
			confirmed[i] = nil
			continue
		}

		if tentative[i] == nil {
			born := model.FormatSec(now)
			tentative[i] = &born
			continue
		}

		bornTS, err := model.ParseTime(*tentative[i])
		if err != nil {
			tentative[i] = nil
			confirmed[i] = nil
			continue
		}
		if now.Sub(bornTS) < minPersistence {
			continue
		}

		if confirmed[i] == nil {
			confirmed[i] = tentative[i]
		}
		confirmedTS, err := model.ParseTime(*confirmed[i])
		if err != nil {
			tentative[i] = nil
			confirmed[i] = nil
			continue
		}

		age := now.Sub(confirmedTS)
		if age > maxYoungAge {
			tentative[i] = nil
			confirmed[i] = nil
			continue
		}

		sec := int64(age / time.Second)
		ages[i] = &sec
		active[i] = true
	}
	return ages, active
}
