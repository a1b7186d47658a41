// Package candles builds deterministic event-time OHLCV candles: 1m candles
// directly from trades, higher timeframes from 1m candles only. Identical
// input always yields byte-identical candles, which keeps re-emission
// idempotent downstream.
package candles

import (
	"fmt"
	"sort"
	"time"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// BuildMinute aggregates trades into 1m candles keyed by the UTC minute of
// each trade's event timestamp. Trades must already be ordered; minutes with
// no trades produce no candle.
func BuildMinute(trades []model.Trade) ([]model.Candle, error) {
	byMinute := make(map[string]*model.Candle)

	for _, tr := range trades {
		ts, err := tr.Time()
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", tr.TradeID, err)
		}
		start := model.FloorToMinute(ts)
		key := model.FormatSec(start)

		c, ok := byMinute[key]
		if !ok {
			c = &model.Candle{
				WindowStartUTC: key,
				WindowEndUTC:   model.FormatSec(start.Add(time.Minute)),
				InstID:         tr.InstID,
				Exchange:       tr.Exchange,
				Market:         tr.Market,
				Timeframe:      "1m",
				Open:           tr.Price,
				High:           tr.Price,
				Low:            tr.Price,
			}
			byMinute[key] = c
		}

		if tr.Price.GreaterThan(c.High) {
			c.High = tr.Price
		}
		if tr.Price.LessThan(c.Low) {
			c.Low = tr.Price
		}
		c.Close = tr.Price
		c.Volume = c.Volume.Add(tr.QtyContracts)
		c.TradeCount++
	}

	out := make([]model.Candle, 0, len(byMinute))
	for _, c := range byMinute {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WindowStartUTC < out[j].WindowStartUTC
	})
	return out, nil
}

// Rollup aggregates 1m candles into one higher timeframe with calendar
// alignment. Only windows fully closed relative to cutoff are emitted: a
// window qualifies when its end is at or before cutoff, which is normally the
// latest 1m window end available.
func Rollup(oneMin []model.Candle, tf string, cutoff time.Time) ([]model.Candle, error) {
	if tf == "1m" {
		return nil, fmt.Errorf("rollup target must be a higher timeframe")
	}
	d, err := model.TimeframeDuration(tf)
	if err != nil {
		return nil, err
	}

	type group struct {
		start   time.Time
		members []model.Candle
	}
	groups := make(map[string]*group)

	for _, c := range oneMin {
		ws, err := model.ParseTime(c.WindowStartUTC)
		if err != nil {
			return nil, fmt.Errorf("candle %s: %w", c.WindowStartUTC, err)
		}
		start, err := model.FloorToTimeframe(ws, tf)
		if err != nil {
			return nil, err
		}
		key := model.FormatSec(start)
		g, ok := groups[key]
		if !ok {
			g = &group{start: start}
			groups[key] = g
		}
		g.members = append(g.members, c)
	}

	out := make([]model.Candle, 0, len(groups))
	for _, g := range groups {
		end := g.start.Add(d)
		if end.After(cutoff) {
			continue
		}

		sort.Slice(g.members, func(i, j int) bool {
			return g.members[i].WindowStartUTC < g.members[j].WindowStartUTC
		})

		first := g.members[0]
		rolled := model.Candle{
			WindowStartUTC: model.FormatSec(g.start),
			WindowEndUTC:   model.FormatSec(end),
			InstID:         first.InstID,
			Exchange:       first.Exchange,
			Market:         first.Market,
			Timeframe:      tf,
			Open:           first.Open,
			High:           first.High,
			Low:            first.Low,
			Close:          first.Close,
		}
		for _, m := range g.members {
			if m.High.GreaterThan(rolled.High) {
				rolled.High = m.High
			}
			if m.Low.LessThan(rolled.Low) {
				rolled.Low = m.Low
			}
			rolled.Close = m.Close
			rolled.Volume = rolled.Volume.Add(m.Volume)
			rolled.TradeCount += m.TradeCount
		}
		out = append(out, rolled)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].WindowStartUTC < out[j].WindowStartUTC
	})
	return out, nil
}
