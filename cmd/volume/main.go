/*
Package main implements the volume intensity analyzer.

Each run folds the trades appended since the previous run into per-minute
volume metrics: notional flow split by side, whale activity, the signed
delta and its running cumulative total (CVD), a T1–T4 intensity tier against
a rolling median of past minutes, and the absorption and divergence flags.
The rolling volume history and the CVD total travel in the stream's state
file, so classification is stable across runs.

Usage:

	go run main.go -inst=BTC-USDT-SWAP
*/
package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/candles"
	"github.com/Rbear69/system-of-monelith/internal/cursor"
	"github.com/Rbear69/system-of-monelith/internal/model"
	"github.com/Rbear69/system-of-monelith/internal/reader"
	"github.com/Rbear69/system-of-monelith/internal/sink"
	"github.com/Rbear69/system-of-monelith/internal/vault"
)

var (
	inst      = flag.String("inst", "", "Instrument id, e.g. BTC-USDT-SWAP")
	configDir = flag.String("config", ".", "Directory containing vault.yaml")
)

// volumeState carries the trade cursor plus the classification context: the
// rolling window of past minute volumes and the running CVD.
type volumeState struct {
	cursor.Cursor
	VolumeHistory []decimal.Decimal `json:"volume_history"`
	CVD           decimal.Decimal   `json:"cvd"`
}

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := vault.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := cfg.ValidateInstrument(*inst); err != nil {
		log.Fatal().Err(err).Msg("invalid instrument")
	}

	if err := run(cfg, *inst); err != nil {
		log.Fatal().Err(err).Msg("volume build failed")
	}
}

func run(cfg vault.Config, instID string) error {
	store := cursor.NewStore(cfg.StateDir("volume"))
	var state volumeState
	if err := store.Load(cursor.Key{InstID: instID}, &state); err != nil {
		return err
	}

	trades, stats, err := reader.ReadTrades(cfg.TradesDir(instID), state.Key())
	if err != nil {
		return err
	}
	log.Info().
		Str("instId", instID).
		Int("trades", len(trades)).
		Int("malformed", stats.Malformed).
		Msg("trades loaded")
	if len(trades) == 0 {
		return nil
	}

	latest, err := trades[len(trades)-1].Time()
	if err != nil {
		return err
	}
	openMinute := model.FloorToMinute(latest)

	minutes, err := candles.AggregateMinutes(trades)
	if err != nil {
		return err
	}

	w := sink.NewWriter(cfg.DerivedDir("volume", instID), sink.Single("volume_1m.jsonl"), "timestamp_utc")
	defer w.Close()

	for _, m := range minutes {
		// The newest minute is still open; its trades are re-read next run.
		if !m.Minute.Before(openMinute) {
			continue
		}

		pct := m.PriceChangePct()
		delta := m.Delta()
		cvd := state.CVD.Add(delta)

		rec := model.VolumeRecord{
			TimestampUTC:   model.FormatSec(m.Minute),
			InstID:         instID,
			Exchange:       "okx",
			Market:         "perps",
			Open:           m.Open,
			High:           m.High,
			Low:            m.Low,
			Close:          m.Close,
			PriceChangePct: pct,
			TotalVolume:    m.TotalNotional,
			BuyVolume:      m.BuyNotional,
			SellVolume:     m.SellNotional,
			Delta:          delta,
			CVD:            cvd,
			WhaleVolume:    m.WhaleNotional,
			WhaleCount:     m.WhaleCount,
			TradeCount:     m.TradeCount,
			VolumeTier:     candles.VolumeTier(m.TotalNotional, state.VolumeHistory),
			Absorption:     candles.DetectAbsorption(pct, m.TotalNotional, state.VolumeHistory),
			Divergence:     candles.DetectDivergence(pct, delta),
		}
		// A minute replayed after a crash is skipped by the sink; the
		// classification context must not absorb it twice either.
		wrote, err := w.Write(rec.TimestampUTC, rec)
		if err != nil {
			return err
		}
		if !wrote {
			continue
		}

		state.CVD = cvd
		state.VolumeHistory = append(state.VolumeHistory, m.TotalNotional)
		if len(state.VolumeHistory) > candles.TierHistorySize {
			state.VolumeHistory = state.VolumeHistory[len(state.VolumeHistory)-candles.TierHistorySize:]
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	for _, t := range trades {
		ts, err := t.Time()
		if err != nil {
			return err
		}
		if !ts.Before(openMinute) {
			break
		}
		state.Advance(t.Key())
	}
	if err := store.Save(cursor.Key{InstID: instID}, state); err != nil {
		return err
	}

	log.Info().
		Str("instId", instID).
		Int("written", w.Written()).
		Int("skipped", w.Skipped()).
		Str("cvd", state.CVD.String()).
		Msg("run complete")
	return nil
}
