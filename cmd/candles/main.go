/*
Package main implements the candle builder.

Each run reads the raw trades appended since the previous run, folds them
into 1m OHLCV candles, and rolls closed 1m candles up into the higher
timeframes (5m, 15m, 1h, 4h). Only closed windows are ever written, so every
persisted candle is immutable; the trade cursor advances only past trades in
closed minutes, which keeps reruns and crashes harmless.

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

// candleState is the persisted position of the candle stream: the trade
// cursor plus, per timeframe, the window start of the last emitted candle.
type candleState struct {
	cursor.Cursor
	LastWindowStart map[string]string `json:"last_window_start_by_tf"`
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
		log.Fatal().Err(err).Msg("candle build failed")
	}
}

func run(cfg vault.Config, instID string) error {
	store := cursor.NewStore(cfg.StateDir("candles"))
	state := candleState{LastWindowStart: make(map[string]string)}
	if err := store.Load(cursor.Key{InstID: instID}, &state); err != nil {
		return err
	}
	if state.LastWindowStart == nil {
		state.LastWindowStart = make(map[string]string)
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

	written := 0
	if len(trades) > 0 {
		n, err := buildBase(cfg, instID, trades, &state)
		if err != nil {
			return err
		}
		written = n
	}

	if err := rollups(cfg, instID, &state); err != nil {
		return err
	}

	if err := store.Save(cursor.Key{InstID: instID}, state); err != nil {
		return err
	}
	log.Info().
		Str("instId", instID).
		Int("candles_1m_written", written).
		Str("cursor", state.LastTimestampUTC).
		Msg("run complete")
	return nil
}

// buildBase folds the new trades into 1m candles and writes the closed ones.
// The open minute of the newest trade stays out of both the output and the
// cursor; its trades are re-read next run.
func buildBase(cfg vault.Config, instID string, trades []model.Trade, state *candleState) (int, error) {
	latest, err := trades[len(trades)-1].Time()
	if err != nil {
		return 0, err
	}
	openMinute := model.FloorToMinute(latest)
	cutoff := model.FormatSec(openMinute)

	built, err := candles.BuildMinute(trades)
	if err != nil {
		return 0, err
	}

	w := sink.NewWriter(cfg.DerivedDir("candles", instID), sink.Single("1m.jsonl"), "window_start_utc")
	defer w.Close()

	last := state.LastWindowStart["1m"]
	for _, c := range built {
		if c.WindowStartUTC >= cutoff || c.WindowStartUTC <= last {
			continue
		}
		if _, err := w.Write(c.WindowStartUTC, c); err != nil {
			return 0, err
		}
		state.LastWindowStart["1m"] = c.WindowStartUTC
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}

	// Advance the cursor only past trades in closed minutes.
	for _, t := range trades {
		ts, err := t.Time()
		if err != nil {
			return 0, err
		}
		if !ts.Before(openMinute) {
			break
		}
		state.Advance(t.Key())
	}
	return w.Written(), nil
}

// rollups derives each higher timeframe from the full 1m series. Higher
// timeframes never aggregate raw trades.
func rollups(cfg vault.Config, instID string, state *candleState) error {
	all, _, err := reader.ReadCandles(cfg.DerivedDir("candles", instID), "")
	if err != nil {
		return err
	}

	var oneMin []model.Candle
	for _, c := range all {
		if c.Timeframe == "1m" {
			oneMin = append(oneMin, c)
		}
	}
	if len(oneMin) == 0 {
		return nil
	}

	// Every persisted 1m candle is closed, so the newest window end bounds
	// which rollup windows are complete.
	cutoff, err := oneMin[len(oneMin)-1].WindowEnd()
	if err != nil {
		return err
	}

	for _, tf := range model.Timeframes[1:] {
		rolled, err := candles.Rollup(oneMin, tf, cutoff)
		if err != nil {
			return err
		}

		w := sink.NewWriter(cfg.DerivedDir("candles", instID), sink.Single(tf+".jsonl"), "window_start_utc")
		last := state.LastWindowStart[tf]
		for _, c := range rolled {
			if c.WindowStartUTC <= last {
				continue
			}
			if _, err := w.Write(c.WindowStartUTC, c); err != nil {
				w.Close()
				return err
			}
			state.LastWindowStart[tf] = c.WindowStartUTC
		}
		if err := w.Close(); err != nil {
			return err
		}
		log.Info().
			Str("instId", instID).
			Str("timeframe", tf).
			Int("written", w.Written()).
			Int("skipped", w.Skipped()).
			Msg("rollup complete")
	}
	return nil
}
