/*
Package main implements the rolling VWAP calculator.

Each run emits one record per closed minute carrying the 1h and 4h
volume-weighted average price as of that minute's end. The windows trail the
minute boundary, so every run re-reads a 4h lookback of trades before the
last emitted minute; the emitted-minute cursor and the sink's natural-key
dedup make the overlap idempotent.

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

const (
	shortWindow = time.Hour
	longWindow  = 4 * time.Hour
)

var (
	inst      = flag.String("inst", "", "Instrument id, e.g. BTC-USDT-SWAP")
	configDir = flag.String("config", ".", "Directory containing vault.yaml")
)

type vwapState struct {
	cursor.Cursor
	LastEmittedMinute string `json:"last_emitted_minute_utc"`
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
		log.Fatal().Err(err).Msg("vwap build failed")
	}
}

func run(cfg vault.Config, instID string) error {
	store := cursor.NewStore(cfg.StateDir("vwap"))
	var state vwapState
	if err := store.Load(cursor.Key{InstID: instID}, &state); err != nil {
		return err
	}

	after := model.OrderKey{}
	if state.LastEmittedMinute != "" {
		lastMinute, err := model.ParseTime(state.LastEmittedMinute)
		if err != nil {
			return err
		}
		after.TimestampUTC = model.FormatMicro(lastMinute.Add(time.Minute).Add(-longWindow))
	}

	trades, stats, err := reader.ReadTrades(cfg.TradesDir(instID), after)
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

	first, err := trades[0].Time()
	if err != nil {
		return err
	}

	w := sink.NewWriter(cfg.DerivedDir("vwap", instID), sink.Single("vwap_1m.jsonl"), "window_start_utc")
	defer w.Close()

	short := candles.NewRollingVWAP(shortWindow)
	long := candles.NewRollingVWAP(longWindow)

	idx := 0
	for minute := model.FloorToMinute(first); minute.Before(openMinute); minute = minute.Add(time.Minute) {
		minuteEnd := minute.Add(time.Minute)

		for idx < len(trades) {
			ts, err := trades[idx].Time()
			if err != nil {
				return err
			}
			if !ts.Before(minuteEnd) {
				break
			}
			short.Add(ts, trades[idx].Price, trades[idx].Notional())
			long.Add(ts, trades[idx].Price, trades[idx].Notional())
			idx++
		}
		short.Trim(minuteEnd)
		long.Trim(minuteEnd)

		ws := model.FormatSec(minute)
		if ws <= state.LastEmittedMinute {
			continue
		}

		rec := model.VWAPRecord{
			WindowStartUTC: ws,
			InstID:         instID,
			Exchange:       "okx",
			Market:         "perps",
			VWAP1h:         short.VWAP(),
			VWAP4h:         long.VWAP(),
			TradeCount1h:   short.Count(),
			TradeCount4h:   long.Count(),
		}
		if _, err := w.Write(ws, rec); err != nil {
			return err
		}
		state.LastEmittedMinute = ws
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
		Str("last_minute", state.LastEmittedMinute).
		Msg("run complete")
	return nil
}
