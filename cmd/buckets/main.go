/*
Package main implements the liquidity bucket analyzer.

Each run reads the book snapshots appended since the previous run and
derives, per snapshot, the banded depth metrics: base and notional liquidity
per distance band, bid/ask imbalance, deltas against the previous snapshot
with significance flags, and two-phase young-wall tracking with a
persistence requirement. The per-band wall timers travel in the stream's
state file.

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

	"github.com/Rbear69/system-of-monelith/internal/buckets"
	"github.com/Rbear69/system-of-monelith/internal/cursor"
	"github.com/Rbear69/system-of-monelith/internal/meta"
	"github.com/Rbear69/system-of-monelith/internal/reader"
	"github.com/Rbear69/system-of-monelith/internal/sink"
	"github.com/Rbear69/system-of-monelith/internal/vault"
)

var (
	inst      = flag.String("inst", "", "Instrument id, e.g. BTC-USDT-SWAP")
	configDir = flag.String("config", ".", "Directory containing vault.yaml")
)

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
		log.Fatal().Err(err).Msg("bucket build failed")
	}
}

func run(cfg vault.Config, instID string) error {
	in, err := meta.Load(cfg.MetaFile(instID))
	if err != nil {
		return err
	}
	ctVal, err := in.ContractValue()
	if err != nil {
		return err
	}

	store := cursor.NewStore(cfg.StateDir("liquidity_buckets"))
	state := buckets.NewState()
	if err := store.Load(cursor.Key{InstID: instID}, state); err != nil {
		return err
	}
	state.Normalize()

	snaps, stats, err := reader.ReadSnapshots(cfg.BooksDir(instID), state.LastProcessedTimestampUTC)
	if err != nil {
		return err
	}
	log.Info().
		Str("instId", instID).
		Int("snapshots", len(snaps)).
		Int("malformed", stats.Malformed).
		Msg("snapshots loaded")

	b := buckets.NewBucketizer(instID, ctVal)
	w := sink.NewWriter(cfg.DerivedDir("liquidity_buckets", instID), sink.Daily, "timestamp_utc")
	defer w.Close()

	skippedNoMid := 0
	for _, snap := range snaps {
		rec, err := b.Process(snap, state)
		if err != nil {
			log.Warn().Str("timestamp", snap.TimestampUTC).Err(err).Msg("snapshot skipped")
			continue
		}
		if rec == nil {
			skippedNoMid++
			continue
		}
		if _, err := w.Write(rec.TimestampUTC, rec); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if err := store.Save(cursor.Key{InstID: instID}, state); err != nil {
		return err
	}

	log.Info().
		Str("instId", instID).
		Int("written", w.Written()).
		Int("skipped", w.Skipped()).
		Int("skipped_no_mid", skippedNoMid).
		Str("cursor", state.LastProcessedTimestampUTC).
		Msg("run complete")
	return nil
}
