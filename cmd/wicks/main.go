/*
Package main implements the wick lifecycle processor.

For every timeframe it reads the candles appended since the previous run,
detects new upper and lower wicks, and advances each untouched wick through
its lifecycle: touched when a later candle reaches the wick price, expired
when it stays unreached for the expiry window. Every transition is appended
to the event log, and the remaining untouched wicks are written as a
latest-state snapshot alongside it.

Tip precision metrics (distance in ticks, exact/near classification, signal
strength, penetration) require the instrument's tick size from the cached
metadata; without it they stay null.

Usage:

	go run main.go -inst=BTC-USDT-SWAP
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/cursor"
	"github.com/Rbear69/system-of-monelith/internal/meta"
	"github.com/Rbear69/system-of-monelith/internal/model"
	"github.com/Rbear69/system-of-monelith/internal/reader"
	"github.com/Rbear69/system-of-monelith/internal/sink"
	"github.com/Rbear69/system-of-monelith/internal/vault"
	"github.com/Rbear69/system-of-monelith/internal/wicks"
)

var (
	inst      = flag.String("inst", "", "Instrument id, e.g. BTC-USDT-SWAP")
	configDir = flag.String("config", ".", "Directory containing vault.yaml")
)

// wickState is the persisted position of one (instrument, timeframe)
// stream: the window start of the last processed candle and the untouched
// wicks carried into the next run.
type wickState struct {
	LastWindowStart string            `json:"last_window_start_utc"`
	Active          []model.WickEvent `json:"active_wicks"`
}

// stateSnapshot is the reconstructible latest-state document written next to
// the event log.
type stateSnapshot struct {
	InstID     string                       `json:"instId"`
	UpdatedUTC string                       `json:"updated_utc"`
	Untouched  map[string][]model.WickEvent `json:"untouched_by_timeframe"`
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
		log.Fatal().Err(err).Msg("wick processing failed")
	}
}

func run(cfg vault.Config, instID string) error {
	tickSz := loadTickSize(cfg, instID)

	all, stats, err := reader.ReadCandles(cfg.DerivedDir("candles", instID), "")
	if err != nil {
		return err
	}
	log.Info().
		Str("instId", instID).
		Int("candles", len(all)).
		Int("malformed", stats.Malformed).
		Msg("candles loaded")

	byTF := make(map[string][]model.Candle)
	for _, c := range all {
		byTF[c.Timeframe] = append(byTF[c.Timeframe], c)
	}

	store := cursor.NewStore(cfg.StateDir("wicks"))

	// A status transition appends a new event-log line; the composite key
	// lets a wick appear once per lifecycle state.
	w := sink.NewWriter(cfg.DerivedDir("wicks", instID), sink.Single("wicks_events.jsonl"), "event_id", "status")
	defer w.Close()

	untouched := make(map[string][]model.WickEvent)
	for _, tf := range model.Timeframes {
		active, err := runTimeframe(store, w, instID, tf, byTF[tf], cfg.WickExpiry, tickSz)
		if err != nil {
			return fmt.Errorf("timeframe %s: %w", tf, err)
		}
		untouched[tf] = active
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if err := writeSnapshot(cfg, instID, untouched); err != nil {
		return err
	}

	log.Info().
		Str("instId", instID).
		Int("events_written", w.Written()).
		Int("events_skipped", w.Skipped()).
		Msg("run complete")
	return nil
}

func runTimeframe(store *cursor.Store, w *sink.Writer, instID, tf string, candleSeries []model.Candle, expiry time.Duration, tickSz *decimal.Decimal) ([]model.WickEvent, error) {
	key := cursor.Key{InstID: instID, Timeframe: tf}
	var state wickState
	if err := store.Load(key, &state); err != nil {
		return nil, err
	}

	tracker := wicks.NewTracker(tf, expiry, tickSz)
	tracker.Restore(state.Active)

	processed := 0
	for _, c := range candleSeries {
		if c.WindowStartUTC <= state.LastWindowStart {
			continue
		}
		events, err := tracker.Process(c)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if _, err := w.Write(c.WindowStartUTC, ev); err != nil {
				return nil, err
			}
		}
		state.LastWindowStart = c.WindowStartUTC
		processed++
	}

	// The event log must be durable before the cursor moves past it; a crash
	// between the two replays the candles and the sink dedups the events.
	if err := w.Flush(); err != nil {
		return nil, err
	}
	state.Active = tracker.Active()
	if err := store.Save(key, state); err != nil {
		return nil, err
	}

	log.Info().
		Str("instId", instID).
		Str("timeframe", tf).
		Int("candles", processed).
		Int("untouched", len(state.Active)).
		Msg("timeframe complete")
	return state.Active, nil
}

// loadTickSize reads the cached instrument metadata. Unlike ctVal, a missing
// tick size is not fatal: the tip metrics simply stay null.
func loadTickSize(cfg vault.Config, instID string) *decimal.Decimal {
	in, err := meta.Load(cfg.MetaFile(instID))
	if err != nil {
		log.Warn().Str("instId", instID).Err(err).Msg("no metadata cache, tip metrics will be null")
		return nil
	}
	tickSz, ok := in.TickSize()
	if !ok {
		log.Warn().Str("instId", instID).Msg("no tick size, tip metrics will be null")
		return nil
	}
	return tickSz
}

func writeSnapshot(cfg vault.Config, instID string, untouched map[string][]model.WickEvent) error {
	doc := stateSnapshot{
		InstID:     instID,
		UpdatedUTC: model.FormatMicro(time.Now()),
		Untouched:  untouched,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}

	path := filepath.Join(cfg.DerivedDir("wicks", instID), "wicks_state.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing state snapshot: %w", err)
	}
	return nil
}
