/*
Package main implements the live market-data exporter.

The exporter connects to the OKX public WebSocket, subscribes to the trades
and books channels for every configured instrument, and appends the validated
records to the vault: raw trades into daily-rotated logs, order book
snapshots into hourly-rotated logs on a fixed cadence. Sequence gaps in the
book feed trigger a flagged snapshot, a book reset, and a resubscription;
connection drops are retried with capped exponential backoff.

Instrument contract metadata is fetched at startup and cached into the
vault. A missing contract value is fatal: every downstream notional
conversion depends on it.

Usage:

	go run main.go -config=.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/book"
	"github.com/Rbear69/system-of-monelith/internal/exchange"
	"github.com/Rbear69/system-of-monelith/internal/meta"
	"github.com/Rbear69/system-of-monelith/internal/model"
	"github.com/Rbear69/system-of-monelith/internal/sink"
	"github.com/Rbear69/system-of-monelith/internal/vault"
	"github.com/Rbear69/system-of-monelith/internal/websocket"
)

var (
	// configDir is the directory holding the optional vault.yaml.
	configDir = flag.String("config", ".", "Directory containing vault.yaml")
)

// instrumentState bundles everything the exporter maintains per instrument:
// the synchronized order book, the two sinks, and the parsed contract
// parameters stamped onto every trade record.
type instrumentState struct {
	book   *book.Book
	trades *sink.Writer
	books  *sink.Writer

	ctVal  decimal.Decimal
	ctMult decimal.Decimal
	ctType string
}

type exporter struct {
	cfg    vault.Config
	parser *exchange.Parser

	// mu serializes sink writes between the message handler and the
	// snapshot ticker, and guards client, which the read goroutine may
	// observe before the initial dial in newExporter has published it.
	mu     sync.Mutex
	client *websocket.Client
	insts  map[string]*instrumentState
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
	if len(cfg.Instruments) == 0 {
		log.Fatal().Msg("no instruments configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := newExporter(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start exporter")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	log.Info().
		Str("endpoint", cfg.WSURL).
		Strs("instruments", cfg.Instruments).
		Dur("snapshot_cadence", cfg.SnapshotCadence).
		Msg("exporter running")

	go e.snapshotLoop(ctx)

	<-sig
	log.Info().Msg("initiating graceful shutdown")
	cancel()
	e.shutdown()
}

// newExporter fetches metadata, opens the sinks, and dials the exchange.
func newExporter(ctx context.Context, cfg vault.Config) (*exporter, error) {
	e := &exporter{
		cfg:    cfg,
		parser: exchange.NewParser(),
		insts:  make(map[string]*instrumentState),
	}

	metaClient := meta.NewClient(cfg.RESTURL)
	for _, instID := range cfg.Instruments {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, 30*time.Second)
		in, err := metaClient.Fetch(fetchCtx, instID)
		fetchCancel()
		if err != nil {
			return nil, fmt.Errorf("metadata for %s: %w", instID, err)
		}
		if err := meta.Save(in, cfg.MetaFile(instID)); err != nil {
			return nil, err
		}

		ctVal, err := in.ContractValue()
		if err != nil {
			return nil, err
		}
		ctMult, err := decimal.NewFromString(in.Normalized.CtMult)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: invalid ctMult %q: %w", instID, in.Normalized.CtMult, err)
		}

		e.insts[instID] = &instrumentState{
			book:   book.New(instID),
			trades: sink.NewWriter(cfg.TradesDir(instID), sink.Daily, "trade_id"),
			books:  sink.NewWriter(cfg.BooksDir(instID), sink.Hourly, "timestamp_utc"),
			ctVal:  ctVal,
			ctMult: ctMult,
			ctType: in.Normalized.CtType,
		}
	}

	subTrades, err := exchange.SubscribeMessage(exchange.ChannelTrades, cfg.Instruments...)
	if err != nil {
		return nil, err
	}
	subBooks, err := exchange.SubscribeMessage(exchange.ChannelBooks, cfg.Instruments...)
	if err != nil {
		return nil, err
	}

	client, err := websocket.NewClient(ctx, websocket.Config{
		Endpoint:             cfg.WSURL,
		Handler:              e.handleMessage,
		SubscriptionMessages: [][]byte{subTrades, subBooks},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.WSURL, err)
	}
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
	return e, nil
}

// handleMessage routes one raw WebSocket frame.
func (e *exporter) handleMessage(raw []byte) error {
	ev, err := e.parser.Parse(raw)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case exchange.KindControl:
		if ev.ControlEvent == "error" {
			log.Error().Str("code", ev.Code).Str("msg", ev.Msg).Msg("exchange error frame")
		} else {
			log.Debug().Str("event", ev.ControlEvent).Str("instId", ev.InstID).Msg("control frame")
		}
		return nil

	case exchange.KindTrades:
		return e.handleTrades(ev)

	case exchange.KindBook:
		return e.handleBook(ev)
	}
	return nil
}

func (e *exporter) handleTrades(ev *exchange.Event) error {
	st, ok := e.insts[ev.InstID]
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, td := range ev.Trades {
		trade := model.Trade{
			TimestampUTC: model.FormatMicro(td.Time),
			Exchange:     "okx",
			Market:       "perps",
			InstID:       td.InstID,
			SymbolCanon:  model.CanonicalSymbol(td.InstID),
			TradeID:      td.TradeID,
			Side:         td.Side,
			Price:        td.Price,
			QtyContracts: td.Qty,
			CtVal:        st.ctVal,
			CtMult:       st.ctMult,
			CtType:       st.ctType,
		}
		if _, err := st.trades.Write(trade.TimestampUTC, trade); err != nil {
			return fmt.Errorf("writing trade %s: %w", trade.TradeID, err)
		}
	}
	return nil
}

func (e *exporter) handleBook(ev *exchange.Event) error {
	st, ok := e.insts[ev.InstID]
	if !ok {
		return nil
	}
	u := ev.Book

	if u.Action == "snapshot" {
		if err := st.book.ApplySnapshot(*u); err != nil {
			log.Warn().Str("instId", ev.InstID).Err(err).Msg("snapshot rejected")
			return nil
		}
		if !st.book.ValidateChecksum() {
			log.Warn().Str("instId", ev.InstID).Msg("book checksum mismatch")
		}
		return nil
	}

	if st.book.DetectGap(*u) {
		return e.recoverGap(ev.InstID, st)
	}

	if err := st.book.ApplyDelta(*u); err != nil {
		log.Warn().Str("instId", ev.InstID).Err(err).Msg("delta rejected")
		return nil
	}
	if !st.book.ValidateChecksum() {
		log.Warn().Str("instId", ev.InstID).Msg("book checksum mismatch")
	}
	return nil
}

// recoverGap persists a gap-flagged snapshot of the stale book, clears it,
// and resubscribes so the exchange replays a fresh snapshot.
func (e *exporter) recoverGap(instID string, st *instrumentState) error {
	log.Warn().Str("instId", instID).Msg("book sequence gap, resubscribing")

	snap := st.book.Snapshot(model.FormatMicro(time.Now()), e.cfg.DepthLevels, true)

	e.mu.Lock()
	_, err := st.books.Write(snap.TimestampUTC, snap)
	client := e.client
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing gap snapshot for %s: %w", instID, err)
	}

	st.book.Clear()

	// A gap during the initial dial has no client to resubscribe with; the
	// pending subscription delivers a fresh snapshot anyway.
	if client == nil {
		return nil
	}

	unsub, err := exchange.UnsubscribeMessage(exchange.ChannelBooks, instID)
	if err != nil {
		return err
	}
	sub, err := exchange.SubscribeMessage(exchange.ChannelBooks, instID)
	if err != nil {
		return err
	}
	if err := client.Send(unsub); err != nil {
		return err
	}
	return client.Send(sub)
}

// snapshotLoop samples every initialized book on the configured cadence.
func (e *exporter) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SnapshotCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.emitSnapshots(now)
		}
	}
}

func (e *exporter) emitSnapshots(now time.Time) {
	ts := model.FormatMicro(now)

	e.mu.Lock()
	defer e.mu.Unlock()

	for instID, st := range e.insts {
		if !st.book.Initialized() {
			continue
		}
		snap := st.book.Snapshot(ts, e.cfg.DepthLevels, false)
		if _, err := st.books.Write(snap.TimestampUTC, snap); err != nil {
			log.Error().Str("instId", instID).Err(err).Msg("snapshot write failed")
			continue
		}
		if err := st.books.Flush(); err != nil {
			log.Error().Str("instId", instID).Err(err).Msg("snapshot flush failed")
		}
		if err := st.trades.Flush(); err != nil {
			log.Error().Str("instId", instID).Err(err).Msg("trades flush failed")
		}
	}
}

func (e *exporter) shutdown() {
	e.client.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	for instID, st := range e.insts {
		if err := st.trades.Close(); err != nil {
			log.Error().Str("instId", instID).Err(err).Msg("closing trades sink")
		}
		if err := st.books.Close(); err != nil {
			log.Error().Str("instId", instID).Err(err).Msg("closing books sink")
		}
		log.Info().
			Str("instId", instID).
			Int("trades_written", st.trades.Written()).
			Int("trades_skipped", st.trades.Skipped()).
			Int("snapshots_written", st.books.Written()).
			Msg("sink closed")
	}
}
