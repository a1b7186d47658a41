// Package exchange implements the OKX WebSocket API v5 message boundary: it
// builds subscription payloads and parses raw frames into validated, typed
// events. This is the only place raw exchange JSON is interpreted; everything
// downstream works with the normalized types.
package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// Channel names on the public OKX v5 endpoint.
const (
	ChannelTrades = "trades"
	ChannelBooks  = "books"
)

// EventKind discriminates parsed WebSocket frames.
type EventKind int

const (
	// KindControl is a protocol frame: subscribe acks, errors, pongs.
	KindControl EventKind = iota
	// KindTrades carries one or more executed trades.
	KindTrades
	// KindBook carries an order book snapshot or delta.
	KindBook
)

// Event is one parsed and validated WebSocket frame.
type Event struct {
	Kind    EventKind
	Channel string
	InstID  string

	// Control fields, set when Kind == KindControl.
	ControlEvent string
	Code         string
	Msg          string

	// Set when Kind == KindTrades.
	Trades []TradeData

	// Set when Kind == KindBook.
	Book *model.BookUpdate
}

// TradeData is a single trade as reported by the exchange, parsed but not yet
// enriched with contract metadata.
type TradeData struct {
	InstID  string
	TradeID string
	Side    string
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Time    time.Time
}

// subscription is the payload shape of OKX subscribe and unsubscribe
// requests: an operation plus one argument per (channel, instrument).
type subscription struct {
	Op   string            `json:"op"`
	Args []subscriptionArg `json:"args"`
}

type subscriptionArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// SubscribeMessage builds a subscribe request for one channel across the
// given instruments.
func SubscribeMessage(channel string, instIDs ...string) ([]byte, error) {
	return opMessage("subscribe", channel, instIDs)
}

// UnsubscribeMessage builds an unsubscribe request for one channel across the
// given instruments.
func UnsubscribeMessage(channel string, instIDs ...string) ([]byte, error) {
	return opMessage("unsubscribe", channel, instIDs)
}

func opMessage(op, channel string, instIDs []string) ([]byte, error) {
	if len(instIDs) == 0 {
		return nil, errors.New("no instruments given")
	}
	args := make([]subscriptionArg, 0, len(instIDs))
	for _, id := range instIDs {
		args = append(args, subscriptionArg{Channel: channel, InstID: id})
	}
	return json.Marshal(subscription{Op: op, Args: args})
}

// envelope is the minimal shape peeked from every frame to route it.
type envelope struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
}

// okxTradeMessage is the OKX v5 trades push. Prices, sizes and timestamps
// arrive as strings; validation runs before any conversion.
type okxTradeMessage struct {
	Arg struct {
		Channel string `json:"channel" validate:"required,eq=trades"`
		InstID  string `json:"instId" validate:"required"`
	} `json:"arg" validate:"required"`
	Data []struct {
		InstID  string `json:"instId" validate:"required"`
		TradeID string `json:"tradeId" validate:"required"`
		Price   string `json:"px" validate:"required,numeric"`
		Size    string `json:"sz" validate:"required,numeric"`
		Side    string `json:"side" validate:"required,oneof=buy sell"`
		TS      string `json:"ts" validate:"required,numeric"`
	} `json:"data" validate:"required,min=1,dive"`
}

// okxBookMessage is the OKX v5 books push. Unlike trades, seqId, prevSeqId
// and checksum arrive as JSON numbers. The books channel sends a full
// snapshot on subscribe and deltas afterwards.
type okxBookMessage struct {
	Arg struct {
		Channel string `json:"channel" validate:"required,eq=books"`
		InstID  string `json:"instId" validate:"required"`
	} `json:"arg" validate:"required"`
	Action string `json:"action" validate:"required,oneof=snapshot update"`
	Data   []struct {
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
		TS        string     `json:"ts" validate:"required,numeric"`
		SeqID     int64      `json:"seqId"`
		PrevSeqID *int64     `json:"prevSeqId"`
		Checksum  *int32     `json:"checksum"`
	} `json:"data" validate:"required,min=1"`
}

// Parser decodes raw OKX frames into Events.
type Parser struct {
	validate *validator.Validate
}

// NewParser returns a frame parser.
func NewParser() *Parser {
	return &Parser{validate: validator.New()}
}

// Parse routes a raw frame by its envelope and returns the validated event. A
// frame that fails validation is an error; the caller decides whether to log
// and continue or abort.
func (p *Parser) Parse(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unreadable frame: %w", err)
	}

	if env.Event != "" {
		return &Event{
			Kind:         KindControl,
			Channel:      env.Arg.Channel,
			InstID:       env.Arg.InstID,
			ControlEvent: env.Event,
			Code:         env.Code,
			Msg:          env.Msg,
		}, nil
	}

	switch env.Arg.Channel {
	case ChannelTrades:
		return p.parseTrades(raw)
	case ChannelBooks:
		return p.parseBook(raw)
	}
	return nil, fmt.Errorf("frame for unknown channel %q", env.Arg.Channel)
}

func (p *Parser) parseTrades(raw []byte) (*Event, error) {
	var msg okxTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling trades frame: %w", err)
	}
	if err := p.validate.Struct(&msg); err != nil {
		return nil, fmt.Errorf("invalid trades frame: %w", err)
	}

	trades := make([]TradeData, 0, len(msg.Data))
	for _, d := range msg.Data {
		tsInt, err := strconv.ParseInt(d.TS, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trade timestamp %q: %w", d.TS, err)
		}
		price, err := decimal.NewFromString(d.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid trade price %q: %w", d.Price, err)
		}
		qty, err := decimal.NewFromString(d.Size)
		if err != nil {
			return nil, fmt.Errorf("invalid trade size %q: %w", d.Size, err)
		}

		trades = append(trades, TradeData{
			InstID:  d.InstID,
			TradeID: d.TradeID,
			Side:    d.Side,
			Price:   price,
			Qty:     qty,
			Time:    time.UnixMilli(tsInt).UTC(),
		})
	}

	return &Event{
		Kind:    KindTrades,
		Channel: ChannelTrades,
		InstID:  msg.Arg.InstID,
		Trades:  trades,
	}, nil
}

func (p *Parser) parseBook(raw []byte) (*Event, error) {
	var msg okxBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling books frame: %w", err)
	}
	if err := p.validate.Struct(&msg); err != nil {
		return nil, fmt.Errorf("invalid books frame: %w", err)
	}

	d := msg.Data[0]
	update := &model.BookUpdate{
		Action:      msg.Action,
		TimestampMs: d.TS,
		SeqID:       d.SeqID,
		PrevSeqID:   d.PrevSeqID,
		Checksum:    d.Checksum,
		Bids:        d.Bids,
		Asks:        d.Asks,
	}

	return &Event{
		Kind:    KindBook,
		Channel: ChannelBooks,
		InstID:  msg.Arg.InstID,
		Book:    update,
	}, nil
}
