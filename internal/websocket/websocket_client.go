// Package websocket provides a resilient WebSocket client for exchange data
// streams: it dials, subscribes, keeps the connection alive with pings, and
// reconnects with exponential backoff when the stream drops.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultPingPeriod  = 15 * time.Second
	defaultSendTimeout = 5 * time.Second
	defaultReadLimit   = 1 << 20 // 1MB

	defaultHandshakeTimeout = 10 * time.Second

	// Reconnect backoff bounds. The delay doubles on each consecutive
	// failure and resets after a successful connection.
	backoffFloor = 2 * time.Second
	backoffCap   = 60 * time.Second
)

// ErrClientClosed indicates the client was shut down and will not reconnect.
var ErrClientClosed = errors.New("websocket client closed")

// Config defines settings for the WebSocket client.
type Config struct {
	// Endpoint is the WebSocket URL to connect to. Required.
	Endpoint string

	// Handler is called for each incoming message. Required. Handler errors
	// are logged; they do not terminate the connection.
	Handler func([]byte) error

	// OnConnect runs after every (re)connection, once the subscription
	// messages have been sent. Optional.
	OnConnect func()

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between keepalive pings.
	PingPeriod time.Duration

	// SendTimeout bounds every write to the connection.
	SendTimeout time.Duration

	// SubscriptionMessages are sent immediately after each (re)connection.
	SubscriptionMessages [][]byte
}

// Client maintains one WebSocket connection with automatic reconnection.
type Client struct {
	conn atomic.Value // stores *websocket.Conn

	cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	once    sync.Once
	wg      sync.WaitGroup
}

// NewClient returns a running client. The initial dial happens synchronously
// so that configuration and connectivity problems surface to the caller;
// subsequent drops are handled by the reconnect loop.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		cfg:    &cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	conn, err := c.connect()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initial connect failed: %w", err)
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.runLoop(conn)
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()

	return c, nil
}

// Send writes a text message to the current connection, used for subscribe
// and unsubscribe requests after startup.
func (c *Client) Send(msg []byte) error {
	connVal := c.conn.Load()
	if connVal == nil {
		return ErrClientClosed
	}
	conn := connVal.(*websocket.Conn)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// runLoop reads from the connection until it fails, then reconnects with
// backoff until the context is cancelled.
func (c *Client) runLoop(conn *websocket.Conn) {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
	delay := backoffFloor

	for {
		err := c.readLoop(conn)
		if c.ctx.Err() != nil {
			logger.Info().Msg("read loop exiting")
			return
		}
		logger.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost, reconnecting")

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		next, cerr := c.connect()
		if cerr != nil {
			logger.Error().Err(cerr).Dur("retry_in", delay).Msg("reconnect failed")
			if delay *= 2; delay > backoffCap {
				delay = backoffCap
			}
			continue
		}
		delay = backoffFloor
		conn = next
	}
}

// readLoop consumes one connection until a read fails.
func (c *Client) readLoop(conn *websocket.Conn) error {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Err(err).Msg("websocket closed normally")
			} else if websocket.IsUnexpectedCloseError(err) {
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			}
			return err
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Any("recover", r).Msg("panic in message handler")
				}
			}()
			if err := c.cfg.Handler(data); err != nil {
				logger.Error().Err(err).Msg("message handler error")
			}
		}()
	}
}

// connect dials, configures and subscribes a fresh connection.
func (c *Client) connect() (*websocket.Conn, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PingPeriod * 2))
	})

	for _, msg := range c.cfg.SubscriptionMessages {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscription failed: %w", err)
		}
	}

	c.conn.Store(conn)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
	return conn, nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
	logger.Info().Msg("attempting websocket connection")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(c.ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			logger.Error().Err(err).Int("statusCode", resp.StatusCode).Msg("connection failed")
		} else {
			logger.Error().Err(err).Msg("connection failed")
		}
		return nil, err
	}

	logger.Info().Msg("websocket connection established")
	return conn, nil
}

// pingLoop sends keepalive pings on the current connection.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			c.writeMu.Lock()
			if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err == nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					logger.Warn().Err(err).Msg("ping error")
				}
			}
			c.writeMu.Unlock()
		case <-c.ctx.Done():
			return
		}
	}
}

// Close shuts the client down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
		logger.Info().Msg("shutting down websocket client")

		c.cancel()

		if connVal := c.conn.Load(); connVal != nil {
			conn := connVal.(*websocket.Conn)
			if err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			); err != nil {
				logger.Warn().Err(err).Msg("failed to send close frame")
			}
			if err := conn.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing connection")
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines")
		}
	})
}
