// Package feed is a websocket client for a live option chain service.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"straddle-backtester/internal/errors"
	"straddle-backtester/internal/models"
	"straddle-backtester/pkg/utils"
)

// Config holds the connection settings. MaxAttempts bounds reconnects for
// one request. After BreakerFailures consecutive connection failures the
// client fails fast for BreakerCooldown.
type Config struct {
	URL               string        `mapstructure:"url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:8765/ws",
		RequestsPerSecond: 5,
		Burst:             10,
		Timeout:           10 * time.Second,
		MaxAttempts:       3,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// Client issues one request at a time over a single connection, dialing on
// first use and again after a failed exchange.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	retry   utils.RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// NewClient creates a client. It does not dial.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultConfig().BreakerFailures
	}

	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger.With().Str("component", "feed").Logger(),
	}

	c.retry = utils.DefaultRetryConfig()
	c.retry.MaxAttempts = max(cfg.MaxAttempts, 1)
	c.retry.MaxDelay = cfg.Timeout
	c.retry.Retryable = func(err error) bool { return errors.Is(err, errors.ErrFeedClosed) }

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feed",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Errors reported by the service mean the connection works.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, errors.ErrFeedClosed)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Feed circuit breaker state changed")
		},
	})
	return c
}

// Connect dials the feed if not already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", errors.ErrFeedClosed, redactURL(c.cfg.URL), err)
	}
	c.conn = conn
	c.logger.Info().Str("url", redactURL(c.cfg.URL)).Msg("Feed connected")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	closeErr := c.conn.Close()
	c.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// call sends req through the circuit breaker, redialing after connection
// failures.
func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return utils.RetryWithResult(ctx, c.retry, func() (*Response, error) {
			return c.exchange(ctx, req)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", errors.ErrFeedClosed, err)
		}
		return nil, err
	}
	return res.(*Response), nil
}

// exchange sends req and waits for the response with the same id. Messages
// with other ids are discarded.
func (c *Client) exchange(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	c.nextID++
	req.ID = c.nextID

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	c.conn.SetReadDeadline(deadline)

	if err := c.conn.WriteJSON(req); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%w: write %s: %v", errors.ErrFeedClosed, req.Method, err)
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.dropLocked()
			return nil, fmt.Errorf("%w: read %s: %v", errors.ErrFeedClosed, req.Method, err)
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed feed message")
			continue
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("feed %s %s: %s", req.Method, req.Ticker, resp.Error)
		}
		return &resp, nil
	}
}

// Chain returns the current option chain for ticker.
func (c *Client) Chain(ctx context.Context, ticker string) ([]models.Quote, error) {
	ticker = strings.ToUpper(ticker)
	resp, err := c.call(ctx, Request{Method: MethodChain, Ticker: ticker})
	if err != nil {
		return nil, err
	}
	quotes := make([]models.Quote, 0, len(resp.Quotes))
	for _, w := range resp.Quotes {
		q, err := w.toQuote(ticker)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", w.Symbol).Msg("Skipping malformed chain entry")
			continue
		}
		quotes = append(quotes, q)
	}
	c.logger.Debug().Str("ticker", ticker).Int("quotes", len(quotes)).Msg("Chain received")
	return quotes, nil
}

// Spot returns the last underlying price for ticker.
func (c *Client) Spot(ctx context.Context, ticker string) (float64, error) {
	ticker = strings.ToUpper(ticker)
	resp, err := c.call(ctx, Request{Method: MethodSpot, Ticker: ticker})
	if err != nil {
		return 0, err
	}
	if resp.Price <= 0 {
		return 0, errors.NewSpotPriceUnavailableError(ticker, time.Now(), false)
	}
	return resp.Price, nil
}

// History returns daily underlying bars in [from, to].
func (c *Client) History(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error) {
	ticker = strings.ToUpper(ticker)
	resp, err := c.call(ctx, Request{
		Method: MethodHistory,
		Ticker: ticker,
		From:   from.UTC().Format(dateLayout),
		To:     to.UTC().Format(dateLayout),
	})
	if err != nil {
		return nil, err
	}
	candles := make([]models.Candle, 0, len(resp.Candles))
	for _, w := range resp.Candles {
		candle, err := w.toCandle()
		if err != nil {
			return nil, fmt.Errorf("bad history bar %q: %w", w.Date, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
