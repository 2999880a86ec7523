package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ClientConfig tunes the JSON-RPC transport.
type ClientConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RatePerSec is the centralized call budget across all endpoints of
	// one chain pool.
	RatePerSec float64
	Burst      int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		BackoffBase: 250 * time.Millisecond,
		BackoffMax:  5 * time.Second,
		RatePerSec:  10,
		Burst:       10,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a JSON-RPC client over a pool of provider URLs. Failures
// rotate to the next URL; each endpoint sits behind its own breaker and
// the pool shares one rate limiter.
type Client struct {
	chainName string
	urls      []string
	cfg       ClientConfig

	http     *http.Client
	limiter  *rate.Limiter
	breakers []*gobreaker.CircuitBreaker

	mu      sync.Mutex
	current int

	nextID uint64
	logger zerolog.Logger

	sleep func(context.Context, time.Duration) error
}

func NewClient(chainName string, urls []string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSec)
	}

	breakers := make([]*gobreaker.CircuitBreaker, len(urls))
	for i, u := range urls {
		settings := gobreaker.Settings{
			Name:    chainName + ":" + u,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
		breakers[i] = gobreaker.NewCircuitBreaker(settings)
	}

	return &Client{
		chainName: chainName,
		urls:      urls,
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breakers:  breakers,
		logger:    log.With().Str("component", "chain").Str("chain", chainName).Logger(),
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Call issues one JSON-RPC method, retrying temporary failures with
// exponential backoff and URL rotation. result is unmarshalled from the
// response's result field.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if len(c.urls) == 0 {
		return fmt.Errorf("chain %s: no rpc urls configured", c.chainName)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		idx := c.currentIndex()
		raw, err := c.callOnce(ctx, idx, method, params)
		if err == nil {
			if result == nil || len(raw) == 0 {
				return nil
			}
			return json.Unmarshal(raw, result)
		}
		lastErr = err

		if !IsTemporary(err) {
			return err
		}

		c.rotate(idx)
		wait := c.backoff(attempt)
		if rpcErr, ok := err.(*RPCError); ok && rpcErr.RateLimited && rpcErr.RetryAfter > 0 {
			wait = rpcErr.RetryAfter
		}
		c.logger.Warn().
			Err(err).
			Str("method", method).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("rpc call failed, rotating endpoint")
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("chain %s: %s exhausted retries: %w", c.chainName, method, lastErr)
}

func (c *Client) callOnce(ctx context.Context, idx int, method string, params []interface{}) (json.RawMessage, error) {
	out, err := c.breakers[idx].Execute(func() (interface{}, error) {
		return c.post(ctx, c.urls[idx], method, params)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, &RPCError{Message: "endpoint breaker open", Temporary: true}
	}
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (c *Client) post(ctx context.Context, url, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RPCError{
			HTTPStatus:  resp.StatusCode,
			Message:     "rate limited",
			RateLimited: true,
			Temporary:   true,
			RetryAfter:  retryAfter(resp),
		}
	}
	if resp.StatusCode >= 500 {
		return nil, &RPCError{HTTPStatus: resp.StatusCode, Message: "server error", Temporary: true}
	}
	if resp.StatusCode >= 400 {
		return nil, &RPCError{HTTPStatus: resp.StatusCode, Message: "client error", Temporary: false}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, &RPCError{Message: "malformed response: " + err.Error(), Temporary: true}
	}
	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:      rpcResp.Error.Code,
			Message:   rpcResp.Error.Message,
			Temporary: rpcResp.Error.Code == -32005, // provider throttle code
		}
	}
	return rpcResp.Result, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Second
}

func (c *Client) currentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// rotate advances past failedIdx unless another caller already moved on.
func (c *Client) rotate(failedIdx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == failedIdx {
		c.current = (c.current + 1) % len(c.urls)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << uint(attempt)
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	return d
}
