package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultRESTURL = "https://api1.binance.com"

// FetchError REST 拉取失败（非 2xx 或网络错误）
type FetchError struct {
	Attempts int
	APICode  int64 // binance 错误码，非 API 错误时为 0
	Err      error
}

func (e *FetchError) Error() string {
	if e.APICode != 0 {
		return fmt.Sprintf("binance rest fetch failed after %d attempt(s): code=%d: %v", e.Attempts, e.APICode, e.Err)
	}
	return fmt.Sprintf("binance rest fetch failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type RESTOptions struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RPS         float64
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// TickerStat 24h 行情统计（已解析）
type TickerStat struct {
	Symbol        string
	LastPrice     float64
	ChangePercent float64
	QuoteVolume   float64
}

// RESTClient fetches 24h ticker snapshots.
type RESTClient struct {
	client      *gobinance.Client
	limiter     *rate.Limiter
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

func NewRESTClient(opts RESTOptions) *RESTClient {
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultRESTURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}

	client := gobinance.NewClient("", "")
	client.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	client.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &RESTClient{
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(opts.RPS), 1),
		maxAttempts: opts.MaxAttempts,
		minBackoff:  opts.MinBackoff,
		maxBackoff:  opts.MaxBackoff,
	}
}

// Fetch24hTickers calls /api/v3/ticker/24hr for symbols. latency is the
// round trip of the successful attempt.
func (c *RESTClient) Fetch24hTickers(ctx context.Context, symbols []string) ([]TickerStat, time.Duration, error) {
	b := &backoff.Backoff{Min: c.minBackoff, Max: c.maxBackoff, Factor: 2}

	var lastErr error
	tried := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, &FetchError{Attempts: attempt - 1, Err: err}
		}

		tried = attempt
		start := time.Now()
		stats, err := c.client.NewListPriceChangeStatsService().Symbols(symbols).Do(ctx)
		latency := time.Since(start)
		if err == nil {
			return convertStats(stats), latency, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == c.maxAttempts {
			break
		}
		wait := b.Duration()
		log.Debug().Str("component", "binance_rest").Int("attempt", attempt).Dur("retry_in", wait).Err(err).Msg("ticker fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, 0, &FetchError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}

	fe := &FetchError{Attempts: tried, Err: lastErr}
	var apiErr *common.APIError
	if errors.As(lastErr, &apiErr) {
		fe.APICode = apiErr.Code
	}
	return nil, 0, fe
}

func convertStats(in []*gobinance.PriceChangeStats) []TickerStat {
	out := make([]TickerStat, 0, len(in))
	for _, s := range in {
		if s == nil {
			continue
		}
		last, ok := parseNumber(s.LastPrice)
		if !ok {
			continue
		}
		change, _ := parseNumber(s.PriceChangePercent)
		vol, _ := parseNumber(s.QuoteVolume)
		out = append(out, TickerStat{
			Symbol:        strings.ToUpper(s.Symbol),
			LastPrice:     last,
			ChangePercent: change,
			QuoteVolume:   vol,
		})
	}
	return out
}
