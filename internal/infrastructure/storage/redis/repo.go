package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
)

type Repo struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	keyTickers  string // prefix + ":tickers"
	alertStream string
	alertChan   string
}

// LatestTicker is the hash value stored per symbol.
type LatestTicker struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"lastPrice"`
	ChangePercent float64 `json:"changePercent"`
	QuoteVolume   float64 `json:"quoteVolume"`
	Source        string  `json:"source"`
	Ts            int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, alertStream, alertChan string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "mdrelay"
	}
	if strings.TrimSpace(alertStream) == "" {
		alertStream = prefix + ":whale-alerts"
	}
	if strings.TrimSpace(alertChan) == "" {
		alertChan = prefix + ":whale-alerts:pub"
	}
	return &Repo{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		keyTickers:  prefix + ":tickers",
		alertStream: alertStream,
		alertChan:   alertChan,
	}
}

func (r *Repo) MirrorTicker(ctx context.Context, symbol string, t market.Ticker) error {
	if t.LastPrice <= 0 {
		return nil
	}
	b, err := json.Marshal(LatestTicker{
		Symbol:        symbol,
		LastPrice:     t.LastPrice,
		ChangePercent: t.ChangePercent,
		QuoteVolume:   t.QuoteVolume,
		Source:        string(t.Source),
		Ts:            t.ObservedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	// Hash: field = "BTCUSDT" -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyTickers, symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyTickers, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// LatestTickers reads the mirrored hash back, keyed by symbol.
func (r *Repo) LatestTickers(ctx context.Context) (map[string]LatestTicker, error) {
	raw, err := r.rdb.HGetAll(ctx, r.keyTickers).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]LatestTicker, len(raw))
	for k, v := range raw {
		var lt LatestTicker
		if err := json.Unmarshal([]byte(v), &lt); err != nil {
			continue
		}
		out[k] = lt
	}
	return out, nil
}

func (r *Repo) RecordAlert(ctx context.Context, a model.WhaleAlert) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> * id symbol side value_usd payload
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.alertStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"id":        a.ID,
			"ts_ms":     a.Timestamp,
			"symbol":    a.Symbol,
			"side":      a.Side,
			"value_usd": a.ValueUSD,
			"payload":   string(b),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.alertChan, string(b)).Err()
}

var (
	_ port.MarketMirror  = (*Repo)(nil)
	_ port.AlertRecorder = (*Repo)(nil)
)
