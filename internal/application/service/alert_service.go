package service

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
)

var alertSymbols = []string{"BTC", "ETH", "BNB", "SOL", "XRP", "DOGE"}

// 参考价格优先级：BTCUSDT > ETHUSDT > 1
var referenceSymbols = []string{"BTCUSDT", "ETHUSDT"}

// PriceLookup 读取缓存中的最新行情
type PriceLookup interface {
	Ticker(symbol string) (market.Ticker, bool)
}

// WhaleAlertSource generates synthetic whale alerts priced off the market cache.
type WhaleAlertSource struct {
	prices   PriceLookup
	recorder port.AlertRecorder

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewWhaleAlertSource recorder may be nil.
func NewWhaleAlertSource(prices PriceLookup, recorder port.AlertRecorder) *WhaleAlertSource {
	return &WhaleAlertSource{
		prices:   prices,
		recorder: recorder,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:      time.Now,
	}
}

func (s *WhaleAlertSource) NextAlert(ctx context.Context) model.WhaleAlert {
	s.mu.Lock()
	symbol := alertSymbols[s.rng.IntN(len(alertSymbols))]
	side := model.SideBuy
	if s.rng.IntN(2) == 1 {
		side = model.SideSell
	}
	amount := math.Round((s.rng.Float64()*1000+10)*100) / 100
	hash := fmt.Sprintf("0x%08x...%08x", s.rng.Uint32(), s.rng.Uint32())
	s.mu.Unlock()

	alert := model.WhaleAlert{
		ID:        "alert-" + uuid.NewString(),
		Exchange:  "Binance",
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		ValueUSD:  math.Round(amount * s.referencePrice()),
		Hash:      hash,
		Timestamp: s.now().UnixMilli(),
	}

	if s.recorder != nil {
		if err := s.recorder.RecordAlert(ctx, alert); err != nil {
			log.Warn().Str("component", "whale_alerts").Str("id", alert.ID).Err(err).Msg("record alert failed")
		}
	}
	return alert
}

func (s *WhaleAlertSource) referencePrice() float64 {
	if s.prices == nil {
		return 1
	}
	for _, sym := range referenceSymbols {
		if t, ok := s.prices.Ticker(sym); ok && t.LastPrice > 0 {
			return t.LastPrice
		}
	}
	return 1
}

var _ port.AlertSource = (*WhaleAlertSource)(nil)
