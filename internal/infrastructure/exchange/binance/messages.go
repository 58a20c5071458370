package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mdrelay/internal/domain/market"
)

var ErrMalformedMessage = errors.New("binance: malformed stream message")

// StreamEvent is one decoded combined-stream message: TickerUpdate or DepthUpdate.
type StreamEvent interface {
	streamEvent()
}

type TickerUpdate struct {
	Symbol    string
	Ticker    market.Ticker
	EventTime int64 // E, unix ms; 0 when absent
}

type DepthUpdate struct {
	Symbol    string
	Depth     market.Depth
	EventTime int64
}

func (TickerUpdate) streamEvent() {}
func (DepthUpdate) streamEvent()  {}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// encoding/json matches keys case-insensitively, so the upper/lower twins of
// every decoded key (e/E, c/C, p/P, q/Q) need their own field.
type tickerMsg struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	CloseTime   int64  `json:"C"`
	PriceChange string `json:"p"`
	ChangePct   string `json:"P"`
	QuoteVolume string `json:"q"`
	LastQty     string `json:"Q"`
}

type depthMsg struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	EventTime int64   `json:"E"`
	Bids      [][]any `json:"bids"`
	Asks      [][]any `json:"asks"`
	B         [][]any `json:"b"`
	A         [][]any `json:"a"`
}

// ParseStreamMessage decodes a combined-stream envelope. Streams other than
// ticker and depth yield (nil, nil).
func ParseStreamMessage(b []byte, now time.Time) (StreamEvent, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing stream or data", ErrMalformedMessage)
	}

	switch {
	case strings.HasSuffix(env.Stream, "@ticker"):
		var m tickerMsg
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("%w: ticker: %v", ErrMalformedMessage, err)
		}
		last, ok := parseNumber(m.Close)
		if !ok {
			return nil, fmt.Errorf("%w: ticker %s has no last price", ErrMalformedMessage, env.Stream)
		}
		change, _ := parseNumber(m.ChangePct)
		vol, _ := parseNumber(m.QuoteVolume)
		return TickerUpdate{
			Symbol: symbolOf(m.Symbol, env.Stream),
			Ticker: market.Ticker{
				LastPrice:     last,
				ChangePercent: change,
				QuoteVolume:   vol,
				ObservedAt:    now,
				Source:        market.SourceStream,
			},
			EventTime: m.EventTime,
		}, nil

	case strings.Contains(env.Stream, "@depth"):
		var m depthMsg
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("%w: depth: %v", ErrMalformedMessage, err)
		}
		bids, asks := m.Bids, m.Asks
		if bids == nil {
			bids = m.B
		}
		if asks == nil {
			asks = m.A
		}
		return DepthUpdate{
			Symbol:    symbolOf(m.Symbol, env.Stream),
			Depth:     market.Depth{Bids: parseLevels(bids), Asks: parseLevels(asks)},
			EventTime: m.EventTime,
		}, nil
	}
	return nil, nil
}

// partial depth payloads carry no symbol; fall back to the stream name prefix
func symbolOf(s, stream string) string {
	if s = strings.TrimSpace(s); s != "" {
		return strings.ToUpper(s)
	}
	if i := strings.IndexByte(stream, '@'); i > 0 {
		return strings.ToUpper(stream[:i])
	}
	return strings.ToUpper(stream)
}

func parseLevels(rows [][]any) []market.Level {
	out := make([]market.Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, ok1 := numberOf(row[0])
		size, ok2 := numberOf(row[1])
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out
}

func numberOf(v any) (float64, bool) {
	switch x := v.(type) {
	case string:
		return parseNumber(x)
	case float64:
		return x, true
	}
	return 0, false
}

// parseNumber rejects empty, NaN and infinite text.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		// e.g. "1e400" overflows float64
		return 0, false
	}
	return f, true
}
