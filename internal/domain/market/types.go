package market

import "time"

// Source 行情来源
type Source string

const (
	SourceREST   Source = "rest"
	SourceStream Source = "stream"
)

// Summary status values.
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
)

// Instrument 配置的交易对，启动后不可变
type Instrument struct {
	Symbol string `toml:"symbol" yaml:"symbol"` // 交易所符号，如 BTCUSDT（缓存键）
	ID     string `toml:"id" yaml:"id"`         // 对外 id，如 binance-btcusdt
	Name   string `toml:"name" yaml:"name"`     // 展示名称
}

// Ticker 24h 行情
type Ticker struct {
	LastPrice     float64
	ChangePercent float64
	QuoteVolume   float64
	ObservedAt    time.Time
	Source        Source
}

// Level 一档盘口 (price, size)
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Depth 盘口，买卖均按最优价在前
type Depth struct {
	Bids []Level
	Asks []Level
}

type DepthView struct {
	Exchange string  `json:"exchange"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
}

type Latency struct {
	APILatency    int64   `json:"apiLatency"`
	WSLatency     int64   `json:"wsLatency"`
	AverageSpread float64 `json:"averageSpread"`
}

// Snapshot is the derived market view pushed to subscribers.
type Snapshot struct {
	Timestamp        int64              `json:"timestamp"`
	DominantExchange string             `json:"dominantExchange"`
	Prices           map[string]float64 `json:"prices"`
	Volumes          map[string]float64 `json:"volumes"`
	Depth            []DepthView        `json:"depth"`
	Latency          Latency            `json:"latency"`
}

// Summary is one row of GET /exchanges.
type Summary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	LastPrice float64 `json:"lastPrice"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
	Status    string  `json:"status"`
	Latency   int64   `json:"latency"`
}
