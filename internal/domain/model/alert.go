package model

// Side values of a whale alert.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// WhaleAlert 大额成交提醒
type WhaleAlert struct {
	ID        string  `json:"id"`
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"` // 币种，如 BTC
	Side      string  `json:"side"`   // buy / sell
	Amount    float64 `json:"amount"`
	ValueUSD  float64 `json:"valueUsd"`
	Hash      string  `json:"hash"`
	Timestamp int64   `json:"timestamp"` // 毫秒
}

// SeedWhaleAlerts returns the historical alerts served before any live alert exists.
// Timestamps are relative to nowMs, newest first.
func SeedWhaleAlerts(nowMs int64) []WhaleAlert {
	const minute = int64(60 * 1000)
	return []WhaleAlert{
		{ID: "alert-1", Exchange: "Binance", Symbol: "BTC", Side: SideBuy, Amount: 842.5, ValueUSD: 54000000, Hash: "0x1f3a...c9e2", Timestamp: nowMs - minute},
		{ID: "alert-2", Exchange: "Binance", Symbol: "ETH", Side: SideSell, Amount: 12800, ValueUSD: 41000000, Hash: "0x9a0b...ff12", Timestamp: nowMs - 3*minute},
		{ID: "alert-3", Exchange: "Binance", Symbol: "BNB", Side: SideBuy, Amount: 620000, ValueUSD: 9500000, Hash: "0x5c8d...92aa", Timestamp: nowMs - 5*minute},
	}
}
