package market

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Cache holds the latest ticker and depth per configured instrument.
// Writes are last-writer-wins regardless of source.
type Cache struct {
	instruments []Instrument
	index       map[string]int

	mu            sync.RWMutex
	tickers       map[string]Ticker
	restVolumes   map[string]float64 // 仅 REST 快照的成交额，用于计算 dominant
	depths        map[string]Depth
	apiLatency    int64
	wsLatency     int64
	averageSpread float64

	now func() time.Time
}

func NewCache(instruments []Instrument) *Cache {
	c := &Cache{
		instruments: append([]Instrument(nil), instruments...),
		index:       make(map[string]int, len(instruments)),
		tickers:     make(map[string]Ticker, len(instruments)),
		restVolumes: make(map[string]float64, len(instruments)),
		depths:      make(map[string]Depth, len(instruments)),
		now:         time.Now,
	}
	for i, inst := range c.instruments {
		c.index[strings.ToUpper(inst.Symbol)] = i
	}
	return c
}

// Instruments returns the configured instruments in order.
func (c *Cache) Instruments() []Instrument {
	return append([]Instrument(nil), c.instruments...)
}

// Known reports whether symbol is configured.
func (c *Cache) Known(symbol string) bool {
	_, ok := c.index[strings.ToUpper(symbol)]
	return ok
}

// ApplyTicker overwrites the ticker of symbol. Unknown symbols and
// non-finite values are rejected.
func (c *Cache) ApplyTicker(symbol string, t Ticker) bool {
	symbol = strings.ToUpper(symbol)
	if _, ok := c.index[symbol]; !ok {
		return false
	}
	if !isFinite(t.LastPrice) || !isFinite(t.ChangePercent) || !isFinite(t.QuoteVolume) {
		return false
	}
	if t.ObservedAt.IsZero() {
		t.ObservedAt = c.now()
	}
	c.mu.Lock()
	c.tickers[symbol] = t
	if t.Source == SourceREST {
		c.restVolumes[symbol] = t.QuoteVolume
	}
	c.mu.Unlock()
	return true
}

// ApplyDepth overwrites the depth of symbol and recomputes the average spread.
// Non-finite levels are dropped.
func (c *Cache) ApplyDepth(symbol string, d Depth) bool {
	symbol = strings.ToUpper(symbol)
	if _, ok := c.index[symbol]; !ok {
		return false
	}
	d = Depth{Bids: finiteLevels(d.Bids), Asks: finiteLevels(d.Asks)}

	c.mu.Lock()
	c.depths[symbol] = d
	c.recomputeLocked()
	c.mu.Unlock()
	return true
}

func finiteLevels(in []Level) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		if isFinite(l.Price) && isFinite(l.Size) {
			out = append(out, l)
		}
	}
	return out
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// RecomputeAverageSpread sets the mean of best-ask minus best-bid over
// instruments with both book sides present.
func (c *Cache) RecomputeAverageSpread() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recomputeLocked()
}

func (c *Cache) recomputeLocked() float64 {
	var sum float64
	var n int
	for _, inst := range c.instruments {
		d, ok := c.depths[strings.ToUpper(inst.Symbol)]
		if !ok || len(d.Bids) == 0 || len(d.Asks) == 0 {
			continue
		}
		spread := d.Asks[0].Price - d.Bids[0].Price
		if !isFinite(spread) {
			continue
		}
		sum += spread
		n++
	}
	if n == 0 {
		c.averageSpread = 0
	} else {
		c.averageSpread = sum / float64(n)
	}
	return c.averageSpread
}

func (c *Cache) SetAPILatency(ms int64) {
	c.mu.Lock()
	c.apiLatency = max(ms, 0)
	c.mu.Unlock()
}

func (c *Cache) SetStreamLatency(ms int64) {
	c.mu.Lock()
	c.wsLatency = max(ms, 0)
	c.mu.Unlock()
}

// Ticker returns the cached ticker of symbol.
func (c *Cache) Ticker(symbol string) (Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[strings.ToUpper(symbol)]
	return t, ok
}

// Snapshot builds the market view. The dominant instrument is the one with the
// highest quote volume from the latest REST refresh; stream tickers update
// prices and volumes but not dominance. The first configured instrument wins
// ties and the empty case.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Timestamp: c.now().UnixMilli(),
		Prices:    make(map[string]float64, len(c.tickers)),
		Volumes:   make(map[string]float64, len(c.tickers)),
		Depth:     make([]DepthView, 0, len(c.depths)),
		Latency: Latency{
			APILatency:    c.apiLatency,
			WSLatency:     c.wsLatency,
			AverageSpread: c.averageSpread,
		},
	}
	if len(c.instruments) > 0 {
		snap.DominantExchange = c.instruments[0].ID
	}

	highest := math.Inf(-1)
	for _, inst := range c.instruments {
		key := strings.ToUpper(inst.Symbol)
		if t, ok := c.tickers[key]; ok {
			snap.Prices[inst.ID] = t.LastPrice
			snap.Volumes[inst.ID] = t.QuoteVolume
		}
		if v, ok := c.restVolumes[key]; ok && v > highest {
			highest = v
			snap.DominantExchange = inst.ID
		}
		if d, ok := c.depths[key]; ok {
			snap.Depth = append(snap.Depth, DepthView{
				Exchange: inst.Name,
				Bids:     append([]Level{}, d.Bids...),
				Asks:     append([]Level{}, d.Asks...),
			})
		}
	}
	return snap
}

// Summaries returns one record per configured instrument.
func (c *Cache) Summaries() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.instruments))
	for _, inst := range c.instruments {
		s := Summary{
			ID:      inst.ID,
			Name:    inst.Name,
			Status:  StatusDegraded,
			Latency: c.apiLatency,
		}
		if t, ok := c.tickers[strings.ToUpper(inst.Symbol)]; ok {
			s.LastPrice = t.LastPrice
			s.Change24h = t.ChangePercent
			s.Volume24h = t.QuoteVolume
			s.Status = StatusOperational
		}
		out = append(out, s)
	}
	return out
}
