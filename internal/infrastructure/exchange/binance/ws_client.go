package binance

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/infrastructure/scheduler"
)

const (
	defaultWSURL       = "wss://stream.binance.com:9443"
	defaultDepthStream = "depth5@1000ms"
	errorLogWindow     = 10 * time.Second
	readTimeout        = 60 * time.Second
	pingInterval       = 25 * time.Second
)

// Timers is the subset of the scheduler the feed needs.
type Timers interface {
	ScheduleIfIdle(kind scheduler.Kind, delay time.Duration, fn func()) bool
	Every(kind scheduler.Kind, interval time.Duration, fn func())
	Cancel(kind scheduler.Kind) bool
	Pending(kind scheduler.Kind) bool
}

// FeedConfig 行情流参数，零值取默认
type FeedConfig struct {
	WSURL            string
	DepthStream      string
	RefreshInterval  time.Duration
	HandshakeTimeout time.Duration
}

// FeedDeps are the collaborators of a Feed. Mirror and OnUpdate may be nil.
type FeedDeps struct {
	Cache  *market.Cache
	REST   *RESTClient
	Timers Timers
	Mirror port.MarketMirror // optional
	// OnUpdate runs after every applied stream message.
	OnUpdate func()
}

// Feed keeps the market cache current from REST snapshots and the combined stream.
type Feed struct {
	cfg      FeedConfig
	deps     FeedDeps
	symbols  []string
	dialer   *websocket.Dialer
	now      func() time.Time
	primed   chan struct{}
	primeOne sync.Once

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	conn       *websocket.Conn
	connSeq    uint64
	backoff    Backoff
	lastErrLog time.Time
	stopped    bool
}

// NewFeed fills config defaults and subscribes to every cached instrument.
func NewFeed(cfg FeedConfig, deps FeedDeps) *Feed {
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = defaultWSURL
	}
	if strings.TrimSpace(cfg.DepthStream) == "" {
		cfg.DepthStream = defaultDepthStream
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 60 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	instruments := deps.Cache.Instruments()
	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, strings.ToUpper(inst.Symbol))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:     cfg,
		deps:    deps,
		symbols: symbols,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		now:     time.Now,
		primed:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (f *Feed) Name() string { return "binance" }

// Start primes the cache, arms the periodic refresh and opens the stream.
// The feed stops when ctx is done or Stop is called.
func (f *Feed) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			f.Stop()
		case <-f.ctx.Done():
		}
	}()
	go f.PrimeAndRefresh()
	f.ConnectStream()
}

// PrimeAndRefresh runs one REST fetch, then repeats it every refresh interval.
func (f *Feed) PrimeAndRefresh() {
	f.refresh()
	f.primeOne.Do(func() { close(f.primed) })

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.deps.Timers.Every(scheduler.KindRefresh, f.cfg.RefreshInterval, f.refresh)
	}
}

// WaitForInitialTicker 阻塞到首次 REST 拉取结束（成功或失败）或 ctx 结束
func (f *Feed) WaitForInitialTicker(ctx context.Context) error {
	select {
	case <-f.primed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) refresh() {
	stats, latency, err := f.deps.REST.Fetch24hTickers(f.ctx, f.symbols)
	if err != nil {
		if f.ctx.Err() == nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ticker refresh failed, keeping cached values")
		}
		return
	}

	f.deps.Cache.SetAPILatency(latency.Round(time.Millisecond).Milliseconds())
	now := f.now()
	applied := 0
	for _, s := range stats {
		t := market.Ticker{
			LastPrice:     s.LastPrice,
			ChangePercent: s.ChangePercent,
			QuoteVolume:   s.QuoteVolume,
			ObservedAt:    now,
			Source:        market.SourceREST,
		}
		if f.deps.Cache.ApplyTicker(s.Symbol, t) {
			applied++
			f.mirror(s.Symbol, t)
		}
	}
	f.deps.Cache.RecomputeAverageSpread()

	log.Debug().Str("feed", f.Name()).Int("tickers", applied).Int64("latency_ms", latency.Milliseconds()).Msg("ticker refresh done")
}

func buildCombinedURL(base string, symbols []string, depthStream string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_url empty")
	}
	if len(symbols) == 0 {
		return "", errors.New("symbols empty")
	}

	streams := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@ticker", s))
	}
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@%s", s, depthStream))
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// ConnectStream cancels any pending reconnect and any open socket, then dials
// a fresh combined stream in the background.
func (f *Feed) ConnectStream() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.deps.Timers.Cancel(scheduler.KindReconnect)
	old := f.conn
	f.conn = nil
	f.connSeq++
	seq := f.connSeq
	f.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	go f.runStream(seq)
}

func (f *Feed) runStream(seq uint64) {
	wsURL, err := buildCombinedURL(f.cfg.WSURL, f.symbols, f.cfg.DepthStream)
	if err != nil {
		log.Error().Str("feed", f.Name()).Err(err).Msg("invalid stream url")
		return
	}

	log.Info().Str("feed", f.Name()).Str("url", wsURL).Msg("ws connecting")
	dctx, cancel := context.WithTimeout(f.ctx, f.cfg.HandshakeTimeout)
	conn, _, err := f.dialer.DialContext(dctx, wsURL, nil)
	cancel()
	if err != nil {
		f.streamError(err)
		f.streamClosed(seq)
		return
	}

	f.mu.Lock()
	if f.stopped || f.connSeq != seq {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.conn = conn
	f.backoff.Reset()
	f.mu.Unlock()
	log.Info().Str("feed", f.Name()).Msg("ws connected")

	err = readLoop(f.ctx, conn, f.handleMessage)
	_ = conn.Close()
	if f.ctx.Err() != nil {
		return
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		f.streamError(err)
	}
	f.streamClosed(seq)
}

// streamError logs at most once per window.
func (f *Feed) streamError(err error) {
	f.mu.Lock()
	now := f.now()
	if now.Sub(f.lastErrLog) < errorLogWindow {
		f.mu.Unlock()
		return
	}
	f.lastErrLog = now
	f.mu.Unlock()
	log.Error().Str("feed", f.Name()).Err(err).Msg("ws stream error")
}

func (f *Feed) streamClosed(seq uint64) {
	f.mu.Lock()
	if f.stopped || f.connSeq != seq {
		// a newer ConnectStream owns the connection
		f.mu.Unlock()
		return
	}
	f.conn = nil
	if f.deps.Timers.Pending(scheduler.KindReconnect) {
		f.mu.Unlock()
		return
	}
	delay := f.backoff.Next()
	attempts := f.backoff.Attempts()
	f.deps.Timers.ScheduleIfIdle(scheduler.KindReconnect, delay, f.ConnectStream)
	f.mu.Unlock()

	log.Warn().Str("feed", f.Name()).Dur("delay", delay).Int("attempts", attempts).Msg("ws disconnected, reconnect scheduled")
}

func (f *Feed) handleMessage(b []byte) {
	ev, err := ParseStreamMessage(b, f.now())
	if err != nil {
		log.Warn().Str("feed", f.Name()).Err(err).Msg("drop stream payload")
		return
	}

	applied := false
	switch e := ev.(type) {
	case TickerUpdate:
		if applied = f.deps.Cache.ApplyTicker(e.Symbol, e.Ticker); applied {
			f.streamLatency(e.EventTime)
			f.mirror(e.Symbol, e.Ticker)
		}
	case DepthUpdate:
		if applied = f.deps.Cache.ApplyDepth(e.Symbol, e.Depth); applied {
			f.streamLatency(e.EventTime)
		}
	}

	if applied && f.deps.OnUpdate != nil {
		f.deps.OnUpdate()
	}
}

func (f *Feed) streamLatency(eventTime int64) {
	if eventTime <= 0 {
		return
	}
	f.deps.Cache.SetStreamLatency(max(0, f.now().UnixMilli()-eventTime))
}

func (f *Feed) mirror(symbol string, t market.Ticker) {
	if f.deps.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(f.ctx, 2*time.Second)
	defer cancel()
	if err := f.deps.Mirror.MirrorTicker(ctx, symbol, t); err != nil {
		log.Debug().Str("feed", f.Name()).Str("symbol", symbol).Err(err).Msg("mirror ticker failed")
	}
}

// Connected reports whether a stream socket is open.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// Stop cancels timers and closes the stream. Safe to call more than once.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	f.deps.Timers.Cancel(scheduler.KindRefresh)
	f.deps.Timers.Cancel(scheduler.KindReconnect)
	f.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	log.Info().Str("feed", f.Name()).Msg("feed stopped")
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}
