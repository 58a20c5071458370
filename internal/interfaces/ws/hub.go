package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/infrastructure/scheduler"
	"mdrelay/internal/infrastructure/wsproto"
)

// SnapshotSource supplies the current market view.
type SnapshotSource interface {
	Snapshot() market.Snapshot
}

// Timers is the subset of the scheduler the hub needs.
type Timers interface {
	Every(kind scheduler.Kind, interval time.Duration, fn func())
	Cancel(kind scheduler.Kind) bool
}

type Config struct {
	WhaleInterval time.Duration
	SendBuffer    int
	WriteTimeout  time.Duration
}

// Hub owns downstream connections and the market / whale-alerts topic sets.
type Hub struct {
	cfg       Config
	snapshots SnapshotSource
	alerts    port.AlertSource
	timers    Timers
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	conns  map[string]*conn
	market map[string]*conn
	whale  map[string]*conn
	closed bool
}

func NewHub(cfg Config, snapshots SnapshotSource, alerts port.AlertSource, timers Timers) *Hub {
	if cfg.WhaleInterval <= 0 {
		cfg.WhaleInterval = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:       cfg,
		snapshots: snapshots,
		alerts:    alerts,
		timers:    timers,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[string]*conn),
		market:    make(map[string]*conn),
		whale:     make(map[string]*conn),
	}
}

// ServeHTTP performs the upgrade handshake and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := wsproto.ValidateUpgrade(r.Header)
	if err != nil {
		log.Debug().Str("component", "hub").Str("remote", r.RemoteAddr).Err(err).Msg("reject upgrade")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade unsupported", http.StatusInternalServerError)
		return
	}
	nc, rw, err := hj.Hijack()
	if err != nil {
		log.Error().Str("component", "hub").Err(err).Msg("hijack failed")
		return
	}
	if err := wsproto.WriteSwitchingProtocols(nc, wsproto.AcceptKey(key)); err != nil {
		_ = nc.Close()
		return
	}

	c := newConn(uuid.NewString(), h, nc, rw.Reader)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = nc.Close()
		return
	}
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	log.Info().Str("component", "hub").Str("conn", c.id).Str("remote", r.RemoteAddr).Int("connections", total).Msg("client connected")
	c.start()
}

func (h *Hub) subscribeMarket(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	h.market[c.id] = c
	h.mu.Unlock()

	frame, ok := h.marketFrame()
	if ok {
		c.queue(frame)
	}
}

func (h *Hub) subscribeWhale(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	if len(h.whale) == 0 {
		h.timers.Every(scheduler.KindWhale, h.cfg.WhaleInterval, h.broadcastWhale)
		log.Debug().Str("component", "hub").Dur("interval", h.cfg.WhaleInterval).Msg("whale timer started")
	}
	h.whale[c.id] = c
	h.mu.Unlock()

	frame, ok := h.whaleFrame()
	if ok {
		c.queue(frame)
	}
}

// BroadcastMarket pushes one snapshot to every market subscriber.
func (h *Hub) BroadcastMarket() {
	targets := h.targets(h.market)
	if len(targets) == 0 {
		return
	}
	frame, ok := h.marketFrame()
	if !ok {
		return
	}
	for _, c := range targets {
		c.queue(frame)
	}
}

func (h *Hub) broadcastWhale() {
	targets := h.targets(h.whale)
	if len(targets) == 0 {
		return
	}
	frame, ok := h.whaleFrame()
	if !ok {
		return
	}
	for _, c := range targets {
		c.queue(frame)
	}
}

func (h *Hub) targets(set map[string]*conn) []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Hub) marketFrame() ([]byte, bool) {
	payload, err := encodeMarket(h.snapshots.Snapshot())
	if err != nil {
		log.Error().Str("component", "hub").Err(err).Msg("encode market snapshot failed")
		return nil, false
	}
	return wsproto.EncodeText(payload), true
}

func (h *Hub) whaleFrame() ([]byte, bool) {
	payload, err := encodeWhale(h.alerts.NextAlert(h.ctx))
	if err != nil {
		log.Error().Str("component", "hub").Err(err).Msg("encode whale alert failed")
		return nil, false
	}
	return wsproto.EncodeText(payload), true
}

// cleanup removes c from every set and closes it. Safe to call repeatedly.
func (h *Hub) cleanup(c *conn) {
	if !c.close() {
		return
	}

	h.mu.Lock()
	delete(h.conns, c.id)
	delete(h.market, c.id)
	_, wasWhale := h.whale[c.id]
	delete(h.whale, c.id)
	if wasWhale && len(h.whale) == 0 {
		h.timers.Cancel(scheduler.KindWhale)
		log.Debug().Str("component", "hub").Msg("whale timer stopped")
	}
	total := len(h.conns)
	h.mu.Unlock()

	log.Info().Str("component", "hub").Str("conn", c.id).Int("connections", total).Msg("client disconnected")
}

// SubscriberCount returns the size of a topic set.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch topic {
	case TopicMarket:
		return len(h.market)
	case TopicWhale:
		return len(h.whale)
	}
	return 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close tears down every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.cleanup(c)
	}
	h.cancel()
}
