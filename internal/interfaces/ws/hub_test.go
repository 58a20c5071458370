package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	nhooyr "nhooyr.io/websocket"

	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
	"mdrelay/internal/infrastructure/scheduler"
	"mdrelay/internal/infrastructure/wsproto"
)

type countingTimers struct {
	mu      sync.Mutex
	starts  int
	cancels int
	fn      func()
}

func (c *countingTimers) Every(kind scheduler.Kind, interval time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == scheduler.KindWhale {
		c.starts++
		c.fn = fn
	}
}

func (c *countingTimers) Cancel(kind scheduler.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind != scheduler.KindWhale || c.fn == nil {
		return false
	}
	c.cancels++
	c.fn = nil
	return true
}

func (c *countingTimers) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.cancels
}

func (c *countingTimers) fire() {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type stubSnapshots struct {
	calls atomic.Int32
}

func (s *stubSnapshots) Snapshot() market.Snapshot {
	s.calls.Add(1)
	return market.Snapshot{
		Timestamp:        1700000000000,
		DominantExchange: "binance-btcusdt",
		Prices:           map[string]float64{"binance-btcusdt": 43000},
		Volumes:          map[string]float64{"binance-btcusdt": 1e6},
		Depth:            []market.DepthView{{Exchange: "Binance BTC/USDT", Bids: []market.Level{{Price: 1, Size: 2}}, Asks: []market.Level{}}},
		Latency:          market.Latency{APILatency: 12, WSLatency: 3, AverageSpread: 0.5},
	}
}

type stubAlerts struct {
	n atomic.Int32
}

func (s *stubAlerts) NextAlert(ctx context.Context) model.WhaleAlert {
	n := s.n.Add(1)
	return model.WhaleAlert{ID: "alert-test", Exchange: "Binance", Symbol: "BTC", Side: model.SideBuy, Amount: float64(n), ValueUSD: 10, Hash: "0x1...2", Timestamp: 1}
}

type fixture struct {
	hub       *Hub
	server    *httptest.Server
	timers    *countingTimers
	snapshots *stubSnapshots
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{timers: &countingTimers{}, snapshots: &stubSnapshots{}}
	f.hub = NewHub(Config{WhaleInterval: time.Hour}, f.snapshots, &stubAlerts{}, f.timers)
	f.server = httptest.NewServer(f.hub)
	t.Cleanup(func() {
		f.hub.Close()
		f.server.Close()
	})
	return f
}

func (f *fixture) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	waitUntil(t, "connection registered", func() bool { return f.hub.ConnectionCount() > 0 })
	return conn
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("push is not json: %v (%s)", err, b)
	}
	return out
}

func TestMarketSubscribeGetsSnapshot(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"market"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readJSON(t, conn)
	if msg["topic"] != "market" || msg["dominantExchange"] != "binance-btcusdt" {
		t.Fatalf("unexpected push: %v", msg)
	}
	latency, ok := msg["latency"].(map[string]any)
	if !ok || latency["apiLatency"] != float64(12) || latency["averageSpread"] != 0.5 {
		t.Errorf("unexpected latency block: %v", msg["latency"])
	}
	depth, ok := msg["depth"].([]any)
	if !ok || len(depth) != 1 {
		t.Errorf("unexpected depth: %v", msg["depth"])
	}
	if f.hub.SubscriberCount(TopicMarket) != 1 {
		t.Errorf("expected one market subscriber")
	}
}

func TestMalformedPayloadLeavesSetsUnchanged(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	for _, p := range []string{`not json`, `{"topic":"unknown"}`, `["market"]`, `{}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"market"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// the market push proves the bad frames were processed first and the connection survived
	if msg := readJSON(t, conn); msg["topic"] != "market" {
		t.Fatalf("unexpected push: %v", msg)
	}
	if f.hub.SubscriberCount(TopicWhale) != 0 {
		t.Errorf("whale set changed")
	}
	if f.hub.SubscriberCount(TopicMarket) != 1 {
		t.Errorf("expected only the valid subscribe to count")
	}
}

func TestWhaleTimerLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t)

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"topic":"whale-alerts"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readJSON(t, a)
	if msg["topic"] != "whale-alerts" {
		t.Fatalf("unexpected push: %v", msg)
	}
	if alerts, ok := msg["alerts"].([]any); !ok || len(alerts) != 1 {
		t.Fatalf("expected one alert, got %v", msg["alerts"])
	}

	b, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer b.Close()
	if err := b.WriteMessage(websocket.TextMessage, []byte(`{"topic":"whale-alerts"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readJSON(t, b)

	if starts, cancels := f.timers.counts(); starts != 1 || cancels != 0 {
		t.Fatalf("expected one timer start, got starts=%d cancels=%d", starts, cancels)
	}

	f.timers.fire()
	if readJSON(t, a)["topic"] != "whale-alerts" || readJSON(t, b)["topic"] != "whale-alerts" {
		t.Fatalf("expected periodic alert on both subscribers")
	}

	_ = a.Close()
	waitUntil(t, "first whale gone", func() bool { return f.hub.SubscriberCount(TopicWhale) == 1 })
	if _, cancels := f.timers.counts(); cancels != 0 {
		t.Fatalf("timer cancelled while a subscriber remains")
	}

	_ = b.Close()
	waitUntil(t, "whale set empty", func() bool { return f.hub.SubscriberCount(TopicWhale) == 0 })
	if starts, cancels := f.timers.counts(); starts != 1 || cancels != 1 {
		t.Errorf("expected exactly one start and one cancel, got %d/%d", starts, cancels)
	}
	waitUntil(t, "registry empty", func() bool { return f.hub.ConnectionCount() == 0 })
}

func TestBroadcastMarketUsesOneSnapshot(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t)
	b, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer b.Close()

	for _, c := range []*websocket.Conn{a, b} {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{"topic":"market"}`)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		readJSON(t, c)
	}
	waitUntil(t, "two market subscribers", func() bool { return f.hub.SubscriberCount(TopicMarket) == 2 })

	before := f.snapshots.calls.Load()
	f.hub.BroadcastMarket()
	if got := f.snapshots.calls.Load() - before; got != 1 {
		t.Errorf("expected one snapshot per broadcast, got %d", got)
	}
	if readJSON(t, a)["topic"] != "market" || readJSON(t, b)["topic"] != "market" {
		t.Errorf("expected broadcast on both subscribers")
	}
}

func TestBroadcastMarketWithoutSubscribersIsNoop(t *testing.T) {
	f := newFixture(t)
	f.hub.BroadcastMarket()
	if f.snapshots.calls.Load() != 0 {
		t.Errorf("snapshot computed without subscribers")
	}
}

func TestPingGetsPong(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	got := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		got <- struct{}{}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteControl(websocket.PingMessage, []byte("hi"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatalf("no pong received")
	}
}

func TestCloseFrameTearsDown(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"market"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readJSON(t, conn)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("close write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if _, ok := err.(*websocket.CloseError); !ok {
		t.Errorf("expected close frame from server, got %v", err)
	}
	waitUntil(t, "connection removed", func() bool {
		return f.hub.ConnectionCount() == 0 && f.hub.SubscriberCount(TopicMarket) == 0
	})
}

func TestRejectsPlainRequest(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if f.hub.ConnectionCount() != 0 {
		t.Errorf("rejected request registered a connection")
	}
}

func TestNhooyrClientInterop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, _, err := nhooyr.Dial(ctx, f.url(), nil)
	if err != nil {
		t.Fatalf("nhooyr dial failed: %v", err)
	}
	defer c.Close(nhooyr.StatusNormalClosure, "")

	if err := c.Write(ctx, nhooyr.MessageText, []byte(`{"topic":"whale-alerts"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	typ, b, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if typ != nhooyr.MessageText || !strings.Contains(string(b), `"topic":"whale-alerts"`) {
		t.Errorf("unexpected push %v %s", typ, b)
	}
}

func TestRawClientSplitFrame(t *testing.T) {
	f := newFixture(t)
	nc, err := net.Dial("tcp", strings.TrimPrefix(f.server.URL, "http://"))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer nc.Close()

	key := "dGhlIHNhbXBsZSBub25jZQ=="
	req := "GET / HTTP/1.1\r\nHost: relay\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\nSec-WebSocket-Version: 13\r\n\r\n"
	if _, err := nc.Write([]byte(req)); err != nil {
		t.Fatalf("handshake write failed: %v", err)
	}

	_ = nc.SetReadDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read handshake failed: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("unexpected accept %q", got)
	}

	payload := []byte(`{"topic":"market"}`)
	mask := [4]byte{0xa, 0xb, 0xc, 0xd}
	frame := []byte{0x81, 0x80 | byte(len(payload))}
	frame = append(frame, mask[:]...)
	for i, b := range payload {
		frame = append(frame, b^mask[i%4])
	}
	if _, err := nc.Write(frame[:5]); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := nc.Write(frame[5:]); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := br.Read(chunk)
		if err != nil {
			t.Fatalf("read push failed: %v", err)
		}
		buf = append(buf, chunk[:n]...)
		frames, _, derr := wsproto.DecodeFrames(buf)
		if derr != nil {
			t.Fatalf("decode failed: %v", derr)
		}
		if len(frames) > 0 {
			if frames[0].Opcode != wsproto.OpText || !strings.Contains(frames[0].Text(), `"topic":"market"`) {
				t.Fatalf("unexpected push %+v", frames[0])
			}
			return
		}
	}
}

func TestCleanupIdempotent(t *testing.T) {
	f := newFixture(t)
	f.dial(t)

	f.hub.mu.Lock()
	var c *conn
	for _, v := range f.hub.conns {
		c = v
	}
	f.hub.mu.Unlock()

	f.hub.cleanup(c)
	f.hub.cleanup(c)
	if f.hub.ConnectionCount() != 0 {
		t.Errorf("expected registry empty")
	}
	if _, cancels := f.timers.counts(); cancels != 0 {
		t.Errorf("non-whale cleanup cancelled the whale timer")
	}
}
