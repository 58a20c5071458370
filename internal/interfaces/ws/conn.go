package ws

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mdrelay/internal/infrastructure/wsproto"
)

const (
	readChunk  = 4096
	maxPending = 1 << 20 // 单个连接未解码字节上限
)

type readEvent struct {
	data []byte
	err  error
}

// conn is one downstream socket. The reader goroutine feeds raw bytes into
// events; run decodes and dispatches them in arrival order; writeLoop drains send.
type conn struct {
	id      string
	hub     *Hub
	netConn net.Conn
	reader  io.Reader

	events chan readEvent
	send   chan []byte
	done   chan struct{}

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newConn(id string, hub *Hub, nc net.Conn, r io.Reader) *conn {
	return &conn{
		id:           id,
		hub:          hub,
		netConn:      nc,
		reader:       r,
		events:       make(chan readEvent, 16),
		send:         make(chan []byte, hub.cfg.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: hub.cfg.WriteTimeout,
	}
}

func (c *conn) start() {
	go c.readLoop()
	go c.writeLoop()
	go c.run()
}

func (c *conn) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.events <- readEvent{data: data}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.events <- readEvent{err: err}:
			case <-c.done:
			}
			return
		}
	}
}

func (c *conn) run() {
	var pending []byte
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			if ev.err != nil {
				if ev.err != io.EOF {
					log.Debug().Str("component", "hub").Str("conn", c.id).Err(ev.err).Msg("read failed")
				}
				c.hub.cleanup(c)
				return
			}

			pending = append(pending, ev.data...)
			frames, consumed, err := wsproto.DecodeFrames(pending)
			if err != nil {
				log.Warn().Str("component", "hub").Str("conn", c.id).Err(err).Msg("drop undecodable bytes")
				pending = pending[:0]
			} else {
				pending = append(pending[:0], pending[consumed:]...)
			}
			if len(pending) > maxPending {
				log.Warn().Str("component", "hub").Str("conn", c.id).Int("bytes", len(pending)).Msg("drop oversized partial frame")
				pending = pending[:0]
			}

			for _, f := range frames {
				if !c.handleFrame(f) {
					return
				}
			}
		}
	}
}

// handleFrame returns false once the connection has been torn down.
func (c *conn) handleFrame(f wsproto.Frame) bool {
	switch f.Opcode {
	case wsproto.OpPing:
		c.queue(wsproto.EncodeFrame(wsproto.OpPong, nil))
	case wsproto.OpClose:
		_ = c.writeNow(wsproto.EncodeFrame(wsproto.OpClose, nil))
		c.hub.cleanup(c)
		return false
	case wsproto.OpText:
		sub, err := ParseSubscription(f.Payload)
		if err != nil {
			log.Warn().Str("component", "hub").Str("conn", c.id).Err(err).Msg("ignore client payload")
			return true
		}
		switch sub.(type) {
		case MarketSubscribe:
			c.hub.subscribeMarket(c)
		case WhaleSubscribe:
			c.hub.subscribeWhale(c)
		default:
			log.Debug().Str("component", "hub").Str("conn", c.id).Str("payload", f.Text()).Msg("ignore unknown topic")
		}
	}
	return true
}

// queue hands a frame to the writer. Delivery is best effort: a full queue drops the frame.
func (c *conn) queue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().Str("component", "hub").Str("conn", c.id).Msg("send queue full, dropping push")
		return false
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.writeNow(frame); err != nil {
				log.Debug().Str("component", "hub").Str("conn", c.id).Err(err).Msg("write failed")
				c.hub.cleanup(c)
				return
			}
		}
	}
}

func (c *conn) writeNow(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.netConn.Write(frame)
	return err
}

// close releases the socket once.
func (c *conn) close() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		close(c.done)
		_ = c.netConn.Close()
	})
	return first
}
