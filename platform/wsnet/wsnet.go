// Package wsnet implements the platform capability over WebSocket
// transports using gorilla/websocket.
package wsnet

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightmesh/enginebridge/platform"
)

// Platform dials WebSocket connections. The zero value is not usable; use New.
type Platform struct {
	dialer *websocket.Dialer
	start  time.Time
}

// New returns a Platform using the default dialer.
func New() *Platform {
	return &Platform{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		start: time.Now(),
	}
}

// Connect dials address, which is either a ws:// / wss:// URL or a multiaddr
// of the form /ip4/<ip>/tcp/<port>/ws (ip6, dns, dns4, dns6 and wss are also
// accepted).
func (p *Platform) Connect(address string) (platform.Connection, error) {
	url, err := addrToURL(address)
	if err != nil {
		return nil, err
	}

	ws, _, err := p.dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &conn{
		ws:   ws,
		done: make(chan struct{}),
		out:  make(chan platform.Event),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.pump()
	go c.readPump()
	return c, nil
}

// Now returns a monotonic reading relative to platform creation.
func (p *Platform) Now() time.Duration {
	return time.Since(p.start)
}

// FillRandom fills b from crypto/rand. crypto/rand.Read never fails on
// supported platforms.
func (p *Platform) FillRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("wsnet: crypto/rand failed: %v", err))
	}
}

func addrToURL(address string) (string, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address, nil
	}
	if !strings.HasPrefix(address, "/") {
		return "", fmt.Errorf("unsupported address %q", address)
	}

	// /ip4/1.2.3.4/tcp/30333/ws and friends
	parts := strings.Split(address[1:], "/")
	if len(parts) != 5 || parts[2] != "tcp" {
		return "", fmt.Errorf("unsupported multiaddr %q", address)
	}
	host := parts[1]
	switch parts[0] {
	case "ip4", "dns", "dns4", "dns6":
	case "ip6":
		host = "[" + host + "]"
	default:
		return "", fmt.Errorf("unsupported multiaddr protocol %q", parts[0])
	}
	switch parts[4] {
	case "ws":
		return "ws://" + host + ":" + parts[3], nil
	case "wss":
		return "wss://" + host + ":" + parts[3], nil
	default:
		return "", fmt.Errorf("unsupported multiaddr transport %q", parts[4])
	}
}

// initialWindow is the send credit granted on open. Credit spent by Send is
// re-granted once the write has been handed to the kernel, which keeps the
// engine's in-flight buffer bounded.
const initialWindow = 1 << 20

// conn is a single-stream WebSocket connection. Events flow through an
// unbounded FIFO: pushing never blocks, so a command (Send's credit re-grant
// in particular) can never wedge a caller that is also the event consumer.
// The pump goroutine is the only closer of the outward channel.
type conn struct {
	ws       *websocket.Conn
	done     chan struct{}
	doneOnce sync.Once
	writeMu  sync.Mutex

	mu     sync.Mutex
	cond   *sync.Cond
	items  []platform.Event
	closed bool
	out    chan platform.Event
}

func (c *conn) Events() <-chan platform.Event { return c.out }

// push queues ev for delivery. It is a no-op after the queue closed.
func (c *conn) push(ev platform.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.items = append(c.items, ev)
	c.cond.Signal()
}

// closeQueue stops accepting events; the pump delivers what was already
// queued, then closes the outward channel.
func (c *conn) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cond.Signal()
}

func (c *conn) pump() {
	for {
		c.mu.Lock()
		for len(c.items) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.items) == 0 {
			c.mu.Unlock()
			close(c.out)
			return
		}
		ev := c.items[0]
		c.items = c.items[1:]
		c.mu.Unlock()

		select {
		case c.out <- ev:
		case <-c.done:
			// Reset: the consumer is gone, drop the remainder.
			close(c.out)
			return
		}
	}
}

func (c *conn) readPump() {
	c.push(platform.Opened{Multistream: false, InitialWritableBytes: initialWindow})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Self-initiated reset: no final event.
			default:
				c.push(platform.ConnectionReset{Message: err.Error()})
			}
			c.closeQueue()
			return
		}
		c.push(platform.Message{Data: data})
	}
}

func (c *conn) Reset(stream *uint32) {
	if stream != nil {
		panic("wsnet: substream reset on a single-stream connection")
	}
	c.doneOnce.Do(func() { close(c.done) })
	c.ws.Close()
}

func (c *conn) Send(data []byte, stream *uint32) {
	if stream != nil {
		panic("wsnet: substream send on a single-stream connection")
	}
	c.writeMu.Lock()
	err := c.ws.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		// The read pump observes the failure too and delivers the
		// ConnectionReset event; nothing to report from here.
		return
	}
	c.push(platform.WritableBytes{NumExtra: uint32(len(data))})
}

func (c *conn) CloseSend(stream *uint32) {
	if stream != nil {
		panic("wsnet: substream close on a single-stream connection")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *conn) OpenOutSubstream() {
	panic("wsnet: substream open on a single-stream connection")
}
