package websocket

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/pkg/streaming"
)

// Config holds the observer end's connection settings.
type Config struct {
	URL    string
	Secret string
	Player string
}

// Client connects an observer to the hub with a single write goroutine
// per connection.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	stop   chan struct{} // closed when conn is replaced
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	closed bool

	cfg        Config
	dispatcher *dispatcher.Dispatcher

	// Rebuilt and sent after every reconnect.
	hello func() streaming.Packet

	backoff time.Duration
	logger  *slog.Logger
}

// NewClient creates a client that hands inbound packets to d.
func NewClient(cfg Config, d *dispatcher.Dispatcher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		sendCh:     make(chan []byte, sendChSize),
		done:       make(chan struct{}),
		cfg:        cfg,
		dispatcher: d,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Dial connects to the hub and starts the read and write loops.
func (c *Client) Dial() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn, stop)
	return nil
}

// dialOnce performs a single dial with the player and secret query params.
func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("player", c.cfg.Player)
	q.Set("secret", c.cfg.Secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh into conn. It returns on error, on shutdown or
// when conn is replaced.
func (c *Client) writeLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop decodes packets from the hub and dispatches them.
func (c *Client) readLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-stop:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}
		if mt != ws.BinaryMessage {
			continue
		}

		pkt, err := streaming.DecodePacket(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable packet", "error", err)
			continue
		}
		if err := c.dispatcher.Dispatch(dispatcher.Event{Sender: ServerSender, Packet: pkt}); err != nil {
			c.logger.Warn("Packet not handled", "type", pkt.Type.String(), "error", err)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. Only
// the first caller for a failed conn does the work. On success it replays
// the hello packet and restarts the read/write loops.
func (c *Client) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		hello := c.hello
		c.mu.Unlock()

		if hello != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("Failed to set deadline for hello replay", "error", err)
				_ = conn.Close()
				continue
			}
			if err := conn.WriteMessage(ws.BinaryMessage, hello().Encode()); err != nil {
				c.logger.Warn("Failed to replay hello after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.stop = make(chan struct{})
		stop := c.stop
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn, stop)
		go c.readLoop(conn, stop)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// Send queues p for the hub. Non-blocking; drops if the channel is full.
func (c *Client) Send(p streaming.Packet) {
	select {
	case c.sendCh <- p.Encode():
	default:
		c.logger.Warn("WebSocket send channel full, dropping packet", "type", p.Type.String())
	}
}

// SetHello sends the packet built by fn now, and builds and sends a fresh
// one after every reconnect. Observers pass their Upload method so the
// authority always receives their current records.
func (c *Client) SetHello(fn func() streaming.Packet) {
	c.mu.Lock()
	c.hello = fn
	c.mu.Unlock()

	c.Send(fn())
}

// Close sends a close frame and shuts down all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
