// Package websocket carries record packets between the authority and its
// observers. The Hub is the authority end and accepts one connection per
// player; the Client is the observer end and reconnects on its own.
// Packets travel as binary frames in the streaming framing.
package websocket

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/internal/tracker"
	"github.com/Rijam/BossChecklist/pkg/netio"
	"github.com/Rijam/BossChecklist/pkg/streaming"
)

const (
	sendChSize   = 1024
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// ServerSender is the sender name on events an observer receives.
const ServerSender = "server"

var (
	// ErrNotConnected is returned when sending to a player without a connection.
	ErrNotConnected = errors.New("websocket: player not connected")
	// ErrSendBufferFull is returned when a peer is not draining its packets.
	ErrSendBufferFull = errors.New("websocket: send buffer full")
)

var _ tracker.Sender = (*Hub)(nil)

// peer is one accepted connection with its own write goroutine.
type peer struct {
	player string
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *peer) close(code int) {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
		_ = p.conn.Close()
	})
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// OnConnect is called after a player's connection is accepted.
func OnConnect(fn func(player string)) HubOption {
	return func(h *Hub) {
		h.onConnect = fn
	}
}

// OnDisconnect is called after a player's connection is gone.
func OnDisconnect(fn func(player string)) HubOption {
	return func(h *Hub) {
		h.onDisconnect = fn
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// Hub accepts observer connections and implements tracker.Sender.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	secret       string
	dispatcher   *dispatcher.Dispatcher
	upgrader     ws.Upgrader
	onConnect    func(player string)
	onDisconnect func(player string)
	logger       *slog.Logger
}

// NewHub creates a hub that hands inbound packets to d. An empty secret
// accepts every connection.
func NewHub(secret string, d *dispatcher.Dispatcher, opts ...HubOption) *Hub {
	h := &Hub{
		peers:      make(map[string]*peer),
		secret:     secret,
		dispatcher: d,
		upgrader:   ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades a request of the form ?player=<id>&secret=<secret>
// and serves the connection until it closes. A second connection for the
// same player replaces the first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(q.Get("secret")), []byte(h.secret)) != 1 {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}
	player := q.Get("player")
	if player == "" {
		http.Error(w, "missing player", http.StatusBadRequest)
		return
	}
	if err := netio.CheckString(player); err != nil {
		http.Error(w, "invalid player", http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "player", player, "error", err)
		return
	}

	p := &peer{
		player: player,
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	old := h.peers[player]
	h.peers[player] = p
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("Replacing connection", "player", player)
		old.close(ws.ClosePolicyViolation)
	}

	h.logger.Info("Player connected", "player", player, "remote", r.RemoteAddr)
	if h.onConnect != nil {
		h.onConnect(player)
	}

	go h.writeLoop(p)
	h.readLoop(p)
}

// writeLoop drains a peer's sendCh. It returns on error or shutdown.
func (h *Hub) writeLoop(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.sendCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Warn("WebSocket SetWriteDeadline error", "player", p.player, "error", err)
				p.close(ws.CloseInternalServerErr)
				return
			}
			if err := p.conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				h.logger.Warn("WebSocket write error", "player", p.player, "error", err)
				p.close(ws.CloseInternalServerErr)
				return
			}
		}
	}
}

// readLoop decodes inbound frames and dispatches them until the
// connection fails.
func (h *Hub) readLoop(p *peer) {
	defer h.remove(p)

	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					h.logger.Warn("WebSocket read error", "player", p.player, "error", err)
				}
			}
			return
		}
		if mt != ws.BinaryMessage {
			h.logger.Debug("Ignoring non-binary frame", "player", p.player)
			continue
		}

		pkt, err := streaming.DecodePacket(data)
		if err != nil {
			h.logger.Warn("Dropping undecodable packet", "player", p.player, "error", err)
			continue
		}
		if err := h.dispatcher.Dispatch(dispatcher.Event{Sender: p.player, Packet: pkt}); err != nil {
			h.logger.Warn("Packet not handled", "player", p.player, "type", pkt.Type.String(), "error", err)
		}
	}
}

func (h *Hub) remove(p *peer) {
	p.close(ws.CloseNormalClosure)

	h.mu.Lock()
	current := h.peers[p.player] == p
	if current {
		delete(h.peers, p.player)
	}
	h.mu.Unlock()

	if current {
		h.logger.Info("Player disconnected", "player", p.player)
		if h.onDisconnect != nil {
			h.onDisconnect(p.player)
		}
	}
}

func (p *peer) send(data []byte) error {
	select {
	case <-p.done:
		return fmt.Errorf("%w: %s", ErrNotConnected, p.player)
	default:
	}
	select {
	case p.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, p.player)
	}
}

// SendTo queues data for one player.
func (h *Hub) SendTo(player string, data []byte) error {
	h.mu.RLock()
	p, ok := h.peers[player]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, player)
	}
	return p.send(data)
}

// Broadcast queues data for every connected player.
func (h *Hub) Broadcast(data []byte) error {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	var errs []error
	for _, p := range peers {
		if err := p.send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Players returns the connected players, sorted.
func (h *Hub) Players() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Disconnect closes a player's connection. It reports whether the player
// was connected.
func (h *Hub) Disconnect(player string) bool {
	h.mu.RLock()
	p, ok := h.peers[player]
	h.mu.RUnlock()
	if ok {
		p.close(ws.CloseGoingAway)
	}
	return ok
}

// Close disconnects every player and refuses new connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close(ws.CloseGoingAway)
	}
	return nil
}
