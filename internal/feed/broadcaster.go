package feed

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/host"
	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	clientSendBuffer = 64
	recentLogLimit   = 50
)

var ErrTooManyClients = errors.New("feed: too many clients")

// Client is one websocket subscriber. Its messages are written by a dedicated pump.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writePump()
	return c
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcaster fans host notifications out to websocket clients. Each client
// gets a snapshot on connect; a client whose send buffer fills is dropped.
type Broadcaster struct {
	status     func() host.Status
	maxClients int
	logger     zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	logs    []string
}

var _ host.Listener = (*Broadcaster)(nil)

// NewBroadcaster builds a broadcaster. status supplies the snapshot sent to new
// clients; maxClients of zero means unlimited.
func NewBroadcaster(status func() host.Status, maxClients int) *Broadcaster {
	if status == nil {
		status = func() host.Status { return host.Status{} }
	}
	return &Broadcaster{
		status:     status,
		maxClients: maxClients,
		logger:     observability.Component("feed"),
		clients:    make(map[*Client]bool),
	}
}

// AddClient registers conn and queues its snapshot before any later broadcast.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*Client, error) {
	st := b.status()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		return nil, ErrTooManyClients
	}
	c := newClient(conn)
	b.clients[c] = true

	data, err := json.Marshal(Message{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Status: st, Logs: append([]string(nil), b.logs...)},
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("feed.Broadcaster snapshot marshal failed")
		return c, nil
	}
	// c.send is fresh and buffered and cannot be closed while b.mu is held.
	c.send <- data
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close drops every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ConnectionStatusChanged(connected bool, deviceName string) {
	b.broadcast(Message{Type: MsgStatus, Payload: StatusPayload{Connected: connected, DeviceName: deviceName}})
}

func (b *Broadcaster) DeviceDiscovered(d discovery.Descriptor) {
	b.broadcast(Message{Type: MsgDevice, Payload: DevicePayload(d)})
}

func (b *Broadcaster) Log(text string) {
	b.mu.Lock()
	b.logs = append(b.logs, text)
	if over := len(b.logs) - recentLogLimit; over > 0 {
		b.logs = append(b.logs[:0], b.logs[over:]...)
	}
	b.mu.Unlock()
	b.broadcast(Message{Type: MsgLog, Payload: LogPayload{Text: text}})
}

func (b *Broadcaster) ControlReturned() {
	b.broadcast(Message{Type: MsgControlReturned})
}

func (b *Broadcaster) PeerEvent(ev event.Event) {
	raw, err := event.Marshal(ev)
	if err != nil {
		b.logger.Warn().Err(err).Str("kind", string(ev.Kind())).Msg("feed.Broadcaster peer event marshal failed")
		return
	}
	b.broadcast(Message{Type: MsgPeerEvent, Payload: PeerEventPayload{Event: raw}})
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("feed.Broadcaster marshal failed")
		return
	}

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.trySend(c, data) {
			b.logger.Warn().Msg("feed.Broadcaster client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// trySend holds the read lock so a concurrent RemoveClient cannot close c.send
// underneath the send.
func (b *Broadcaster) trySend(c *Client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
