package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapidle"
)

const writeWait = 10 * time.Second

// wsMessage is the JSON document sent to WebSocket clients.
type wsMessage struct {
	Category string          `json:"category"`
	Action   string          `json:"action"`
	Payload  *messagePayload `json:"payload,omitempty"`
}

type messagePayload struct {
	SeqNum    uint32    `json:"seq_num"`
	UID       uint32    `json:"uid,omitempty"`
	Num       uint32    `json:"num"`
	Subject   string    `json:"subject"`
	From      []string  `json:"from,omitempty"`
	Date      time.Time `json:"date"`
	Size      int64     `json:"size"`
	MessageID string    `json:"message_id,omitempty"`
}

func newMessagePayload(msg *imap.Message) *messagePayload {
	p := &messagePayload{
		SeqNum:    msg.SeqNum,
		UID:       uint32(msg.UID),
		Num:       msg.Num(),
		Subject:   msg.Subject,
		Date:      msg.Date,
		Size:      msg.Size,
		MessageID: msg.MessageID,
	}
	for _, addr := range msg.From {
		p.From = append(p.From, addr.Address)
	}
	return p
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// Broadcaster forwards message events to WebSocket clients.
type Broadcaster struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log,
		clients: make(map[*wsClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach subscribes the broadcaster to message events published on bus.
func (b *Broadcaster) Attach(bus *imapidle.EventBus) (detach func()) {
	return bus.Subscribe(imapidle.CategoryMessage, func(ev imapidle.Event) {
		msg, ok := ev.Payload.(*imap.Message)
		if !ok {
			return
		}
		b.broadcast(wsMessage{
			Category: ev.Category,
			Action:   ev.Action,
			Payload:  newMessagePayload(msg),
		})
	})
}

// ServeHTTP upgrades the request to a WebSocket connection and registers
// the client.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := b.addClient(conn)
	// Clients aren't expected to send anything: read until the connection
	// is closed, which also processes control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.removeClient(c)
}

func (b *Broadcaster) addClient(conn *websocket.Conn) *wsClient {
	c := newWSClient(conn)
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
	b.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")
	return c
}

func (b *Broadcaster) removeClient(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to marshal websocket message")
		return
	}

	var slow []*wsClient
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.log.Warn().Msg("websocket client too slow, disconnecting")
		b.removeClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects all clients.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}
