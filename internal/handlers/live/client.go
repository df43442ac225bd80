package handlers_live

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 16
)

// Types de messages échangés sur le websocket
const (
	MessageTypeHello     = "hello"
	MessageTypeAnalytics = "analytics"
	MessageTypeLikes     = "likes"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeScroll    = "scroll"
	MessageTypeLike      = "like"
)

// Message est envoyé au navigateur
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Inbound est reçu du navigateur, data est décodé selon le type
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ScrollData struct {
	ScrollTop      float64 `json:"scroll_top"`
	DocumentHeight float64 `json:"document_height"`
	ViewportHeight float64 `json:"viewport_height"`
}

type HelloData struct {
	SessionID string `json:"sessionId"`
}

// client relie une page montée à sa connexion
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan Message
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
}

// push n'attend jamais : un client trop lent perd des mises à jour d'état,
// la suivante les remplace
func (c *client) push(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Debug().Str("type", msg.Type).Msg("websocket send buffer full, message dropped")
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump lit jusqu'à la fermeture de la connexion
func (c *client) readPump(handle func(Inbound)) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("invalid websocket message")
			continue
		}
		handle(msg)
	}
}

// writePump envoie les messages et les pings jusqu'à la fermeture de send
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Error().Err(err).Str("type", message.Type).Msg("failed to encode websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
