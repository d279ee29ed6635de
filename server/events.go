package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/logger"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer; the feed is one-way, so
	// inbound frames are protocol traffic only
	maxMessageSize = 4096

	// Per-client send buffer. A client further behind than this is
	// dropped rather than blocked on.
	clientSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// logEvent frames a log transition for the wire. The embedded Log keeps
// the payload shape identical to /api/logs items.
type logEvent struct {
	Type string `json:"type"`
	*store.Log
}

// Client is one /api/events WebSocket connection. The send channel is
// never closed; closing done tears both pumps down.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan *store.Log
	done      chan struct{}
	id        string
	closeOnce sync.Once
}

// close signals both pumps to exit. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// HandleEvents upgrades /api/events to a WebSocket and streams every log
// creation and finalisation until the peer goes away or the server stops.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Warnw("WebSocket upgrade failed",
			logger.FieldError, err,
		)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan *store.Log, clientSendBuffer),
		done:   make(chan struct{}),
		id:     fmt.Sprintf("c_%d", time.Now().UnixNano()),
	}

	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		conn.Close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Events client connected",
		"client_id", client.id,
		"total_clients", total,
	)

	s.wg.Add(2)
	go client.writePump()
	go client.readPump()
}

// BroadcastLog implements hq.LogBroadcaster. It is called from runner
// goroutines and must never block: clients whose buffer is full are
// dropped from the hub instead.
func (s *Server) BroadcastLog(execLog *store.Log) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- execLog:
		default:
			s.broadcastDrops.Add(1)
			s.removeSlowClient(client)
		}
	}
}

// removeSlowClient evicts a client that cannot keep up with the feed.
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	s.mu.Unlock()

	client.close()
	client.conn.Close()

	s.logger.Warnw("Client send buffer full, dropping client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// unregister removes a client after its read pump observed the close.
func (s *Server) unregister(client *Client) {
	s.mu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
	}
	total := len(s.clients)
	s.mu.Unlock()

	if ok {
		client.close()
		s.logger.Infow("Events client disconnected",
			"client_id", client.id,
			"total_clients", total,
		)
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice the peer closing and to keep the pong deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
		c.server.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error",
					"client_id", c.id,
					logger.FieldError, err,
				)
			}
			return
		}
	}
}

// writePump pushes log events and keepalive pings to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.server.wg.Done()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case execLog := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(logEvent{Type: "log", Log: execLog}); err != nil {
				c.server.logger.Debugw("Event write error",
					"client_id", c.id,
					logger.FieldError, err,
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
