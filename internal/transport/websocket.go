// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	applog "scope/internal/log"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

const writeWait = time.Second

// WebSocketTransport implements the Transport interface for WebSocket
// connections. It is an http.Handler; mount it on the API router.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	closed    bool // Guarded by clientsMu
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// NewWebSocketTransport creates a new WebSocketTransport and starts its
// broadcast loop.
func NewWebSocketTransport(logger zerolog.Logger) *WebSocketTransport {
	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
		logger:    applog.Component(logger, "websocket"),
	}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// ServeHTTP upgrades the connection and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-wst.done:
		http.Error(w, "websocket transport closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.logger.Warn().Err(err).Msg("Upgrade error")
		return
	}

	if !wst.add(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	wst.logger.Info().Str("remote", r.RemoteAddr).Int("clients", wst.Clients()).Msg("Client connected")

	// Clients never send; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.remove(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// add registers conn unless the transport has been closed.
func (wst *WebSocketTransport) add(conn *websocket.Conn) bool {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	if wst.closed {
		return false
	}
	wst.clients[conn] = true
	return true
}

func (wst *WebSocketTransport) remove(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	if ok {
		conn.Close()
		wst.logger.Info().Int("clients", total).Msg("Client disconnected")
	}
}

// handleBroadcasts sends messages to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(data); err != nil {
					wst.logger.Warn().Err(err).Msg("Error sending to client")
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		case <-wst.done:
			return
		}
	}
}

// Send queues data for broadcast. When the queue is full the message is
// dropped.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrTransportClosed
	default:
	}

	select {
	case wst.broadcast <- data:
	default:
		wst.logger.Debug().Msg("Broadcast queue full, dropping message")
	}
	return nil
}

// Close disconnects every client and stops the broadcast loop.
func (wst *WebSocketTransport) Close() error {
	wst.closeOnce.Do(func() {
		wst.logger.Info().Int("clients", wst.Clients()).Msg("Closing WebSocket transport")
		close(wst.done)
		wst.wg.Wait()

		wst.clientsMu.Lock()
		wst.closed = true
		for client := range wst.clients {
			client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()
	})
	return nil
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
var _ http.Handler = (*WebSocketTransport)(nil)
