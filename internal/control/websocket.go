package control

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusEventMsg is one line of the live status stream.
type statusEventMsg struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// statusBroadcaster fans out StatusEvents to every connected /ws client.
// CycleEngine knows nothing about it; it is wired in only as Engine.StatusFn.
type statusBroadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan statusEventMsg
}

func newStatusBroadcaster() *statusBroadcaster {
	return &statusBroadcaster{clients: make(map[*websocket.Conn]chan statusEventMsg)}
}

func (b *statusBroadcaster) publish(status, message, errMsg string) {
	evt := statusEventMsg{Status: status, Message: message, Error: errMsg, Timestamp: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *statusBroadcaster) add(conn *websocket.Conn) chan statusEventMsg {
	ch := make(chan statusEventMsg, 16)
	b.mu.Lock()
	b.clients[conn] = ch
	b.mu.Unlock()
	return ch
}

func (b *statusBroadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	if ch, ok := b.clients[conn]; ok {
		close(ch)
		delete(b.clients, conn)
	}
	b.mu.Unlock()
}

// getStatusStream upgrades to a WebSocket and streams every StatusEvent the
// engine appends from this point forward. It never replays history; GET
// /api/status covers the latest snapshot and /api/decisions covers history.
func (s *Server) getStatusStream(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[CONTROL] ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := s.broadcaster.add(conn)
	defer s.broadcaster.remove(conn)

	// Detect client disconnects without blocking the write loop.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.broadcaster.remove(conn)
				return
			}
		}
	}()

	for evt := range ch {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}
