package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MessageRecordingStatus = "recording_status"
	MessageChannelInfo     = "channel_info"
	MessageChannelClosed   = "channel_closed"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StatusMessage is pushed to every client watching a channel.
type StatusMessage struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channel_id"`
	*domain.RecordingStatus
	Channel *domain.ChannelInfo `json:"channel,omitempty"`
}

// StatusHub streams recording status changes of a channel to websocket
// clients.
type StatusHub struct {
	service ports.ChannelService

	clients map[domain.ChannelID]map[*client]struct{}
	mu      sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	unsubscribe func()
	logger      *zap.SugaredLogger
}

type client struct {
	conn *websocket.Conn
	send chan StatusMessage
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func NewStatusHub(service ports.ChannelService, logger *zap.SugaredLogger) *StatusHub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &StatusHub{
		service:      service,
		clients:      make(map[domain.ChannelID]map[*client]struct{}),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
	h.unsubscribe = service.OnStatusChange(func(id domain.ChannelID, status domain.RecordingStatus) {
		h.broadcast(StatusMessage{Type: MessageRecordingStatus, ChannelID: id, RecordingStatus: &status})
	})
	return h
}

// SetPingInterval sets ping interval for WebSocket connections
func (h *StatusHub) SetPingInterval(interval time.Duration) {
	h.pingInterval = interval
}

// ChannelChanged tells watchers that the membership of a channel changed.
func (h *StatusHub) ChannelChanged(info *domain.ChannelInfo) {
	h.broadcast(StatusMessage{Type: MessageChannelInfo, ChannelID: info.ID, Channel: info})
}

// ChannelClosed tells watchers the channel is gone and disconnects them.
func (h *StatusHub) ChannelClosed(id domain.ChannelID) {
	h.broadcast(StatusMessage{Type: MessageChannelClosed, ChannelID: id})

	h.mu.Lock()
	clients := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *StatusHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	channelID := domain.ChannelID(r.URL.Query().Get("channel_id"))
	if channelID == "" {
		http.Error(w, "missing channel_id", http.StatusBadRequest)
		return
	}

	status, _, err := h.service.RecordingStatus(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, domain.ErrChannelNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan StatusMessage, 16), done: make(chan struct{})}
	c.send <- StatusMessage{Type: MessageRecordingStatus, ChannelID: channelID, RecordingStatus: &status}
	h.register(channelID, c)
	h.logger.Infow("status watcher connected", "channel_id", channelID)

	go h.readLoop(c)
	h.writeLoop(c)

	h.unregister(channelID, c)
	conn.Close()
	h.logger.Infow("status watcher disconnected", "channel_id", channelID)
}

// readLoop only keeps the read deadline alive and notices disconnects.
func (h *StatusHub) readLoop(c *client) {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("error reading from watcher", "error", err)
			}
			return
		}
	}
}

func (h *StatusHub) writeLoop(c *client) {
	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Infow("error writing to watcher", "error", err)
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			h.flush(c)
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before the client was closed.
func (h *StatusHub) flush(c *client) {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *StatusHub) register(id domain.ChannelID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[id] == nil {
		h.clients[id] = make(map[*client]struct{})
	}
	h.clients[id][c] = struct{}{}
}

func (h *StatusHub) unregister(id domain.ChannelID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[id]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, id)
		}
	}
}

// broadcast never blocks. A client too slow to drain its queue is
// disconnected.
func (h *StatusHub) broadcast(msg StatusMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[msg.ChannelID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warnw("dropping slow status watcher", "channel_id", msg.ChannelID)
			c.close()
		}
	}
}

// Watchers returns the number of clients watching a channel.
func (h *StatusHub) Watchers(id domain.ChannelID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[id])
}

// Close detaches from the channel service and disconnects every client.
func (h *StatusHub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	all := h.clients
	h.clients = make(map[domain.ChannelID]map[*client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}
