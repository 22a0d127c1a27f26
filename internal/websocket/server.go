package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stratacloud/host-controller/internal/config"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 512
)

// MessageType identifies a frame on the event stream
type MessageType string

const (
	MessageTypeHostEvent MessageType = "host_event"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

// Message is a frame on the event stream
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HostEvent is the payload broadcast when a host record transitions
type HostEvent struct {
	Event          string    `json:"event"`
	UUID           string    `json:"uuid"`
	Hostname       string    `json:"hostname"`
	Administrative string    `json:"administrative"`
	Operational    string    `json:"operational"`
	Availability   string    `json:"availability"`
	InFlight       string    `json:"inflight_action,omitempty"`
	Task           string    `json:"task,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Server broadcasts host transition events to connected observers. It
// implements the coordinator's event publisher; publishing never blocks a
// mutation.
type Server struct {
	config   *config.WebSocketConfig
	logger   logger.Interface
	upgrader websocket.Upgrader

	clients    map[*client]bool
	clientsMux sync.RWMutex

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	once       sync.Once
}

type client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	id     string
}

// New creates the event stream server
func New(cfg *config.WebSocketConfig, log logger.Interface) *Server {
	return &Server{
		config: cfg,
		logger: log.WithField("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return !cfg.CheckOrigin
			},
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
	}
}

// Start runs the hub loop until Stop is called
func (s *Server) Start() {
	go s.run()
}

// Stop closes every client connection and halts the hub
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.shutdown)
	})

	s.clientsMux.RLock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMux.RUnlock()
}

// PublishHostEvent broadcasts a host transition to all observers. Slow
// observers are dropped rather than letting the broadcast queue block.
func (s *Server) PublishHostEvent(event string, host *models.Host) {
	payload, err := json.Marshal(HostEvent{
		Event:          event,
		UUID:           host.UUID,
		Hostname:       host.Hostname,
		Administrative: string(host.Administrative),
		Operational:    string(host.Operational),
		Availability:   string(host.Availability),
		InFlight:       host.InFlight.String(),
		Task:           host.Task,
		Timestamp:      time.Now(),
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal host event")
		return
	}

	data, err := json.Marshal(Message{
		Type:      MessageTypeHostEvent,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal event frame")
		return
	}

	select {
	case s.broadcast <- data:
	default:
		s.logger.Warn("Event stream backlog full, dropping event")
	}
}

// HandleConnection upgrades an HTTP request into an event stream connection
func (s *Server) HandleConnection(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade event stream connection")
		return
	}

	cl := &client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		id:     newClientID(),
	}
	s.register <- cl

	go cl.writePump()
	go cl.readPump()
}

func (s *Server) run() {
	for {
		select {
		case cl := <-s.register:
			s.clientsMux.Lock()
			s.clients[cl] = true
			s.clientsMux.Unlock()
			s.logger.WithField("client_id", cl.id).Debug("Observer connected")

		case cl := <-s.unregister:
			s.clientsMux.Lock()
			if _, ok := s.clients[cl]; ok {
				delete(s.clients, cl)
				close(cl.send)
			}
			s.clientsMux.Unlock()
			s.logger.WithField("client_id", cl.id).Debug("Observer disconnected")

		case data := <-s.broadcast:
			s.clientsMux.Lock()
			for cl := range s.clients {
				select {
				case cl.send <- data:
				default:
					delete(s.clients, cl)
					close(cl.send)
				}
			}
			s.clientsMux.Unlock()

		case <-s.shutdown:
			return
		}
	}
}

// readPump drains incoming frames. Observers are read-only; anything other
// than control frames is discarded.
func (c *client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.WithError(err).Debug("Observer read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func newClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
