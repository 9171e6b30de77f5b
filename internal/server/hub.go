package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client.
	maxMessageSize = 4096

	// Frames buffered per client before it counts as a slow consumer.
	sendBuffer = 64
)

// Hub serves the ride websocket and fans messages out to the riders of each ride.
type Hub struct {
	registry *Registry
	recorder Recorder
	logger   *log.Logger
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*client // session id -> current connection
}

// HubOptions configures a [Hub]. A zero LocationRate disables rate limiting.
type HubOptions struct {
	Registry      *Registry
	Recorder      Recorder
	Logger        *log.Logger
	LocationRate  float64
	LocationBurst int
}

// NewHub creates a hub over the given registry.
func NewHub(opts HubOptions) *Hub {
	limit := rate.Inf
	if opts.LocationRate > 0 {
		limit = rate.Limit(opts.LocationRate)
	}
	burst := max(opts.LocationBurst, 1)
	recorder := opts.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Hub{
		registry: opts.Registry,
		recorder: recorder,
		logger:   opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Routes implements [Handler].
func (h *Hub) Routes() []string {
	return []string{"GET /ws/{session_id}"}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}

	session, ok := h.registry.Get(id)
	if !ok {
		h.logger.Info("rejected websocket for unknown session", "session_id", id)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid session")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	c := &client{
		session: session,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(h.limit, h.burst),
		logger:  h.logger.With("session_id", session.SessionID),
	}

	h.register(c)
	h.logger.Info("rider connected", "session_id", session.SessionID, "username", session.Username, "ride_id", session.RideID)

	go c.writeLoop()
	h.readLoop(c)
}

// register makes c the current connection for its session and queues initial_state ahead of any broadcast.
//
// The snapshot is taken under h.mu, so a location stored after it is broadcast to c.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	state, _ := protocol.Encode(protocol.InitialState{Users: h.registry.Riders(c.session.RideID)})
	old := h.clients[c.session.SessionID]
	h.clients[c.session.SessionID] = c
	c.enqueue(state)
	h.mu.Unlock()

	if old != nil {
		old.close(websocket.CloseNormalClosure, "Replaced by a new connection")
	}

	h.Broadcast(c.session.RideID, protocol.UserJoined{
		SessionID: c.session.SessionID,
		Username:  c.session.Username,
	}, c.session.SessionID)
}

// unregister drops c and announces the departure unless c was already replaced or kicked.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current := h.clients[c.session.SessionID] == c
	if current {
		delete(h.clients, c.session.SessionID)
	}
	h.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "")
	if !current {
		return
	}

	h.logger.Info("rider disconnected", "session_id", c.session.SessionID, "username", c.session.Username)
	h.Broadcast(c.session.RideID, protocol.UserLeft{
		SessionID: c.session.SessionID,
		Username:  c.session.Username,
	}, "")
}

func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		report, err := protocol.DecodeReport(data)
		if err != nil {
			c.logger.Debug("dropped client frame", "error", err)
			continue
		}
		if !c.limiter.Allow() {
			c.logger.Debug("rate limited location update")
			continue
		}
		h.locate(c.session, report.Location)
	}
}

func (h *Hub) locate(s models.Session, loc models.Location) {
	rider, ok := h.registry.SetLocation(s.SessionID, loc)
	if !ok {
		return
	}
	h.recorder.LocationReported(s, loc, h.now().UTC())

	h.Broadcast(s.RideID, protocol.LocationUpdate{
		SessionID: rider.SessionID,
		Username:  rider.Username,
		Location:  loc,
	}, s.SessionID)
}

// Broadcast sends msg to every connected rider of rideID except the session named by exclude.
func (h *Hub) Broadcast(rideID string, msg protocol.Inbound, exclude string) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "type", msg.Kind(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if id == exclude || c.session.RideID != rideID {
			continue
		}
		c.enqueue(data)
	}
}

// Resync broadcasts a full riders_update to every open ride.
func (h *Hub) Resync() {
	for _, code := range h.registry.Rides() {
		h.Broadcast(code, protocol.RidersUpdate{Riders: h.registry.Riders(code)}, "")
	}
}

// Kick closes the connection of a session, if any. The caller announces the departure.
func (h *Hub) Kick(sessionID string) bool {
	h.mu.Lock()
	c, ok := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	if ok {
		c.close(websocket.CloseNormalClosure, "Logged out")
	}
	return ok
}

// Connected reports whether a session currently has a socket.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[sessionID]
	return ok
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close disconnects every client; hijacked connections are not closed by [http.Server.Shutdown].
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "Server shutting down")
	}
}

type client struct {
	session models.Session
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	logger  *log.Logger

	once   sync.Once
	code   int
	reason string
}

// enqueue never blocks. A client whose buffer is full is disconnected.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("dropping slow client")
		c.close(websocket.CloseTryAgainLater, "Too slow")
	}
}

func (c *client) close(code int, reason string) {
	c.once.Do(func() {
		c.code = code
		c.reason = reason
		close(c.done)
	})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.drain()
			msg := websocket.FormatCloseMessage(c.code, c.reason)
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before close, such as the initial_state of a client kicked early.
func (c *client) drain() {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
