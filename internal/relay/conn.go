package relay

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matteso1/synapse/pkg/errors"
	"github.com/matteso1/synapse/pkg/logger"
	"github.com/matteso1/synapse/pkg/metrics"
)

const pingFraction = 9 // ping at 9/10 of the pong deadline, per gorilla convention

// Options tunes per-connection transport behaviour.
type Options struct {
	SendBuffer     int
	ReadLimitBytes int64
	PongWait       time.Duration
	WriteWait      time.Duration
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     64,
		ReadLimitBytes: 1 << 20,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// Handler upgrades HTTP requests into relay connections.
type Handler struct {
	registry *Registry
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler builds the connection handler on top of a registry.
func NewHandler(registry *Registry, opts Options) *Handler {
	return &Handler{
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay is origin-agnostic: rooms are unauthenticated by
			// contract and the HTTP surface is already wildcard-CORS.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.WithModule("relay"),
	}
}

// RoomNameFromPath extracts the room name from a request path: the first
// segment, minus the leading separator. An empty path selects the default
// room.
func RoomNameFromPath(path string) string {
	name := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return DefaultRoomName
	}
	return name
}

// Serve upgrades the request and runs the connection until either side
// closes. Abrupt transport errors and clean closes take the same teardown
// path.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	roomName := RoomNameFromPath(r.URL.Path)

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(errors.ErrUpgradeFailed.WithInternal(err)))
		return
	}

	c := &conn{
		id:      uuid.NewString(),
		handler: h,
		sock:    sock,
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
	}
	c.log = h.log.With(zap.String("conn", c.id), zap.String("room", roomName))

	// Attach can lose the race with an eviction check that fires between
	// resolving the room and attaching; the loser re-resolves and wins
	// against a fresh room.
	for {
		room := h.registry.GetOrCreate(roomName)
		sends, err := room.Attach(c)
		if err == nil {
			c.room = room
			deliver(sends)
			break
		}
	}

	metrics.OpenConnections.Inc()
	c.log.Info("connection attached")

	go c.writeLoop()
	c.readLoop()
}

// conn is one attached client socket. It implements Subscriber; Queue never
// blocks — a client that cannot drain its buffer is disconnected rather than
// allowed to stall the room.
type conn struct {
	id      string
	handler *Handler
	room    *Room
	sock    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	synced  bool
	once    sync.Once
	log     *zap.Logger
}

func (c *conn) Queue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.log.Warn("dropping backpressure connection")
		c.close()
	}
}

func (c *conn) readLoop() {
	defer c.close()

	opts := c.handler.opts
	c.sock.SetReadLimit(opts.ReadLimitBytes)
	_ = c.sock.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, frame, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		sends, completedRound, err := c.room.HandleFrame(c, frame)
		if err != nil {
			// A malformed frame never terminates the connection; drop it
			// and keep reading.
			c.log.Warn("dropping frame", zap.Error(err))
			continue
		}
		if completedRound && !c.synced {
			c.synced = true
			c.log.Debug("connection synced")
		}
		deliver(sends)
	}
}

func (c *conn) writeLoop() {
	defer c.close()

	opts := c.handler.opts
	ticker := time.NewTicker(opts.PongWait * pingFraction / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.sock.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		sends, empty := c.room.Detach(c)
		deliver(sends)
		if empty {
			c.handler.registry.DetachEmpty(c.room)
		}

		close(c.done)
		_ = c.sock.Close()
		metrics.OpenConnections.Dec()
		c.log.Info("connection detached")
	})
}
