package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matteso1/synapse/pkg/logger"
	"github.com/matteso1/synapse/pkg/metrics"
)

// DefaultRoomName is used when a connection's path carries no room segment.
const DefaultRoomName = "default"

// Registry is the process-wide map of room name to room. Eviction of empty
// rooms is deferred: emptiness is re-validated when the grace window fires,
// not tracked by cancelling timers, so duplicate checks are harmless no-ops.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	timers map[*time.Timer]struct{}
	grace  time.Duration
	closed bool

	log *zap.Logger
}

// NewRegistry builds an empty registry whose rooms survive grace after their
// last connection detaches.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		timers: make(map[*time.Timer]struct{}),
		grace:  grace,
		log:    logger.WithModule("registry"),
	}
}

// GetOrCreate returns the room registered under name, creating it with an
// empty replica when absent. An empty name maps to DefaultRoomName. Room
// names are deliberately not validated beyond that. Two concurrent first
// connections to one name observe the same room.
func (reg *Registry) GetOrCreate(name string) *Room {
	if name == "" {
		name = DefaultRoomName
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[name]; ok {
		return room
	}

	room := newRoom(name, reg.log)
	reg.rooms[name] = room
	metrics.OpenRooms.Set(float64(len(reg.rooms)))
	reg.log.Info("room created", zap.String("room", name))
	return room
}

// Len reports the number of registered rooms, grace-period residents included.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// DetachEmpty schedules the deferred eviction check for a room whose
// connection count just reached zero. If a connection re-attaches before the
// deadline the fired check observes a non-empty room and does nothing; the
// timer is never cancelled proactively.
func (reg *Registry) DetachEmpty(room *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.closed {
		return
	}

	metrics.EvictionChecks.Inc()
	var timer *time.Timer
	timer = time.AfterFunc(reg.grace, func() {
		reg.evictIfEmpty(room)
		reg.mu.Lock()
		delete(reg.timers, timer)
		reg.mu.Unlock()
	})
	reg.timers[timer] = struct{}{}
}

func (reg *Registry) evictIfEmpty(room *Room) {
	// Closing the room and unregistering happen under the registry lock so
	// an attacher that already resolved this room either attaches before
	// the close (check finds it non-empty) or fails and re-resolves.
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.rooms[room.Name()] != room {
		return // already evicted, or name re-created afresh
	}
	if !room.tryClose() {
		return // re-attached within the grace window
	}

	delete(reg.rooms, room.Name())
	metrics.OpenRooms.Set(float64(len(reg.rooms)))
	metrics.RoomsEvicted.Inc()
	reg.log.Info("room evicted", zap.String("room", room.Name()))
}

// Stats summarises the registry for the maintenance sweep and /health.
type Stats struct {
	Rooms       int
	Connections int
}

// Stats counts rooms and attached connections.
func (reg *Registry) Stats() Stats {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	stats := Stats{Rooms: len(rooms)}
	for _, room := range rooms {
		stats.Connections += room.ConnCount()
	}
	return stats
}

// Close stops all outstanding eviction timers. Rooms and their documents are
// simply dropped; nothing persists across restarts.
func (reg *Registry) Close() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.closed = true
	for timer := range reg.timers {
		timer.Stop()
	}
	reg.timers = make(map[*time.Timer]struct{})
}
