package room

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshchatgo/internal/roomkey"
)

// MeshJoiner attaches a room to the peer-mesh rendezvous for its topic and
// secret. The returned closer releases the mesh resources on room teardown.
type MeshJoiner interface {
	Join(topic, secret string, r *Room) (io.Closer, error)
}

// Registry owns the mapping from derived room key to live room. It is the
// only component that creates or destroys rooms.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	mesh      MeshJoiner // nil when the mesh transport is disabled
	pub       Publisher  // nil when the bus is disabled
	idleGrace time.Duration
}

func NewRegistry(mesh MeshJoiner, pub Publisher, idleGrace time.Duration) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		mesh:      mesh,
		pub:       pub,
		idleGrace: idleGrace,
	}
}

// GetOrCreate returns the room for (topic, secret), creating it on first use.
// Concurrent calls for the same key observe exactly one room. The mesh join
// runs off the registry lock; a room destroyed before the join completes
// releases the handle immediately.
func (g *Registry) GetOrCreate(topic, secret string) *Room {
	key := roomkey.Derive(topic, secret)

	g.mu.Lock()
	if r, ok := g.rooms[key]; ok {
		g.mu.Unlock()
		return r
	}
	r := New(topic, secret, key, g.pub, func() { g.ScheduleIdleCheck(key) })
	g.rooms[key] = r
	g.mu.Unlock()

	zap.L().Info("registry.room_created", zap.String("room", key), zap.String("topic", topic))

	if g.mesh != nil {
		go func() {
			closer, err := g.mesh.Join(topic, secret, r)
			if err != nil {
				zap.L().Error("registry.mesh_join", zap.String("room", key), zap.Error(err))
				return
			}
			r.AttachMesh(closer)
		}()
	}
	return r
}

// Get looks a room up by its derived key.
func (g *Registry) Get(key string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[key]
	return r, ok
}

// ScheduleIdleCheck arranges for the room to be destroyed after the grace
// delay if it is still registered and still empty. Emptiness is re-checked at
// fire time: a participant gained in the interim keeps the room alive.
func (g *Registry) ScheduleIdleCheck(key string) {
	time.AfterFunc(g.idleGrace, func() {
		if g.reap(key) {
			zap.L().Info("registry.room_idle_destroyed", zap.String("room", key))
		}
	})
}

// Sweep destroys every room whose three participant sets are all empty. It is
// the safety net behind per-event idle checks and is idempotent.
func (g *Registry) Sweep() {
	g.mu.Lock()
	keys := make([]string, 0, len(g.rooms))
	for k := range g.rooms {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	for _, k := range keys {
		if g.reap(k) {
			zap.L().Info("registry.room_swept", zap.String("room", k))
		}
	}
}

// RunSweeper runs the periodic sweep until the context ends.
func (g *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			g.Sweep()
		}
	}
}

// reap destroys the room under key when it is still registered and empty.
// The emptiness check runs under the registry lock so a concurrent
// GetOrCreate for the same key cannot observe a room that is about to die.
func (g *Registry) reap(key string) bool {
	g.mu.Lock()
	r, ok := g.rooms[key]
	if !ok || !r.Empty() {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, key)
	g.mu.Unlock()

	r.Close()
	return true
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
