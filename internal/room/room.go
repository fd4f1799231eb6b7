package room

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// historyCap bounds the chat backlog kept per room, oldest evicted first.
	historyCap = 100

	// countDelay coalesces bursts of join/leave into one user-count broadcast.
	countDelay = 100 * time.Millisecond
)

// PeerLink is one live peer-mesh connection. Send must frame and write the
// message without blocking the caller on room state.
type PeerLink interface {
	Send(m Message) error
}

// ChatClient is one centralized chat client, addressed by a stable id.
type ChatClient interface {
	Send(event string, body any) error
}

// GameClient is one raw-connection client speaking the game protocol.
type GameClient interface {
	Send(m Message) error
}

// Publisher pushes an accepted chat message to sibling instances. Implemented
// by the redis bus; nil when the process runs alone.
type Publisher interface {
	Publish(roomKey string, m Message)
}

// Room owns the authoritative state for one topic+secret pair across all
// transports. Every mutation runs on the room's task loop, so connection
// callbacks from any transport never race on history, participant sets or the
// game counters.
type Room struct {
	Topic  string
	Secret string
	Key    string

	tasks chan func()
	done  chan struct{}
	stop  sync.Once

	pub  Publisher
	idle func()

	// Everything below is owned by the task loop.
	history     []Message
	peers       map[PeerLink]struct{}
	clients     map[string]ChatClient
	gameClients map[GameClient]struct{}

	gamePos  string
	hasState bool
	gameSeq  float64
	gameID   string

	mesh         io.Closer
	countPending bool
}

// New creates a room and starts its task loop. The caller (the registry) owns
// the room's lifecycle; pub may be nil. idle, when set, is invoked after the
// last participant across all transports disappears.
func New(topic, secret, key string, pub Publisher, idle func()) *Room {
	r := &Room{
		Topic:       topic,
		Secret:      secret,
		Key:         key,
		tasks:       make(chan func(), 256),
		done:        make(chan struct{}),
		pub:         pub,
		idle:        idle,
		peers:       make(map[PeerLink]struct{}),
		clients:     make(map[string]ChatClient),
		gameClients: make(map[GameClient]struct{}),
		gameSeq:     -1,
	}
	go r.run()
	return r
}

func (r *Room) run() {
	for {
		select {
		case f := <-r.tasks:
			f()
		case <-r.done:
			return
		}
	}
}

// do enqueues a task for the room loop. It reports false when the room is
// already destroyed and the task was dropped.
func (r *Room) do(f func()) bool {
	select {
	case r.tasks <- f:
		return true
	case <-r.done:
		return false
	}
}

// call runs f on the room loop and waits for it.
func (r *Room) call(f func()) bool {
	ch := make(chan struct{})
	if !r.do(func() { f(); close(ch) }) {
		return false
	}
	select {
	case <-ch:
		return true
	case <-r.done:
		return false
	}
}

// AttachMesh hands the room its peer-mesh handle. If the room was destroyed
// while the mesh was still joining, the handle is released immediately.
func (r *Room) AttachMesh(c io.Closer) {
	if !r.call(func() { r.mesh = c }) {
		if err := c.Close(); err != nil {
			zap.L().Warn("room.mesh_close", zap.String("room", r.Key), zap.Error(err))
		}
	}
}

// Close tears the room down: stops the task loop and releases the mesh handle
// best-effort. Safe to call more than once.
func (r *Room) Close() {
	r.stop.Do(func() {
		var mesh io.Closer
		r.call(func() { mesh = r.mesh })
		close(r.done)
		if mesh != nil {
			if err := mesh.Close(); err != nil {
				zap.L().Warn("room.mesh_close", zap.String("room", r.Key), zap.Error(err))
			}
		}
	})
}

// Closed reports whether the room has been destroyed.
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// ─────────────────────────── participants ──────────────────────────────────

// AddPeer registers a mesh connection and replays the chat backlog to it.
// It reports false when the room was already destroyed and the peer was not
// attached.
func (r *Room) AddPeer(p PeerLink) bool {
	return r.call(func() {
		r.peers[p] = struct{}{}
		for _, m := range r.history {
			r.sendPeer(p, m)
		}
		r.scheduleCount()
	})
}

// RemovePeer drops a mesh connection from the room. The mesh adapter holds no
// registry handle, so the room's idle callback covers the idle check for it.
func (r *Room) RemovePeer(p PeerLink) {
	r.do(func() {
		delete(r.peers, p)
		r.scheduleCount()
		r.notifyIdle()
	})
}

// JoinClient registers a centralized chat client and returns the join
// snapshot: the current backlog and the combined user count. ok is false when
// the room was already destroyed; the caller must resolve a fresh room and
// retry.
func (r *Room) JoinClient(id string, c ChatClient) (history []Message, count int, ok bool) {
	ok = r.call(func() {
		r.clients[id] = c
		history = append([]Message(nil), r.history...)
		count = len(r.peers) + len(r.clients)
		r.scheduleCount()
	})
	return history, count, ok
}

// LeaveClient removes a centralized chat client.
func (r *Room) LeaveClient(id string) {
	r.do(func() {
		delete(r.clients, id)
		r.scheduleCount()
	})
}

// JoinGame registers a game-protocol client. It reports false when the room
// was already destroyed.
func (r *Room) JoinGame(c GameClient) bool {
	return r.call(func() {
		r.gameClients[c] = struct{}{}
		r.scheduleCount()
	})
}

// LeaveGame removes a game-protocol client.
func (r *Room) LeaveGame(c GameClient) {
	r.do(func() {
		delete(r.gameClients, c)
		r.scheduleCount()
	})
}

// notifyIdle runs on the task loop after a participant leaves.
func (r *Room) notifyIdle() {
	if r.idle != nil && len(r.peers)+len(r.clients)+len(r.gameClients) == 0 {
		r.idle()
	}
}

// Empty reports whether all three participant sets are empty. A destroyed
// room counts as empty.
func (r *Room) Empty() bool {
	empty := true
	r.call(func() {
		empty = len(r.peers) == 0 && len(r.clients) == 0 && len(r.gameClients) == 0
	})
	return empty
}

// UserCount returns peers + chat clients; game-only clients are not counted.
func (r *Room) UserCount() (n int) {
	r.call(func() { n = len(r.peers) + len(r.clients) })
	return n
}

// ─────────────────────────── inbound dispatch ──────────────────────────────

// HandlePeerMessage dispatches one reassembled frame from a mesh connection.
// Unrecognized kinds are ignored; peers have no error return channel.
func (r *Room) HandlePeerMessage(m Message, from PeerLink) {
	r.do(func() {
		switch {
		case m.Type == KindChat:
			r.acceptChat(m, from, true)
		case m.Type.IsGame():
			r.handleGame(m, from, nil)
		}
	})
}

// SendChat injects a room-originated chat message (a centralized client's
// submission or a system notice). Every participant receives it, including
// any centralized client that originated it server-side.
func (r *Room) SendChat(username, text string) {
	m := NewChat(username, text, time.Now())
	r.do(func() { r.acceptChat(m, nil, true) })
}

// InjectChat delivers a chat message relayed from a sibling instance over the
// bus. It is fanned out locally but never re-published.
func (r *Room) InjectChat(m Message) {
	r.do(func() { r.acceptChat(m, nil, false) })
}

// HandleGameMessage dispatches a game-protocol message from a raw-connection
// client. The adapter has already rejected non-game kinds.
func (r *Room) HandleGameMessage(m Message, from GameClient) {
	r.do(func() { r.handleGame(m, nil, from) })
}

// RegisterGameID sets the room's game id from the first message carrying one;
// later ids never overwrite it.
func (r *Room) RegisterGameID(id string) {
	r.do(func() { r.registerGameID(id) })
}

// GameID returns the registered game id, or "" when none is set yet.
func (r *Room) GameID() (id string) {
	r.call(func() { id = r.gameID })
	return id
}

// SendStateTo pushes the current board state to one game client, if a state
// exists. Used right after the join handshake.
func (r *Room) SendStateTo(c GameClient) {
	r.do(func() {
		if r.hasState {
			r.sendGame(c, NewState(r.gameID, r.gameSeq, r.gamePos))
		}
	})
}

// ─────────────────────────── task-loop internals ───────────────────────────

// acceptChat appends to history and fans out: every peer except the sender,
// every centralized client. publish=false marks bus-relayed messages.
func (r *Room) acceptChat(m Message, from PeerLink, publish bool) {
	m = m.WithTimestamp(time.Now())

	r.history = append(r.history, m)
	if len(r.history) > historyCap {
		r.history = r.history[1:]
	}

	for p := range r.peers {
		if p != from {
			r.sendPeer(p, m)
		}
	}
	for id, c := range r.clients {
		if err := c.Send("message", json.RawMessage(m.Encode())); err != nil {
			zap.L().Warn("room.client_send", zap.String("room", r.Key), zap.String("client", id), zap.Error(err))
		}
	}

	if publish && r.pub != nil {
		r.pub.Publish(r.Key, m)
	}
}

func (r *Room) handleGame(m Message, fromPeer PeerLink, fromGame GameClient) {
	r.registerGameID(m.GameID)

	switch m.Type {
	case KindHello, KindStateRequest:
		if !r.hasState {
			return
		}
		state := NewState(r.gameID, r.gameSeq, r.gamePos)
		if fromPeer != nil {
			r.sendPeer(fromPeer, state)
		}
		if fromGame != nil {
			r.sendGame(fromGame, state)
		}

	case KindState, KindMove:
		if s, ok := m.SeqNumber(); ok {
			if s <= r.gameSeq {
				return // stale or duplicate, drop silently
			}
			r.gameSeq = s
		}
		if m.Position != "" {
			r.gamePos = m.Position
			r.hasState = true
		}
		for p := range r.peers {
			if p != fromPeer {
				r.sendPeer(p, m)
			}
		}
		for c := range r.gameClients {
			if c != fromGame {
				r.sendGame(c, m)
			}
		}
	}
}

func (r *Room) registerGameID(id string) {
	if id != "" && r.gameID == "" {
		r.gameID = id
	}
}

func (r *Room) sendPeer(p PeerLink, m Message) {
	if err := p.Send(m); err != nil {
		zap.L().Warn("room.peer_send", zap.String("room", r.Key), zap.Error(err))
	}
}

func (r *Room) sendGame(c GameClient, m Message) {
	if err := c.Send(m); err != nil {
		zap.L().Warn("room.game_send", zap.String("room", r.Key), zap.Error(err))
	}
}

// scheduleCount coalesces user-count broadcasts after membership churn.
func (r *Room) scheduleCount() {
	if r.countPending {
		return
	}
	r.countPending = true
	time.AfterFunc(countDelay, func() {
		r.do(func() {
			r.countPending = false
			count := len(r.peers) + len(r.clients)
			for id, c := range r.clients {
				if err := c.Send("user-count", map[string]int{"count": count}); err != nil {
					zap.L().Warn("room.client_send", zap.String("room", r.Key), zap.String("client", id), zap.Error(err))
				}
			}
		})
	})
}
