// Package mesh is the peer-mesh adapter. Every room gets its own dep2p node
// joined to a realm derived from the room's topic and secret; each realm
// member pair shares one encrypted ordered byte stream carrying
// newline-delimited JSON frames.
package mesh

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dep2p/go-dep2p"
	"go.uber.org/zap"

	"meshchatgo/internal/room"
	"meshchatgo/internal/roomkey"
)

const (
	// chatProtocol is the per-realm stream protocol for room frames.
	chatProtocol = "room-relay"

	dialTimeout = 30 * time.Second
	readBufSize = 4096
)

// Network joins rooms to the peer mesh. It implements room.MeshJoiner.
type Network struct {
	bootstrap []string
}

func NewNetwork(bootstrapPeers []string) *Network {
	return &Network{bootstrap: bootstrapPeers}
}

// Join starts a mesh node for the room and begins exchanging frames with
// every realm member. The returned closer shuts the node down and with it
// every peer stream and read buffer.
func (n *Network) Join(topic, secret string, rm *room.Room) (io.Closer, error) {
	ctx := context.Background()

	opts := []dep2p.Option{dep2p.WithListenPort(0)}
	if len(n.bootstrap) > 0 {
		opts = append(opts, dep2p.WithBootstrapPeers(n.bootstrap...))
	}

	node, err := dep2p.Start(ctx, opts...)
	if err != nil {
		return nil, err
	}

	realm, err := node.JoinRealm(ctx, roomkey.Rendezvous(topic, secret))
	if err != nil {
		_ = node.Close()
		return nil, err
	}

	j := &meshJoin{node: node, realm: realm, room: rm}

	if err := realm.Streams().RegisterHandler(chatProtocol, j.accept); err != nil {
		_ = node.Close()
		return nil, err
	}
	if err := realm.OnMemberJoin(func(peerID string) { go j.dial(peerID) }); err != nil {
		_ = node.Close()
		return nil, err
	}
	for _, peerID := range realm.Members() {
		go j.dial(peerID)
	}

	zap.L().Info("mesh.joined",
		zap.String("room", rm.Key),
		zap.String("node", node.ID()))
	return j, nil
}

// meshJoin is one room's membership in the mesh.
type meshJoin struct {
	node  *dep2p.Node
	realm *dep2p.Realm
	room  *room.Room

	mu     sync.Mutex
	closed bool
}

// Close releases the room's mesh resources: the node teardown closes every
// peer stream, which ends the read loops and drops their buffers.
func (j *meshJoin) Close() error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	return j.node.Close()
}

func (j *meshJoin) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// accept serves an inbound stream from a dialing peer.
func (j *meshJoin) accept(s *dep2p.BiStream) {
	go j.serve(s)
}

// dial opens the stream to a newly discovered member. Exactly one side of
// each pair dials (the lower node id) so a pair never ends up with two links.
func (j *meshJoin) dial(peerID string) {
	if j.isClosed() || peerID == j.node.ID() || j.node.ID() >= peerID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	s, err := j.realm.Streams().Open(ctx, peerID, chatProtocol)
	if err != nil {
		zap.L().Warn("mesh.dial", zap.String("room", j.room.Key), zap.String("peer", peerID), zap.Error(err))
		return
	}
	j.serve(s)
}

// serve runs one peer connection: registers it with the room, reassembles its
// byte stream into frames, and feeds them to the room until the stream ends.
// The reassembly buffer lives and dies with this call.
func (j *meshJoin) serve(s *dep2p.BiStream) {
	peerID := s.RemotePeer()
	zap.L().Info("mesh.peer_connected", zap.String("room", j.room.Key), zap.String("peer", peerID))

	link := newPeerLink(s)
	if !j.room.AddPeer(link) {
		link.close()
		_ = s.Close()
		return
	}
	defer func() {
		j.room.RemovePeer(link)
		link.close()
		_ = s.Close()
		zap.L().Info("mesh.peer_closed", zap.String("room", j.room.Key), zap.String("peer", peerID))
	}()

	var reasm room.Reassembler
	buf := make([]byte, readBufSize)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			for _, m := range reasm.Push(buf[:n]) {
				j.room.HandlePeerMessage(m, link)
			}
		}
		if err != nil {
			if err != io.EOF && !j.isClosed() {
				zap.L().Warn("mesh.peer_read", zap.String("room", j.room.Key), zap.String("peer", peerID), zap.Error(err))
			}
			return
		}
	}
}

// peerLink adapts one BiStream to room.PeerLink. Outbound frames go through
// a buffered queue drained by a single writer, so a stalled peer never blocks
// room fan-out; a full queue drops the frame.
type peerLink struct {
	stream *dep2p.BiStream
	out    chan []byte
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newPeerLink(s *dep2p.BiStream) *peerLink {
	p := &peerLink{
		stream: s,
		out:    make(chan []byte, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *peerLink) writeLoop() {
	defer close(p.done)
	for {
		select {
		case b := <-p.out:
			if _, err := p.stream.Write(b); err != nil {
				_ = p.stream.Close()
				return
			}
		case <-p.stop:
			return
		}
	}
}

func (p *peerLink) close() {
	p.once.Do(func() { close(p.stop) })
}

func (p *peerLink) Send(m room.Message) error {
	frame := append(m.Encode(), '\n')
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- frame:
		return nil
	default:
		return errors.New("peer send buffer full")
	}
}
