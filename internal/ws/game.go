package ws

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meshchatgo/internal/room"
)

// GameServer is the raw-connection adapter on /game. Clients speak bare JSON
// game messages (no envelope); everything before a successful hello handshake
// is rejected with an explicit error reply.
type GameServer struct {
	registry *room.Registry
}

func NewGameServer(registry *room.Registry) *GameServer {
	return &GameServer{registry: registry}
}

// gameConn implements room.GameClient for one websocket connection.
// The connection belongs to at most one room at a time; a hello for a
// different room detaches it from the previous one first.
type gameConn struct {
	conn *clientConn
	room *room.Room
}

func (g *gameConn) Send(m room.Message) error {
	return g.conn.enqueue(m.Encode())
}

func (g *gameConn) sendError(msg string) {
	_ = g.conn.enqueue(room.Message{
		Type:       room.KindError,
		ErrMessage: msg,
	}.Encode())
}

func (s *GameServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("game.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxFrameSize)

	g := &gameConn{conn: newClientConn(rawConn)}

	go s.reader(g)
}

func (s *GameServer) reader(g *gameConn) {
	conn := g.conn
	defer func() {
		s.detach(g)
		conn.rawConn.Close()
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return
		}

		m, err := room.Decode(data)
		if err != nil {
			g.sendError("Invalid JSON payload")
			continue
		}
		s.handle(g, m)
	}
}

func (s *GameServer) handle(g *gameConn, m room.Message) {
	if !m.Type.IsGame() {
		g.sendError("Unsupported message type")
		return
	}

	if m.Type == room.KindHello {
		s.join(g, m)
		return
	}

	if g.room == nil {
		g.sendError("Join a room first")
		return
	}
	g.room.HandleGameMessage(m, g)
}

// join handles the hello handshake: resolve the room by its code (game rooms
// have no secret), attach, reply joined, then push the current state if any.
func (s *GameServer) join(g *gameConn, m room.Message) {
	roomCode := strings.TrimSpace(m.RoomCode)
	if roomCode == "" {
		g.sendError("roomCode is required")
		return
	}

	// A reap can land between lookup and join; retrying always finds a live
	// room because reap unregisters the key before closing.
	var rm *room.Room
	for {
		rm = s.registry.GetOrCreate(roomCode, "")
		if g.room != nil && g.room != rm {
			s.detach(g)
		}
		if rm.JoinGame(g) {
			break
		}
	}
	g.room = rm

	gameID := m.GameID
	if gameID == "" {
		gameID = "room:" + roomCode
	}
	rm.RegisterGameID(gameID)

	if id := rm.GameID(); id != "" {
		gameID = id
	}
	_ = g.Send(room.Message{
		Type:     room.KindJoined,
		GameID:   gameID,
		RoomCode: roomCode,
	})
	rm.SendStateTo(g)
}

func (s *GameServer) detach(g *gameConn) {
	if g.room == nil {
		return
	}
	g.room.LeaveGame(g)
	s.registry.ScheduleIdleCheck(g.room.Key)
	g.room = nil
}
