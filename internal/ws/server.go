package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meshchatgo/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second // must be < pongWait

	maxFrameSize = 16 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dev-only
}

// ConnContext is the per-connection state threaded through handlers.
type ConnContext struct {
	ClientID string
	Username string
	Room     *room.Room
	Server   *ChatServer

	conn *clientConn
}

// ChatServer is the centralized-client adapter: it speaks the Envelope
// protocol on /ws and translates events into room calls.
type ChatServer struct {
	registry *room.Registry
	router   *Router
}

func NewChatServer(registry *room.Registry) *ChatServer {
	srv := &ChatServer{
		registry: registry,
		router:   NewRouter(),
	}
	srv.registerHandlers() // ← all chat events configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *ChatServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxFrameSize)

	cc := &ConnContext{
		ClientID: uuid.NewString(),
		Server:   s,
		conn:     newClientConn(rawConn),
	}
	zap.L().Info("ws.client_connected", zap.String("client", cc.ClientID))

	go s.reader(cc)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *ChatServer) registerHandlers() {
	// 🔹 join-room ------------------------------------------------------------
	Register(
		s.router,
		"join-room",
		func(ctx context.Context, cc *ConnContext, req JoinRoomRequest) (*Reply, error) {
			if req.Topic == "" || req.Secret == "" || req.Username == "" {
				return nil, errors.New("Topic, secret, and username are required")
			}

			// Re-joining detaches from the previous room first.
			if cc.Room != nil {
				cc.Room.LeaveClient(cc.ClientID)
				s.registry.ScheduleIdleCheck(cc.Room.Key)
			}

			// A reap can land between lookup and join; retrying always finds
			// a live room because reap unregisters the key before closing.
			var (
				rm      *room.Room
				history []room.Message
				count   int
			)
			for {
				rm = s.registry.GetOrCreate(req.Topic, req.Secret)
				var ok bool
				history, count, ok = rm.JoinClient(cc.ClientID, cc.conn)
				if ok {
					break
				}
			}
			cc.Room = rm
			cc.Username = req.Username

			// Snapshot first, then the join notice fans out to everyone.
			_ = cc.conn.Send("joined-room", JoinedRoomBody{
				Topic:     req.Topic,
				Messages:  historyBodies(history),
				UserCount: count,
			})
			rm.SendChat("System", req.Username+" entered the room")
			return nil, nil
		},
	)

	// 🔹 send-message ---------------------------------------------------------
	Register(
		s.router,
		"send-message",
		func(ctx context.Context, cc *ConnContext, req SendMessageRequest) (*Reply, error) {
			if cc.Room == nil {
				return nil, errors.New("You are not in a room")
			}
			// Delivery happens through room fan-out; the sender is a
			// centralized client, so it receives its own message back.
			cc.Room.SendChat(req.Username, req.Text)
			return nil, nil
		},
	)

	// 🔹 ping -----------------------------------------------------------------
	Register(
		s.router,
		"ping",
		func(ctx context.Context, cc *ConnContext, _ struct{}) (*Reply, error) {
			return &Reply{Event: "pong"}, nil
		},
	)
}

func (s *ChatServer) reader(cc *ConnContext) {
	conn := cc.conn
	defer func() {
		s.disconnect(cc)
		conn.rawConn.Close()
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1900*time.Millisecond)
		reply, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			_ = conn.Send("error", ErrorBody{Error: err.Error()})
			continue
		}
		if reply != nil {
			_ = conn.Send(reply.Event, reply.Body)
		}
	}
}

func (s *ChatServer) disconnect(cc *ConnContext) {
	zap.L().Info("ws.client_disconnected", zap.String("client", cc.ClientID))
	if cc.Room == nil {
		return
	}
	cc.Room.LeaveClient(cc.ClientID)
	s.registry.ScheduleIdleCheck(cc.Room.Key)
	cc.Room = nil
}
