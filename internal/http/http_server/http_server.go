package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meshchatgo/internal/ws"
)

type httpServer struct {
	listenPort uint16
	srv        http.Server
	ln         net.Listener
	chatSrv    *ws.ChatServer
	gameSrv    *ws.GameServer
	staticDir  string
	ctx        context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, chatSrv *ws.ChatServer, gameSrv *ws.GameServer, staticDir string) *httpServer {
	return &httpServer{
		listenPort: listenPort,
		chatSrv:    chatSrv,
		gameSrv:    gameSrv,
		staticDir:  staticDir,
		ctx:        ctx,
	}
}

func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	routerEngine := gin.New()
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Static files for the web UI
	routerEngine.StaticFile("", filepath.Join(h.staticDir, "index.html"))
	routerEngine.StaticFile("/script.js", filepath.Join(h.staticDir, "script.js"))
	routerEngine.StaticFile("/style.css", filepath.Join(h.staticDir, "style.css"))

	// websocket endpoints: chat clients and game-protocol clients
	routerEngine.GET("/ws", h.chatSrv.Handle)
	routerEngine.GET("/game", h.gameSrv.Handle)

	h.srv = http.Server{
		Handler: routerEngine,
	}

	return h.srv.Serve(h.ln)
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err // e.g. active conns didn't finish in time
	}

	if ctx.Err() == context.DeadlineExceeded {
		zap.L().Error("http_dispose", zap.Error(errors.New("shutdown timed out")))
	}

	return nil
}
