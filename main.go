package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meshchatgo/internal/bus"
	"meshchatgo/internal/config"
	"meshchatgo/internal/http/http_server"
	"meshchatgo/internal/mesh"
	"meshchatgo/internal/redis/redis_client"
	"meshchatgo/internal/room"
	"meshchatgo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Optional Redis-backed cross-instance chat bus
	var chatBus *bus.ChatBus
	var pub room.Publisher
	var redisClient *redis.Client
	if cfg.RedisHost != "" {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		chatBus = bus.New(redisClient)
		pub = chatBus
		Log.Debug("Redis chat bus enabled")
	}

	// 4. Peer-mesh network (one node per room, joined lazily)
	var joiner room.MeshJoiner
	if cfg.MeshEnabled {
		joiner = mesh.NewNetwork(cfg.MeshBootstrapPeers)
	}

	// 5. Room registry + periodic idle sweep
	registry := room.NewRegistry(joiner, pub, cfg.RoomIdleGrace)
	go registry.RunSweeper(ctx, cfg.RoomSweepInterval)

	// 6. Bus fan-in to local rooms
	if chatBus != nil {
		go chatBus.Run(ctx, registry)
	}

	// 7. Transport adapters
	chatSrv := ws.NewChatServer(registry)
	gameSrv := ws.NewGameServer(registry)

	// 8. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, chatSrv, gameSrv, cfg.StaticDir)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
