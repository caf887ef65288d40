package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaychat/chat-app/internal/auth"
	"github.com/relaychat/chat-app/internal/ban"
	"github.com/relaychat/chat-app/internal/httpapi"
	"github.com/relaychat/chat-app/internal/lastseen"
	"github.com/relaychat/chat-app/internal/media"
	"github.com/relaychat/chat-app/internal/message"
	"github.com/relaychat/chat-app/internal/messaging"
	"github.com/relaychat/chat-app/internal/metrics"
	"github.com/relaychat/chat-app/internal/presence"
	"github.com/relaychat/chat-app/internal/protocol"
	"github.com/relaychat/chat-app/internal/ratelimit"
	"github.com/relaychat/chat-app/internal/storage"
	"github.com/relaychat/chat-app/internal/ws"
)

var (
	errBanned          = errors.New("account temporarily suspended")
	errTooManyConnects = errors.New("too many connection attempts")
)

// lateBroadcaster forwards presence broadcasts to the server. The tracker is
// built before the server (the server's handlers need it), so the server is
// attached after construction.
type lateBroadcaster struct {
	server *ws.Server
}

func (b *lateBroadcaster) Broadcast(data []byte) {
	if b.server != nil {
		b.server.Broadcast(data)
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	config := ws.DefaultServerConfig()
	config.ListenAddr = envStr("LISTEN_ADDR", config.ListenAddr)
	config.WorkerPoolSize = envInt("WORKER_POOL_SIZE", config.WorkerPoolSize)
	config.MaxConnections = envInt("MAX_CONNECTIONS", config.MaxConnections)
	config.ReadTimeout = envDuration("READ_TIMEOUT", config.ReadTimeout)
	config.WriteTimeout = envDuration("WRITE_TIMEOUT", config.WriteTimeout)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	tokens := auth.NewTokenManager(jwtSecret, envDuration("TOKEN_TTL", 7*24*time.Hour))

	// --- Postgres ---
	dbConfig := storage.DefaultConfig()
	dbConfig.Host = envStr("DB_HOST", dbConfig.Host)
	dbConfig.Port = envInt("DB_PORT", dbConfig.Port)
	dbConfig.User = envStr("DB_USER", dbConfig.User)
	dbConfig.Password = envStr("DB_PASSWORD", dbConfig.Password)
	dbConfig.Database = envStr("DB_NAME", dbConfig.Database)
	dbConfig.SSLMode = envStr("DB_SSLMODE", dbConfig.SSLMode)

	store, err := storage.Open(dbConfig)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}

	// --- Redis ---
	redisAddr := envStr("REDIS_ADDR", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
	}
	limiter := ratelimit.NewLimiter(redisClient)
	bans := ban.NewStore(redisClient)
	lastSeen := lastseen.NewStore(redisClient)

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = envStr("NATS_URL", natsConfig.URL)
	natsConfig.Name = "relay-chatserver"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Image uploads ---
	var uploader media.Uploader
	if uploadURL := os.Getenv("UPLOAD_URL"); uploadURL != "" {
		uploadConfig := media.DefaultHTTPUploaderConfig()
		uploadConfig.BaseURL = uploadURL
		uploadConfig.Token = os.Getenv("UPLOAD_TOKEN")
		uploader = media.NewHTTPUploader(uploadConfig)
	} else {
		log.Printf("UPLOAD_URL not set, image messages are disabled")
	}

	log.Printf("Relay chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  postgres:        %s:%d/%s", dbConfig.Host, dbConfig.Port, dbConfig.Database)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  nats_url:        %s", natsConfig.URL)

	// --- Presence ---
	bc := &lateBroadcaster{}
	tracker := presence.NewTracker(bc)

	// --- WebSocket server ---
	// The upgrade is authenticated with the same JWT the REST API issues,
	// passed as a query parameter. Banned users and connect floods are
	// rejected before the upgrade completes.
	authenticate := func(token string) (string, error) {
		userID, err := tokens.Verify(token)
		if err != nil {
			return "", err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if banned, _, _ := bans.IsBanned(ctx, userID); banned {
			return "", errBanned
		}
		if ok, _ := limiter.Allow(ctx, userID, ratelimit.RuleConnect); !ok {
			return "", errTooManyConnects
		}
		return userID, nil
	}

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(config, authenticate, dispatcher.Dispatch)
	bc.server = server

	// --- Message pipeline ---
	svc := message.NewService(store, uploader, tracker, server, natsClient)

	// typing indicators are relayed only if the peer is connected here
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		connID, online := tracker.Lookup(typingMsg.To)
		if !online {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeTyping, protocol.ServerTypingMsg{
			From:     conn.UserID,
			IsTyping: typingMsg.IsTyping,
		})
		if err != nil {
			return
		}
		if err := server.Push(connID, data); err != nil {
			log.Printf("typing relay to %s failed: %v", typingMsg.To, err)
		}
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		tracker.Register(conn.UserID, conn.ID)
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		tracker.Unregister(conn.UserID, conn.ID)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := lastSeen.Touch(ctx, conn.UserID); err != nil {
			log.Printf("recording last seen for %s: %v", conn.UserID, err)
		}
	})

	// Moderator ban events: evict the user's live connection if it is on
	// this instance. The registry mutation flows through the normal
	// disconnect path, so a presence broadcast follows.
	if err := natsClient.SubscribeUserBanned(func(data []byte) {
		var evt messaging.UserBannedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("[ban-sub] bad event: %v", err)
			return
		}
		connID, online := tracker.Lookup(evt.UserID)
		if !online {
			return
		}
		notice, err := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
			Duration: int(evt.DurationSeconds),
			Reason:   evt.Reason,
		})
		if err == nil {
			_ = server.Push(connID, notice)
		}
		if conn := server.Connections().Get(connID); conn != nil {
			log.Printf("[ban-sub] evicting user=%s conn=%s", evt.UserID, connID)
			server.RemoveConnection(conn)
		}
	}); err != nil {
		log.Fatalf("failed to subscribe to ban events: %v", err)
	}

	// --- REST API ---
	api := httpapi.NewHandler(httpapi.HandlerConfig{
		Store:    store,
		Tokens:   tokens,
		Sender:   svc,
		Uploader: uploader,
		Limiter:  limiter,
		Bans:     bans,
		LastSeen: lastSeen,
		Secure:   os.Getenv("COOKIE_SECURE") == "true",
	})
	server.Handle("/api/", api.Mux())
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
