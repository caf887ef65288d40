package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaychat/chat-app/internal/ban"
	"github.com/relaychat/chat-app/internal/history"
	"github.com/relaychat/chat-app/internal/messaging"
	"github.com/relaychat/chat-app/internal/metrics"
	"github.com/relaychat/chat-app/internal/moderation"
	"github.com/relaychat/chat-app/internal/storage"
)

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log.Println("Starting Relay moderation service...")

	// --- Redis ---
	redisAddr := envStr("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
	}
	bans := ban.NewStore(rdb)

	// --- Postgres ---
	dbConfig := storage.DefaultConfig()
	dbConfig.Host = envStr("DB_HOST", dbConfig.Host)
	dbConfig.User = envStr("DB_USER", dbConfig.User)
	dbConfig.Password = envStr("DB_PASSWORD", dbConfig.Password)
	dbConfig.Database = envStr("DB_NAME", dbConfig.Database)
	dbConfig.SSLMode = envStr("DB_SSLMODE", dbConfig.SSLMode)

	store, err := storage.Open(dbConfig)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = envStr("NATS_URL", natsConfig.URL)
	natsConfig.Name = "relay-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	filter := moderation.NewFilter()
	buffer := history.NewBuffer()

	// Every persisted message flows through here. Messages are already
	// delivered; a hit records a flag with surrounding context, and repeat
	// offenders are banned.
	err = natsClient.SubscribeMessagePersisted(func(data []byte) {
		var evt messaging.MessagePersistedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("[moderator] failed to unmarshal event: %v", err)
			return
		}

		key := history.ConversationKey(evt.SenderID, evt.ReceiverID)
		buffer.Add(key, history.Entry{SenderID: evt.SenderID, Text: evt.Text, Ts: evt.Ts})

		if evt.Text == "" {
			return // image-only message, nothing to screen
		}

		result := filter.Check(evt.Text)
		if !result.Blocked {
			return
		}

		log.Printf("[moderator] FLAGGED message=%s sender=%s reason=%s term=%q",
			evt.MessageID, evt.SenderID, result.Reason, result.Term)
		metrics.FlaggedMessages.WithLabelValues(result.Reason).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		flagContext := make([]storage.FlagContextEntry, 0, history.MaxBufferMessages)
		for _, e := range buffer.Get(key) {
			flagContext = append(flagContext, storage.FlagContextEntry{
				SenderID: e.SenderID,
				Text:     e.Text,
				Ts:       e.Ts,
			})
		}

		if err := store.CreateFlag(ctx, &storage.Flag{
			MessageID:  evt.MessageID,
			SenderID:   evt.SenderID,
			ReceiverID: evt.ReceiverID,
			Reason:     result.Reason,
			Term:       result.Term,
			Context:    flagContext,
		}); err != nil {
			log.Printf("[moderator] recording flag: %v", err)
		}

		flags, err := store.CountRecentFlags(ctx, evt.SenderID, ban.FlagWindow)
		if err != nil {
			log.Printf("[moderator] counting flags for %s: %v", evt.SenderID, err)
			return
		}
		if flags < ban.AutoBanThreshold {
			return
		}
		if banned, _, _ := bans.IsBanned(ctx, evt.SenderID); banned {
			return // already serving a ban for this window
		}

		duration, err := bans.Ban(ctx, evt.SenderID)
		if err != nil {
			log.Printf("[moderator] banning %s: %v", evt.SenderID, err)
			return
		}

		banData, err := json.Marshal(messaging.UserBannedEvent{
			UserID:          evt.SenderID,
			Reason:          result.Reason,
			DurationSeconds: int64(duration.Seconds()),
		})
		if err != nil {
			return
		}
		if err := natsClient.PublishUserBanned(banData); err != nil {
			log.Printf("[moderator] publishing ban for %s: %v", evt.SenderID, err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to persisted messages: %v", err)
	}

	// Expose flag/ban counters for scraping.
	metricsAddr := envStr("METRICS_ADDR", ":9091")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[moderator] metrics server: %v", err)
		}
	}()

	log.Printf("Relay moderation service running")
	log.Printf("  redis_addr:   %s", redisAddr)
	log.Printf("  nats_url:     %s", natsConfig.URL)
	log.Printf("  postgres:     %s:%d/%s", dbConfig.Host, dbConfig.Port, dbConfig.Database)
	log.Printf("  metrics_addr: %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	store.Close()
	rdb.Close()
}
