package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"heartlink/backend/internal/api/handler"
	"heartlink/backend/internal/chathub"
	"heartlink/backend/internal/config"
	"heartlink/backend/internal/localization"
	"heartlink/backend/internal/notify"
	"heartlink/backend/internal/pairing"
	"heartlink/backend/internal/storage"
	"heartlink/backend/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
)

func setupPresence(ctx context.Context, cfg *config.Config) storage.Presence {
	if cfg.RedisURL == "" {
		log.Println("WARNING: REDIS_URL not set, device presence is kept in memory")
		return storage.NewMemoryPresence(config.DeviceOnlineWindow)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}
	log.Println("Redis connection established.")
	return storage.NewRedisPresence(rdb, config.DeviceOnlineWindow)
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization")
	return c
}

func startTelegram(ctx context.Context, cfg *config.Config, svc *pairing.Service, store storage.Storage) {
	if cfg.TelegramBotToken == "" {
		log.Println("INFO: TELEGRAM_BOT_TOKEN not set, notifications disabled")
		return
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Printf("ERROR: Telegram bot not started: %v", err)
		return
	}
	log.Printf("Authorized on Telegram account %s", bot.Self.UserName)

	localizer, err := localization.NewBundledLocalizer()
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}

	notifier := notify.NewTelegramNotifier(bot, store, localizer, 256)
	svc.Subscribe(notifier)
	go notifier.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	secret := []byte(cfg.JWTSecret)
	resolve := func(token string) (string, error) { return handler.ParseToken(secret, token) }
	go notify.ServeUpdates(ctx, bot.GetUpdatesChan(u), store, resolve, bot, localizer)
}

func startExpiryWorker(cfg *config.Config, svc *pairing.Service) func() {
	if !cfg.ExpiryWorkerEnabled {
		return func() {}
	}
	client, err := worker.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create asynq client: %v", err)
	}
	scheduler := worker.NewExpiryScheduler(client, svc)
	svc.Subscribe(scheduler)

	srv, mux, err := worker.NewServer(cfg.RedisURL, scheduler)
	if err != nil {
		log.Fatalf("Failed to create asynq server: %v", err)
	}
	if err := srv.Start(mux); err != nil {
		log.Fatalf("Failed to start expiry worker: %v", err)
	}
	log.Println("Expiry worker started.")
	return func() {
		srv.Shutdown()
		client.Close()
	}
}

func main() {
	log.Println("Starting HeartLink Backend...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	store, err := storage.Open(cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	presence := setupPresence(ctx, cfg)

	// 2. Pairing core and relay
	svc := pairing.NewService(store, cfg.SessionTTL)
	hub := chathub.NewManagerService()
	hub.Sessions = store
	svc.Subscribe(hub)
	if err := hub.RecoverRelayLinks(ctx); err != nil {
		log.Printf("WARNING: relay links not recovered: %v", err)
	}

	persister := chathub.NewPersister(store, presence, cfg.PersistQueueSize)
	persister.Start(ctx, cfg.PersistWorkers)
	dispatcher := chathub.NewDispatcher(hub, store, persister)
	hub.OnConnect = dispatcher.Connected
	hub.OnDisconnect = dispatcher.Disconnected
	go hub.Run(ctx)

	// 3. Optional collaborators
	startTelegram(ctx, cfg, svc, store)
	stopWorker := startExpiryWorker(cfg, svc)
	defer stopWorker()

	// 4. HTTP
	r := gin.Default()
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	h := handler.NewHandler(svc, store, presence, hub, dispatcher, cfg.JWTSecret, cfg.RelaySendBuffer)
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("Listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: graceful shutdown failed: %v", err)
	}
	persister.Wait()
}
