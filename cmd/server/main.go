package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"marketchat/internal/auth"
	"marketchat/internal/cache"
	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/database"
	"marketchat/internal/handlers"
	"marketchat/internal/middleware"
	"marketchat/internal/notify"
	"marketchat/internal/ratelimit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("starting marketchat server")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	if err := database.RunMigrations(db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize Redis
	redisClient, err := cache.InitRedis(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to init Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("connected to Redis")

	store := database.NewStore(db)
	recent := cache.NewRecentMessages(redisClient, cfg.RecentCacheTTL, cache.MaxEntries)

	chatSvc := chat.NewService(store, store, store, recent, cfg.AssetOrigin, cfg.Location())

	hub := chat.NewHub()
	go hub.Run()

	// Entering a room marks the backlog read; the join callback keeps
	// that off the registry's lock path.
	registry := chat.NewRegistry(func(roomID, userID int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := chatSvc.MarkMessagesAsRead(ctx, roomID, userID)
		if err != nil {
			slog.Warn("failed to mark messages read on join", "room_id", roomID, "user_id", userID, "error", err)
			return
		}
		if n > 0 {
			slog.Info("marked messages read on join", "room_id", roomID, "user_id", userID, "count", n)
		}
	})

	gateway := notify.NewHTTPGateway(cfg.PushGatewayURL)
	notifySvc := notify.NewService(store, store, store, registry, hub, gateway, cfg.Location(), cfg.PushWait)

	limiter := ratelimit.New()

	// Periodic sweep of idle connections and cold limiter buckets.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if n := registry.Sweep(cfg.ConnMaxIdle); n > 0 {
				slog.Info("swept idle connections", "count", n)
			}
			if n := limiter.Sweep(cfg.ConnMaxIdle); n > 0 {
				slog.Info("swept idle rate buckets", "count", n)
			}
		}
	}()

	rlAuth := middleware.RateLimit(limiter, ratelimit.ClassAuth)
	rlPost := middleware.RateLimit(limiter, ratelimit.ClassPost)
	rlGeneral := middleware.RateLimit(limiter, ratelimit.ClassGeneral)

	// Set up router
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(cfg.CORSOrigin))

	// Public routes
	router.HandleFunc("/health", handlers.Health).Methods("GET", "OPTIONS")
	router.Handle("/api/auth/register", rlAuth(auth.RegisterHandler(store, cfg.JWTSecret))).Methods("POST", "OPTIONS")
	router.Handle("/api/auth/login", rlAuth(auth.LoginHandler(store, cfg.JWTSecret))).Methods("POST", "OPTIONS")

	// WebSocket
	router.HandleFunc("/ws", chat.ServeWS(chat.WSDeps{
		Hub:       hub,
		Registry:  registry,
		Service:   chatSvc,
		Notifier:  notifySvc,
		Limiter:   limiter,
		JWTSecret: cfg.JWTSecret,
	})).Methods("GET")

	// Protected routes
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.Handle("/auth/me", rlGeneral(auth.MeHandler(store))).Methods("GET")
	protected.Handle("/users/push-token", rlGeneral(handlers.UpdatePushToken(store))).Methods("PUT")
	protected.Handle("/posts", rlPost(handlers.CreatePost(store))).Methods("POST")
	protected.Handle("/rooms", rlGeneral(handlers.ListRooms(store))).Methods("GET")
	protected.Handle("/rooms", rlGeneral(handlers.StartConversation(store))).Methods("POST")
	protected.Handle("/rooms/{id}/leave", rlGeneral(handlers.LeaveRoom(store))).Methods("DELETE")
	protected.Handle("/rooms/{id}/messages", rlGeneral(handlers.GetMessages(store, chatSvc))).Methods("GET")
	protected.Handle("/notifications", rlGeneral(handlers.ListNotifications(notifySvc))).Methods("GET")
	protected.Handle("/notifications/read", rlGeneral(handlers.MarkNotificationsRead(notifySvc))).Methods("POST")

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
