package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-client/internal/api"
	"chat-client/internal/chat"
	"chat-client/internal/config"
	"chat-client/internal/db"
	"chat-client/internal/handlers"
	"chat-client/internal/logging"
	"chat-client/internal/notifications"
	"chat-client/internal/presence"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/realtime"
	"chat-client/internal/reconcile"
	"chat-client/internal/repositories"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/tracing"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.L()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	closeLog, err := logging.Init(cfg.Log)
	if err != nil {
		boot := logging.L()
		boot.Fatal().Err(err).Msg("failed to init logging")
	}
	defer closeLog()
	log := logging.L()
	service := cfg.Log.ServiceName

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, service, cfg.Environment, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	store, closeStore := openSessionStore(cfg.Session, log)
	defer closeStore()
	manager := session.NewManager(store)

	userID := cfg.Chat.UserID
	if userID == 0 {
		user, err := manager.CurrentUser(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("no logged in user; set USER_ID or log in first")
		}
		userID = user.ID
	}
	log = log.With().Int(logging.FieldUserID, userID).Logger()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer publisher.Close()
	emitter := telemetry.NewEmitter(publisher, "client", service, cfg.Environment, log)

	client := api.NewClient(api.Config{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		RefreshSkew: cfg.API.RefreshSkew,
	}, manager, log)

	socket := realtime.New(cfg.Socket, manager, emitter, log)
	client.OnSessionExpired(func() {
		emitter.Emit(context.Background(), telemetry.EventSessionExpired, userID, nil)
		socket.Close()
	})

	var (
		fetcher  reconcile.Fetcher = client
		recorder chat.Recorder
	)
	if cfg.Archive.DSN != "" {
		database, err := db.Connect(ctx, cfg.Archive.DSN, log)
		if err != nil {
			log.Warn().Err(err).Msg("message archive disabled")
		} else {
			defer database.Close()
			archived := repositories.NewArchivedFetcher(client, repositories.NewMessageRepo(database), log)
			fetcher, recorder = archived, archived
		}
	}

	engine := reconcile.NewEngine(fetcher, cfg.Chat.StaleAfter, log)
	defer engine.Close()
	tracker := presence.NewTracker(userID, cfg.Chat.TypingTimeout, log)
	defer tracker.Close()

	window := chat.NewWindow(chat.WindowDeps{
		Session:    socket,
		Engine:     engine,
		Tracker:    tracker,
		API:        client,
		Recorder:   recorder,
		Emitter:    emitter,
		UserID:     userID,
		TypingIdle: cfg.Chat.TypingIdle,
		Log:        log,
	})
	defer window.Close()

	chats := chat.NewChatList(socket, client, userID, log)
	defer chats.Close()

	notifier := notifications.NewService(client, cfg.Notifications.PollInterval, log)

	socket.Connect(userID)
	defer socket.Close()

	if err := chats.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("chat list refresh failed")
	}
	if _, err := notifier.Fetch(ctx, cfg.Notifications.PageSize, 0); err != nil {
		log.Warn().Err(err).Msg("notifications fetch failed")
	}
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("notification polling stopped")
		}
	}()

	if cfg.Chat.OpenChatID != 0 {
		if err := window.Open(ctx, cfg.Chat.OpenChatID); err != nil {
			log.Warn().Err(err).Int(logging.FieldChatID, cfg.Chat.OpenChatID).Msg("open chat failed")
		}
	}

	var server *http.Server
	if cfg.Debug.Enabled {
		gin.SetMode(gin.ReleaseMode)
		handler := handlers.NewDebugHandler(socket, window, tracker, chats, notifier, manager)
		server = &http.Server{
			Addr:              cfg.Debug.Addr,
			Handler:           handlers.NewRouter(handler, service, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Debug.Addr).Msg("debug api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("debug api stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("debug api shutdown")
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}

func openSessionStore(cfg config.SessionConfig, log zerolog.Logger) (session.Store, func()) {
	if cfg.Backend == "redis" {
		store, err := session.NewRedisStore(session.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open redis session store")
		}
		return store, func() { _ = store.Close() }
	}
	return session.NewFileStore(cfg.File), func() {}
}
