package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/channel"
	"github.com/forgo/queuedesk/internal/config"
	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/discord"
	"github.com/forgo/queuedesk/internal/handler"
	"github.com/forgo/queuedesk/internal/jobs"
	"github.com/forgo/queuedesk/internal/messaging"
	"github.com/forgo/queuedesk/internal/middleware"
	"github.com/forgo/queuedesk/internal/obs"
	"github.com/forgo/queuedesk/internal/repository"
	"github.com/forgo/queuedesk/internal/service"
	"github.com/forgo/queuedesk/internal/storage/memory"
	"github.com/forgo/queuedesk/internal/storage/sqlite"
	"github.com/forgo/queuedesk/pkg/jwt"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Initialize structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	profiles, err := config.LoadProfiles(cfg.Policy.ProfilesPath, cfg.DefaultPolicy())
	if err != nil {
		slog.Error("invalid community profiles", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	shutdownTracer, err := obs.InitTracer(ctx, obs.Config{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		Version:     version,
		Environment: cfg.Server.Env,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Persistent store
	store, pinger, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to open store", slog.String("driver", cfg.Store.Driver), slog.String("error", err.Error()))
		os.Exit(1)
	}
	store = service.BoundStore(store, cfg.Store.OpTimeout)

	// Initialize JWT service
	jwtService, err := jwt.NewService(jwt.Config{
		PrivateKeyPath: cfg.JWT.PrivateKeyPath,
		PublicKeyPath:  cfg.JWT.PublicKeyPath,
		Issuer:         cfg.JWT.Issuer,
		ExpirationMins: cfg.JWT.ExpirationMins,
	})
	if err != nil {
		slog.Error("failed to initialize JWT service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Instruction publishers
	hub := service.NewInstructionHub(cfg.Server.StreamHeartbeat)
	publishers := service.MultiPublisher{hub}

	var amqpPublisher *messaging.Publisher
	if cfg.AMQP.URL != "" {
		amqpPublisher, err = messaging.NewPublisher(cfg.AMQP.URL, cfg.AMQP.InstructionExchange, cfg.AMQP.ContentType)
		if err != nil {
			slog.Error("failed to connect instruction publisher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		publishers = append(publishers, amqpPublisher)
	}

	// Chat platform collaborators
	var (
		authorizer service.Authorizer
		channels   service.ChannelProvider
		session    *discordgo.Session
	)
	if cfg.Discord.Token != "" {
		session, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			slog.Error("failed to create discord session", slog.String("error", err.Error()))
			os.Exit(1)
		}
		session.Identify.Intents = discordgo.IntentGuilds |
			discordgo.IntentGuildMessages |
			discordgo.IntentMessageContent
		authorizer = discord.NewAuthorizer(session, profiles)
		channels = discord.NewChannels(session, cfg.Discord.TicketCategory)
		publishers = append(publishers, discord.NewApplier(session, logger))
	} else {
		registry := channel.NewRegistry(logger)
		authorizer = service.RosterAuthorizer{Policies: profiles}
		channels = registry
		publishers = append(publishers, registry)
	}

	// Controller
	scheduler := service.NewScheduler(service.SchedulerConfig{
		Logger:      logger,
		TaskTimeout: cfg.Dispatch.TaskTimeout,
	})
	tickets := service.NewTicketService(service.TicketServiceConfig{
		Store:      store,
		Authorizer: authorizer,
		Channels:   channels,
		Policies:   profiles,
		Scheduler:  scheduler,
		Logger:     logger,
	})
	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		Tickets:     tickets,
		Publisher:   publishers,
		Logger:      logger,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff:     cfg.Dispatch.RetryBackoff,
	})
	scheduler.Bind(dispatcher)

	// Inbound adapters
	if session != nil {
		discord.NewRouter(dispatcher, session, logger, cfg.Dispatch.TaskTimeout).Register(session)
		if err := session.Open(); err != nil {
			slog.Error("failed to open discord gateway", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("connected to discord gateway")
	}

	var consumer *messaging.Consumer
	if cfg.AMQP.URL != "" {
		consumer, err = messaging.NewConsumer(messaging.ConsumerConfig{
			URL:                cfg.AMQP.URL,
			Exchange:           cfg.AMQP.EventExchange,
			Queue:              cfg.AMQP.EventQueue,
			DeadLetterExchange: cfg.AMQP.DeadLetterExchange,
			Prefetch:           cfg.AMQP.Prefetch,
		}, dispatcher, logger)
		if err != nil {
			slog.Error("failed to start event consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("event consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// Start background jobs
	sweeper := jobs.NewTicketTimeoutProcessor(jobs.TicketTimeoutConfig{
		Tickets:     store.Tickets,
		Dispatcher:  dispatcher,
		Logger:      logger,
		IdleTimeout: cfg.Policy.IdleTimeout,
		Interval:    cfg.Policy.SweepInterval,
	})
	sweeper.Start()

	// Per-route protection: rate limits and idempotency keys are scoped to
	// the actor and community, so both must be resolved first
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Rate:   cfg.Server.RateLimit,
		Window: cfg.Server.RateWindow,
	})
	idempotencyStore := middleware.NewIdempotencyStore(middleware.IdempotencyConfig{
		TTL: cfg.Server.IdempotencyTTL,
	})
	protect := func(next http.Handler) http.Handler {
		return middleware.Chain(next,
			middleware.Auth(jwtService),
			middleware.CommunityAccess,
			middleware.RateLimit(rateLimiter),
			middleware.Idempotency(idempotencyStore),
		)
	}

	mux := http.NewServeMux()
	handler.NewHealthHandler(pinger).RegisterRoutes(mux)
	handler.NewCommunityHandler(dispatcher, tickets).RegisterRoutes(mux, protect)
	handler.NewTicketHandler(dispatcher, tickets).RegisterRoutes(mux, protect)
	handler.NewStreamHandler(hub).RegisterRoutes(mux, protect)

	// Apply global middleware
	wrapped := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.Compress,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.Server.Env),
			slog.String("store", cfg.Store.Driver),
			slog.String("evidence_policy", string(cfg.Policy.EvidencePolicy)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop intake first, then timers, then outbound connections
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	stop()
	if consumer != nil {
		_ = consumer.Close()
	}
	if session != nil {
		_ = session.Close()
	}
	sweeper.Stop()
	scheduler.Stop()
	rateLimiter.Stop()
	idempotencyStore.Stop()
	if amqpPublisher != nil {
		_ = amqpPublisher.Close()
	}
	if err := closeStore(); err != nil {
		slog.Error("failed to close store", slog.String("error", err.Error()))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", slog.String("error", err.Error()))
	}

	slog.Info("server exited")
}

// openStore connects the configured backend. The pinger is nil for the
// memory backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.Store, handler.Pinger, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverSurrealDB:
		db := database.NewSurrealDB(database.Config{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			Namespace:      cfg.Database.Namespace,
			Database:       cfg.Database.Database,
			ConnectTimeout: cfg.Store.OpTimeout,
		})
		if err := db.Connect(ctx); err != nil {
			return service.Store{}, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("connected to database",
			slog.String("host", cfg.Database.Host),
			slog.String("database", cfg.Database.Database),
		)
		return service.Store{
			Tickets:     repository.NewTicketRepository(db),
			Identifiers: repository.NewIdentifierRepository(db),
			Settings:    repository.NewSettingsRepository(db),
			Duty:        repository.NewDutyRepository(db),
		}, db, db.Close, nil

	case config.DriverSQLite:
		pool, err := sqlite.OpenPool(sqlite.PoolConfig{Path: cfg.Store.SQLitePath, Logger: logger})
		if err != nil {
			return service.Store{}, nil, nil, err
		}
		slog.Info("opened sqlite store", slog.String("path", cfg.Store.SQLitePath))
		s := sqlite.New(pool)
		return service.Store{
			Tickets:     s.Tickets(),
			Identifiers: s.Identifiers(),
			Settings:    s.Settings(),
			Duty:        s.Duty(),
		}, pool, pool.Close, nil

	default:
		slog.Warn("using in-memory store, state is lost on restart")
		db := memory.New()
		return service.Store{
			Tickets:     db.Tickets(),
			Identifiers: db.Identifiers(),
			Settings:    db.Settings(),
			Duty:        db.Duty(),
		}, nil, func() error { return nil }, nil
	}
}
