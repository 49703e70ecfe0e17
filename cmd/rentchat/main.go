package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	appoutbox "rentchat/internal/app/outbox"
	authsvc "rentchat/internal/app/services/auth"
	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/broker/kafka"
	"rentchat/internal/infra/config"
	mongodb "rentchat/internal/infra/db/mongo"
	"rentchat/internal/infra/db/postgres"
	"rentchat/internal/infra/db/scylla"
	"rentchat/internal/infra/fixtures"
	"rentchat/internal/infra/grpc/messagingrpc"
	ginserver "rentchat/internal/infra/http/gin"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/outbox"
	"rentchat/internal/infra/realtime/gateway"
	"rentchat/internal/infra/security"
	"rentchat/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLoggerTo(os.Stdout, cfg.Env, obs.ParseLevel(cfg.LogLevel))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("rentchat stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("rentchat stopped")
}

// backend bundles the durable stores selected by STORE_DRIVER.
type backend struct {
	conversations domainchat.ConversationStore
	messages      domainchat.MessageStore
	ledger        chatsvc.SendLedger
	outbox        interface {
		appoutbox.Outbox
		appoutbox.Queue
	}
	checks  []obs.Check
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics := obs.NewMetrics()

	users := memory.NewUserDirectory()
	listingDir := memory.NewListingDirectory()
	auth := &authsvc.Service{
		Users:      users,
		Sessions:   memory.NewSessionStore(),
		Tokens:     security.RandomTokenGenerator{Prefix: "rc_"},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}
	if err := seedCollaborators(ctx, cfg, users, listingDir, auth, logger); err != nil {
		return err
	}

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	chat := &chatsvc.Service{
		Conversations: store.conversations,
		Messages:      store.messages,
		Users:         users,
		Listings:      listingDir,
		Ledger:        store.ledger,
		Outbox:        store.outbox,
		Observer:      metrics,
		Logger:        logger,
	}

	producer, closeProducer, err := newProducer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProducer()
	worker := &outbox.Worker{
		Store:       store.outbox,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      "app://rentchat",
		Backoff:     cfg.RetryBackoff,
		Observer:    metrics,
		Logger:      logger,
	}

	gwOpts := gateway.OptionsFromConfig(cfg)
	gwOpts.Conversations = store.conversations
	gw := gateway.New(gateway.NewRegistry(), auth, gwOpts, logger, metrics)
	httpServer := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: store.checks}, ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Messaging: chat, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Service: auth, Logger: logger}.Handle,
		Realtime:       gw,
		Metrics:        metrics.Handler(),
	})

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(messagingrpc.UnaryAuthInterceptor(auth, logger)))
	messagingrpc.RegisterMessagingServer(grpcServer, &messagingrpc.Server{Messaging: chat, Logger: logger})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server starting", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		logger.Info("shutting down grpc server")
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

func seedCollaborators(ctx context.Context, cfg config.Config, users *memory.UserDirectory, listingDir *memory.ListingDirectory, auth *authsvc.Service, logger *slog.Logger) error {
	path := cfg.FixturesPath
	if path == "" {
		path = fixtures.DefaultPath()
	}
	file := fixtures.Demo()
	if path != "" {
		loaded, err := fixtures.Load(path)
		if err != nil {
			return fmt.Errorf("load fixtures %s: %w", path, err)
		}
		if len(loaded.Users) > 0 {
			file = loaded
		}
	}
	if err := file.Seed(ctx, users, listingDir, auth, logger); err != nil {
		return fmt.Errorf("seed fixtures: %w", err)
	}
	logger.Info("fixtures seeded", "path", path, "users", len(file.Users), "listings", len(file.Listings), "sessions", len(file.Sessions))
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		})
		if err := client.EnsureIndexes(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		b.conversations = mongodb.NewConversationStore(client.DB)
		b.messages = mongodb.NewMessageStore(client.DB)
		b.ledger = mongodb.NewSendLedger(client.DB)
		b.outbox = outbox.NewStore(client.DB)
		b.checks = append(b.checks, obs.Check{Name: "mongo", Probe: client.Ping})
	case config.DriverScylla:
		session, err := scylla.NewSession(cfg, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, session.Close)
		b.conversations = scylla.NewConversationStore(session, logger)
		b.messages = scylla.NewMessageStore(session)
		b.ledger = scylla.NewSendLedger(session)
		b.outbox = scylla.NewOutbox(session)
		b.checks = append(b.checks, obs.Check{Name: "scylla", Probe: func(ctx context.Context) error {
			return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		}})
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.conversations = postgres.NewConversationStore(pool)
		b.messages = postgres.NewMessageStore(pool)
		b.ledger = postgres.NewSendLedger(pool)
		b.outbox = postgres.NewOutbox(pool)
		b.checks = append(b.checks, obs.Check{Name: "postgres", Probe: pool.Ping})
	default:
		b.conversations = memory.NewConversationStore()
		b.messages = memory.NewMessageStore()
		b.ledger = memory.NewSendLedger()
		b.outbox = memory.NewOutbox()
	}
	logger.Info("store ready", "driver", cfg.StoreDriver)
	return b, nil
}

func newProducer(cfg config.Config, logger *slog.Logger) (outbox.Producer, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("no kafka brokers configured, outbox events are logged only")
		return outbox.LogProducer{Logger: logger}, func() {}, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.NewConfig("rentchat"), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
	}, nil
}
