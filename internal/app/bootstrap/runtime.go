package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/RayanAndish/GoldACC-sub003/internal/adapters/cache"
	eventadapter "github.com/RayanAndish/GoldACC-sub003/internal/adapters/events"
	grpcadapter "github.com/RayanAndish/GoldACC-sub003/internal/adapters/grpc"
	httpadapter "github.com/RayanAndish/GoldACC-sub003/internal/adapters/http"
	"github.com/RayanAndish/GoldACC-sub003/internal/adapters/memory"
	"github.com/RayanAndish/GoldACC-sub003/internal/adapters/postgres"
	"github.com/RayanAndish/GoldACC-sub003/internal/adapters/security"
	"github.com/RayanAndish/GoldACC-sub003/internal/application"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

// storage is the set of persistence ports chosen by STORAGE_DRIVER.
type storage struct {
	systems    ports.SystemRepository
	licenses   ports.LicenseRepository
	outbox     ports.OutboxRepository
	challenges ports.ChallengeStore
	abuse      ports.AbuseStore
	ready      func(ctx context.Context) error
	closers    []io.Closer
}

func (s storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewRuntime wires configuration, storage, key material and both servers.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := NewLogger()
	slog.SetDefault(logger)
	logger.Info("bootstrapping license activation service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
	)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := buildService(ctx, cfg, logger, store)
	if err != nil {
		store.close()
		return nil, err
	}

	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		store.close()
		return nil, err
	}
	handler := httpadapter.NewHandler(svc, httpadapter.Options{
		Metrics:        httpadapter.NewMetrics(nil),
		GlobalRPS:      cfg.GlobalRPS,
		GlobalBurst:    cfg.GlobalBurst,
		TrustedProxies: trustedProxies,
		Ready:          store.ready,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewLicenseInternalServer(svc.StatusSigner()))

	publisher, closePublisher, err := buildPublisher(cfg, logger)
	if err != nil {
		store.close()
		return nil, err
	}
	outbox := eventadapter.NewOutboxWorker(
		logger,
		store.outbox,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		httpServer: httpServer,
		grpcServer: grpcServer,
		outbox:     outbox,
		cleanupFn: func(context.Context) {
			closePublisher()
			store.close()
		},
	}, nil
}

func openStorage(ctx context.Context, cfg Config) (storage, error) {
	if cfg.StorageDriver == StorageDriverMemory {
		mem := memory.NewStore()
		return storage{
			systems:    mem.Systems(),
			licenses:   mem.Licenses(),
			outbox:     mem.Outbox(),
			challenges: memory.NewChallengeStore(nil),
			abuse:      memory.NewAbuseStore(nil),
			ready:      func(context.Context) error { return nil },
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return storage{}, fmt.Errorf("gorm sql db: %w", err)
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = sqlDB.Close()
		return storage{}, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return storage{}, fmt.Errorf("connect redis: %w", err)
	}

	repos := postgres.NewRepositories(db)
	return storage{
		systems:    repos.Systems,
		licenses:   repos.Licenses,
		outbox:     repos.Outbox,
		challenges: cacheadapter.NewRedisChallengeStore(redisClient),
		abuse:      cacheadapter.NewRedisAbuseStore(redisClient),
		ready: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		closers: []io.Closer{sqlDB, redisClient},
	}, nil
}

func buildService(ctx context.Context, cfg Config, logger *slog.Logger, store storage) (*application.Service, error) {
	secret := cfg.HandshakeSecret
	if cfg.VaultAddr != "" && cfg.VaultSecretPath != "" {
		loaded, err := security.LoadVaultSecret(ctx, security.VaultConfig{
			Address: cfg.VaultAddr,
			Token:   cfg.VaultToken,
			Path:    cfg.VaultSecretPath,
			Field:   cfg.VaultSecretField,
		})
		if err != nil {
			return nil, fmt.Errorf("load handshake secret: %w", err)
		}
		secret = loaded
		logger.Info("handshake secret loaded from vault", "path", cfg.VaultSecretPath)
	}
	secrets, err := security.NewSecretStore(secret, cfg.PBKDF2Iterations)
	if err != nil {
		return nil, err
	}

	var sealer *security.AgeSealer
	if cfg.AgeIdentity != "" {
		sealer, err = security.NewAgeSealer(cfg.AgeIdentity)
	} else {
		// Secrets sealed with a throwaway identity do not survive a restart.
		logger.Warn("using ephemeral age identity; registered API secrets are lost on restart")
		sealer, err = security.NewEphemeralAgeSealer()
	}
	if err != nil {
		return nil, fmt.Errorf("init secret sealer: %w", err)
	}

	signer, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralKeys {
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		signer, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID)
		if err != nil {
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}

	return application.NewService(application.Dependencies{
		Config:       cfg.Application(),
		Systems:      store.systems,
		Licenses:     store.licenses,
		Challenges:   store.challenges,
		Abuse:        store.abuse,
		Secrets:      secrets,
		Sealer:       sealer,
		StatusSigner: signer,
	}), nil
}

func buildPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(logger), func() {}, nil
	}
	kafka, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
	if err != nil {
		return nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return kafka, func() { _ = kafka.Close() }, nil
}

// Service exposes the wired use-case layer for the admin CLI.
func (r *Runtime) Service() *application.Service {
	return r.service
}

// Close releases storage and publisher resources without serving.
func (r *Runtime) Close() {
	r.cleanupFn(context.Background())
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}
	r.grpcLis = lis

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	// The in-memory outbox is only visible to this process.
	if r.cfg.StorageDriver == StorageDriverMemory {
		go func() {
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	if r.cfg.StorageDriver == StorageDriverMemory {
		r.cleanupFn(ctx)
		return errors.New("the outbox worker needs STORAGE_DRIVER=postgres; the memory driver runs it inside the api")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
