package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/newcloud/newcloud/pkg/accounts"
	"github.com/newcloud/newcloud/pkg/auth"
	"github.com/newcloud/newcloud/pkg/config"
	"github.com/newcloud/newcloud/pkg/httputil"
	"github.com/newcloud/newcloud/pkg/middleware"
	"github.com/newcloud/newcloud/pkg/observability"
	"github.com/newcloud/newcloud/pkg/storage"
	"github.com/newcloud/newcloud/pkg/teams"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)
	logger.Info("Starting newcloud backend")

	db, err := openDatabase(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := accounts.RunMigrations(migrateCtx, db); err != nil {
		cancelMigrate()
		logrus.Fatalf("Failed to run migrations: %v", err)
	}
	cancelMigrate()
	logger.Info("Database migrations applied")

	var redisClient *redis.Client
	var revocations *auth.RevocationList
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancelPing()
			logrus.Fatalf("Failed to connect to redis: %v", err)
		}
		cancelPing()
		revocations = auth.NewRevocationList(redisClient, cfg.Auth.TokenTTL)
		logger.Info("Token revocation list enabled")
	} else {
		logger.Warn("Redis not configured; token revocation disabled")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logrus.Fatalf("Failed to create token service: %v", err)
	}

	avatars, err := storage.NewAvatarStore(cfg.Storage)
	if err != nil {
		logrus.Fatalf("Failed to create avatar store: %v", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	accountStore := accounts.NewPostgresStore(db)
	teamStore := teams.NewPostgresStore(db)

	gate := middleware.NewAuthGate(tokens, revocations)
	rolePolicy := middleware.NewRolePolicy(
		accountStore,
		[]string{accounts.RoleSiteAdmin, accounts.RoleApplicationAdmin},
		[]string{accounts.RoleSiteAdmin},
	)
	teamPolicy := middleware.NewTeamPolicy(teamStore)

	accountHandlers := accounts.NewHandlers(accounts.HandlersConfig{
		Store:       accountStore,
		Tokens:      tokens,
		Revocations: revocations,
		Avatars:     avatars,
		Metrics:     metrics,
		BcryptCost:  cfg.Auth.BcryptCost,
		Development: cfg.Development,
	})
	teamHandlers := teams.NewHandlers(teamStore, cfg.Development)

	router := mux.NewRouter()
	accountHandlers.RegisterRoutes(router, gate, rolePolicy)
	teamHandlers.RegisterRoutes(router, gate, teamPolicy)

	if fs, ok := avatars.(*storage.FilesystemStore); ok {
		router.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(fs.Root()))),
		)
	}

	chain := []httputil.Middleware{
		httputil.Recovery(logger),
		httputil.Logging(logger),
		httputil.CORS(cfg.Server.AllowedOrigins),
		httputil.MaxBytes(cfg.Server.MaxBodyBytes),
	}
	var handler http.Handler = router
	if metrics != nil {
		handler = metrics.Middleware(handler)
	}
	handler = httputil.Chain(handler, chain...)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, db, redisClient, metrics)

	stopStats := make(chan struct{})
	if metrics != nil {
		metrics.CollectDBStats(db, 15*time.Second, stopStats)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		close(stopStats)
		if redisClient != nil {
			return redisClient.Close()
		}
		return nil
	})

	go func() {
		logger.Infof("Health server listening on :%s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Health server failed: %v", err)
		}
	}()

	go func() {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("API server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logrus.Fatalf("Shutdown error: %v", err)
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.Database.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient)

	healthMux := mux.NewRouter()
	healthMux.HandleFunc("/healthz", checker.Liveness).Methods("GET")
	healthMux.HandleFunc("/readyz", checker.Readiness).Methods("GET")
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
}
