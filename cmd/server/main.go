package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"viabill-be/internal/admin"
	"viabill-be/internal/callback"
	"viabill-be/internal/config"
	"viabill-be/internal/db"
	"viabill-be/internal/events"
	"viabill-be/internal/lock"
	"viabill-be/internal/logger"
	"viabill-be/internal/metrics"
	"viabill-be/internal/middleware"
	"viabill-be/internal/order"
	"viabill-be/internal/payment"
	"viabill-be/internal/telemetry"
	"viabill-be/internal/user"
	"viabill-be/internal/viabill"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const minLockTTL = 30 * time.Second

// lockTTL keeps a transaction lock alive across a gateway call that runs
// to the full client timeout.
func lockTTL(timeout time.Duration) time.Duration {
	return max(2*timeout+5*time.Second, minLockTTL)
}

var (
	initDBFunc      = db.InitDB
	startServerFunc = func(addr string, handler http.Handler) error {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return srv.ListenAndServe()
	}
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("Server stopped", zap.Error(err))
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, "viabill-be", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	database := initDBFunc(cfg)
	defer database.Close()

	handler, cleanup, err := newServer(cfg, database)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.L().Info("HTTP server running", zap.String("port", cfg.AppPort))
	return startServerFunc(":"+cfg.AppPort, handler)
}

// newServer wires the service graph. cleanup closes the broker and lock
// connections it opened.
func newServer(cfg *config.Config, database *sql.DB) (http.Handler, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.L().Warn("Failed to close resource", zap.Error(err))
			}
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, client.Close)
		locker = lock.NewRedis(client, lockTTL(cfg.ViaBill.Timeout))
		logger.L().Info("Using redis transaction locks", zap.String("addr", opts.Addr))
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		writer := events.NewKafkaWriter(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		closers = append(closers, writer.Close)
		publisher = events.NewKafkaPublisher(writer)
		logger.L().Info("Publishing state changes to kafka", zap.String("topic", cfg.KafkaTopic))
	}

	vb := cfg.ViaBill
	creds := viabill.Credentials{APIKey: vb.APIKey, APISecret: vb.APISecret, TestMode: vb.TestMode}
	client := viabill.NewClient(vb.BaseURL, vb.Affiliate, creds, vb.Timeout, viabill.WithObserver(m))

	resolver := payment.StaticResolver{
		ID:      vb.GatewayID,
		Gateway: client,
		Settings: payment.Settings{
			APIKey:            vb.APIKey,
			CaptureOnApproval: vb.CaptureOnApproval(),
		},
	}

	orderSvc := order.NewService(order.NewRepository(database), nil)
	paymentRepo := payment.NewRepository(database)
	paymentSvc := payment.NewService(paymentRepo, orderSvc, resolver, locker, publisher, m)

	callbackHandler := callback.NewHandler(callback.NewVerifier(creds, ""), paymentSvc, paymentRepo, m)
	adminHandler := admin.NewHandler(paymentSvc, client, cfg.PublicBaseURL, vb.ModuleVersion)

	if cfg.JWTSecret == "" {
		logger.L().Warn("JWT_SECRET is not set, admin routes will reject every request")
	}
	guard := func(next http.Handler) http.Handler {
		return middleware.RequireAdmin([]byte(cfg.JWTSecret))(middleware.RateLimitMiddleware(next))
	}

	userHandler := user.NewHandler(user.NewService(user.NewRepository(database), []byte(cfg.JWTSecret)), cfg.AppEnv == "production")

	router := setupRouter(callbackHandler, adminHandler, http.HandlerFunc(userHandler.Login), guard, metrics.Handler(reg))
	return router, cleanup, nil
}

func setupRouter(
	callbackHandler http.Handler,
	adminHandler *admin.Handler,
	loginHandler http.Handler,
	guard func(http.Handler) http.Handler,
	metricsHandler http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("/viabill/callback", middleware.RateLimitMiddleware(callbackHandler))
	mux.Handle("POST /auth/login", middleware.RateLimitMiddleware(loginHandler))
	adminHandler.Register(mux, guard)

	return telemetry.Middleware(
		logger.RequestIDMiddleware(
			logger.LoggingMiddleware(mux),
		),
	)
}
