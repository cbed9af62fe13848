package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/handler"
	"github.com/Nzyazin/bidfunds/internal/core/logger"
	middlWre "github.com/Nzyazin/bidfunds/internal/core/middleware"
	"github.com/Nzyazin/bidfunds/internal/core/notification"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/Nzyazin/bidfunds/internal/core/repository/memory"
	"github.com/Nzyazin/bidfunds/internal/core/repository/postgres"
	"github.com/Nzyazin/bidfunds/internal/core/scheduler"
	"github.com/Nzyazin/bidfunds/internal/core/usecase"
	"github.com/Nzyazin/bidfunds/pkg/config"
	"github.com/Nzyazin/bidfunds/pkg/kafkabus"
	"github.com/Nzyazin/bidfunds/pkg/postgresdb"
	"github.com/Nzyazin/bidfunds/pkg/redisdb"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

type Server struct {
	cfg        *config.Config
	router     *mux.Router
	log        logger.Logger
	httpServer *http.Server

	store     repository.Store
	db        *postgresdb.Database
	kafka     *kafkabus.Writer
	redis     *redis.Client
	scheduler *scheduler.Scheduler
	stopJobs  context.CancelFunc
}

func NewServer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		log:    log,
		router: mux.NewRouter(),
	}

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}

	var notifier usecase.Notifier = notification.NewLogNotifier(log)
	if cfg.Kafka.Brokers != "" {
		s.kafka = kafkabus.NewWriter(cfg.Kafka.Brokers)
		notifier = notification.NewKafkaNotifier(s.kafka, log)
		log.Info("Publishing events to kafka", logger.StringField("brokers", cfg.Kafka.Brokers))
	}

	var dedup usecase.ExpiryDeduper = notification.NewMemoryDeduper(time.Now)
	if cfg.Redis.Addr != "" {
		rdb, err := redisdb.Connect(ctx, redisdb.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			s.closeResources()
			return nil, err
		}
		s.redis = rdb
		dedup = notification.NewRedisDeduper(rdb)
	}

	ucCfg := usecase.Config{
		OperationTimeout:        cfg.Core.OperationTimeout,
		NotifyTimeout:           cfg.Core.NotifyTimeout,
		DefaultReservationHours: cfg.Core.DefaultReservationHours,
	}
	wallets := usecase.NewWalletUsecase(s.store, log, ucCfg)
	reservations := usecase.NewReservationUsecase(s.store, notifier, dedup, log, ucCfg)
	bids := usecase.NewBidValidator(reservations, log)
	settlement := usecase.NewSettlementUsecase(s.store, reservations, notifier, log, ucCfg)
	deposits := usecase.NewDepositUsecase(s.store, notifier, log, ucCfg)

	s.scheduler = scheduler.New(settlement, reservations, log, &scheduler.Options{
		Interval:      cfg.Core.SweepInterval,
		ExpiryWarning: cfg.Core.ExpiryWarning,
	})

	s.router.Use(loggingMiddleware(s.log))

	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})
	s.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})
	s.router.Use(
		middlWre.WithErrorHandler(s.log),
		middlWre.Recovery(s.log),
	)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middlWre.Auth([]byte(cfg.Auth.JWTSecret), s.log))
	handler.NewWalletHandler(wallets, log).RegisterRoutes(api)
	handler.NewReservationHandler(reservations, log).RegisterRoutes(api)
	handler.NewAuctionHandler(bids, settlement, log).RegisterRoutes(api)
	handler.NewDepositHandler(deposits, log).RegisterRoutes(api)

	return s, nil
}

func (s *Server) openStore(ctx context.Context) error {
	if s.cfg.StoreDriver == config.StoreDriverMemory {
		s.log.Warn("Using in-memory store; balances are lost on restart")
		s.store = memory.NewStore()
		return nil
	}

	db, err := postgresdb.NewPostgresDB(ctx, s.cfg.DB, s.log)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	s.db = db
	s.store = postgres.NewStore(db.DB, s.log, s.cfg.DB.MaxRetries)
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("Store health check failed", logger.ErrorField("error", err))
		status, code = "store unavailable", http.StatusServiceUnavailable
	} else if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.log.Warn("Redis health check failed", logger.ErrorField("error", err))
			status, code = "redis unavailable", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%q}`, status)
}

// Run starts the background sweeper and serves HTTP until Shutdown.
func (s *Server) Run() error {
	jobs, stop := context.WithCancel(context.Background())
	s.stopJobs = stop
	go s.scheduler.Run(jobs)

	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
	}

	s.httpServer = srv

	return srv.ListenAndServe()
}

func (s *Server) RunTLS(certFile, keyFile string) error {
	jobs, stop := context.WithCancel(context.Background())
	s.stopJobs = stop
	go s.scheduler.Run(jobs)

	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      9 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	s.httpServer = srv
	return srv.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.stopJobs != nil {
			s.stopJobs()
		}

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if err := s.closeResources(); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) closeResources() error {
	var errs []error
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.log.Error("failed to close kafka writer", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("kafka writer close error: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Error("failed to close redis client", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database connection", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("database shutdown error: %w", err))
		}
	}
	return errors.Join(errs...)
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("HTTP request",
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.StringField("remote_addr", r.RemoteAddr),
				logger.StringField("user_agent", r.UserAgent()),
				logger.DurationField("duration", time.Since(start)),
			)
		})
	}
}
