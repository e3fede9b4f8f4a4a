package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/robertbravery/FurryFriends-sub000/libs/config"
	"github.com/robertbravery/FurryFriends-sub000/libs/db"
	"github.com/robertbravery/FurryFriends-sub000/libs/grpcx"
	"github.com/robertbravery/FurryFriends-sub000/libs/httpx"
	"github.com/robertbravery/FurryFriends-sub000/libs/kafkax"
	otelx "github.com/robertbravery/FurryFriends-sub000/libs/otel"
	"github.com/robertbravery/FurryFriends-sub000/libs/runtime"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/booking"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/cache"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/handlers"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/metrics"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/outbox"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/storage"
)

type settings struct {
	service        string
	port           string
	grpcPort       string
	databaseURL    string
	loc            *time.Location
	txTimeout      time.Duration
	maxRetries     int
	redisAddr      string
	cacheTTL       time.Duration
	ratePerMinute  int
	brokers        []string
	logLevel       string
	rateLimitClose bool
}

func loadSettings() (settings, error) {
	if err := config.LoadDotEnv(); err != nil {
		return settings{}, err
	}
	var (
		s    settings
		err  error
		errs []error
	)
	s.service = config.String("SERVICE_NAME", "booking-service")
	s.logLevel = config.String("LOG_LEVEL", "info")
	s.databaseURL = config.String("DATABASE_URL", "")
	s.redisAddr = config.String("REDIS_ADDR", "")
	s.brokers = kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	s.rateLimitClose = config.Bool("RATE_LIMIT_FAIL_CLOSED", false)

	s.port, err = config.Port("PORT", "8083")
	errs = append(errs, err)
	s.grpcPort, err = config.Port("GRPC_PORT", "9083")
	errs = append(errs, err)
	s.loc, err = config.Location("TIMEZONE", "UTC")
	errs = append(errs, err)
	s.txTimeout, err = config.Duration("TX_TIMEOUT", 5*time.Second)
	errs = append(errs, err)
	s.maxRetries, err = config.Int("BOOK_MAX_RETRIES", 3)
	errs = append(errs, err)
	s.cacheTTL, err = config.Duration("SCHEDULE_CACHE_TTL", 10*time.Minute)
	errs = append(errs, err)
	s.ratePerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 30)
	errs = append(errs, err)
	return s, errors.Join(errs...)
}

func main() {
	s, err := loadSettings()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(s.service, s.logLevel)
	if err := run(s, logger); err != nil {
		logger.Error("booking service stopped", "err", err)
		os.Exit(1)
	}
}

func run(s settings, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(s.service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	var (
		checks []runtime.ReadyCheck
		store  booking.Store
		source outbox.Source
	)
	if s.databaseURL != "" {
		pool, err := db.Open(ctx, s.databaseURL, db.PoolConfig{})
		if err != nil {
			return err
		}
		defer pool.Close()
		store = storage.NewPostgresStore(pool)
		source = outbox.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		mem := storage.NewMemoryStore()
		store = mem
		source = mem
	}

	cfg := booking.Config{
		Location:   s.loc,
		TxTimeout:  s.txTimeout,
		MaxRetries: s.maxRetries,
		Metrics:    bookingMetrics,
	}

	var bookLimit httpx.Middleware
	if s.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: s.redisAddr})
		defer func() { _ = rdb.Close() }()
		cfg.Cache = cache.NewScheduleCache(rdb, s.cacheTTL)
		bookLimit = httpx.NewRedisRateLimiter(rdb, s.ratePerMinute, time.Minute, "booking:ratelimit:").
			Middleware(logger, !s.rateLimitClose)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	} else {
		bookLimit = httpx.NewRateLimiter(s.ratePerMinute, time.Minute).Middleware()
	}
	if len(s.brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(s.brokers)})
	}

	svc := booking.NewService(store, logger, cfg)
	bookingHandler := handlers.NewBookingHandler(svc, logger, nil)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r := chi.NewRouter()
	r.Use(
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(s.txTimeout+5*time.Second),
	)
	bookingHandler.Routes(r, bookLimit)
	r.Handle("/*", mux)

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           otelhttp.NewHandler(r, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+s.grpcPort)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runtime.ServeHTTP(gctx, srv, logger, 10*time.Second)
	})
	g.Go(func() error {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcSrv.GracefulStop()
		logger.Info("grpc server stopped")
		return nil
	})
	g.Go(func() error {
		grpcx.WatchHealth(gctx, health, s.service, 5*time.Second, func(ctx context.Context) bool {
			return len(runtime.RunChecks(ctx, 2*time.Second, checks...)) == 0
		})
		return nil
	})

	if len(s.brokers) > 0 {
		publisher := outbox.NewPublisher(source, outbox.NewKafkaWriter(s.brokers), logger, outbox.PublisherConfig{
			PollEvery: 2 * time.Second,
			BatchSize: 50,
			OnPublish: bookingMetrics.ObserveOutboxPublished,
		})
		g.Go(func() error { return publisher.Run(gctx) })
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay unpublished")
	}

	return g.Wait()
}
