package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/reverb-labs/schedcore/internal/calendar"
	"github.com/reverb-labs/schedcore/internal/engine"
	"github.com/reverb-labs/schedcore/internal/handlers"
	"github.com/reverb-labs/schedcore/internal/outbox"
	"github.com/reverb-labs/schedcore/internal/policy"
	"github.com/reverb-labs/schedcore/internal/storage"
	"github.com/reverb-labs/schedcore/libs/config"
	"github.com/reverb-labs/schedcore/libs/db"
	"github.com/reverb-labs/schedcore/libs/httpx"
	"github.com/reverb-labs/schedcore/libs/kafkax"
	otelx "github.com/reverb-labs/schedcore/libs/otel"
	"github.com/reverb-labs/schedcore/libs/runtime"
)

// calendarTokenSource builds a self-refreshing token source from a stored
// refresh token. The engine runs headless, so the interactive consent step
// happens out of band and only the refresh token is deployed.
func calendarTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	clientID, err := config.RequiredString("GOOGLE_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	clientSecret, err := config.RequiredString("GOOGLE_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	refreshToken, err := config.RequiredString("GOOGLE_REFRESH_TOKEN")
	if err != nil {
		return nil, err
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarScope},
	}
	return conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	}), nil
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-engine")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool); err != nil {
		logger.Error("migration failed", "err", err)
		panic(err)
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}

	ts, err := calendarTokenSource(ctx)
	if err != nil {
		logger.Error("calendar credentials missing", "err", err)
		panic(err)
	}
	provider, err := calendar.NewGoogleClient(ctx, ts)
	if err != nil {
		logger.Error("calendar client init failed", "err", err)
		panic(err)
	}

	outboxRepo := outbox.NewRepository(pool)
	appointmentRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	blockRepo := storage.NewBlockRepository(pool, outboxRepo)
	policyRepo := storage.NewPolicyRepository(pool)

	policies := policy.NewStoreProvider(policyRepo)
	if rdb != nil {
		ttl := config.Minutes("POLICY_CACHE_TTL_MINUTES", 5*time.Minute)
		policies = policy.NewCachedProvider(policies, rdb, ttl, logger)
	}

	eng := engine.New(appointmentRepo, blockRepo, provider, policies, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	handler := handlers.New(eng, policies, policyRepo, appointmentRepo)
	handler.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(30 * time.Second),
		httpx.WithCORS(strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ",")),
	}
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
