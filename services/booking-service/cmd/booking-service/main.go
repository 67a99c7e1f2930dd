package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/auth"
	"github.com/md-rashed-zaman/slotledger/libs/config"
	"github.com/md-rashed-zaman/slotledger/libs/db"
	"github.com/md-rashed-zaman/slotledger/libs/httpx"
	"github.com/md-rashed-zaman/slotledger/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotledger/libs/otel"
	"github.com/md-rashed-zaman/slotledger/libs/runtime"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/actor"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/gateway"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage/memstore"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		otelShutdown = nil
	}

	loc, err := time.LoadLocation(config.String("TIMEZONE", "UTC"))
	if err != nil {
		logger.Error("invalid TIMEZONE", "err", err)
		panic(err)
	}

	readyChecks := []runtime.ReadyCheck{}
	var store storage.Store
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
			MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		if config.Bool("DB_MIGRATE", true) {
			applied, err := storage.Migrate(ctx, pool)
			if err != nil {
				logger.Error("db migration failed", "err", err)
				panic(err)
			}
			if len(applied) > 0 {
				logger.Info("db migrations applied", "versions", applied)
			}
		}

		outboxRepo := outbox.NewRepository()
		store = storage.NewPostgres(pool, outboxRepo)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		brokers := config.String("KAFKA_BROKERS", "")
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)
		if brokers != "" {
			readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	} else {
		mem := memstore.New()
		seedDemoCatalog(mem, logger)
		store = mem
		logger.Warn("DATABASE_URL not set; using in-memory store, events are not published")
	}

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	idemTTL := config.Seconds("IDEMPOTENCY_TTL_SECONDS", 24*time.Hour)
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	var limiter httpx.Limiter
	var idempotencyMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		limiter = httpx.NewRedisLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:booking"))
		idempotencyMW = httpx.WithIdempotency(httpx.NewRedisIdempotencyStore(rdb, "idem:booking"), idemTTL, logger)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("rate limiting and idempotency enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		limiter = httpx.NewMemoryLimiter(limitPerMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory); idempotency keys disabled", "per_minute", limitPerMinute)
	}

	stripeGateway := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:        config.String("STRIPE_SECRET_KEY", ""),
		WebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: config.Seconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300*time.Second),
		Currency:         config.String("PAYMENT_CURRENCY", "usd"),
		SuccessURL:       config.String("CHECKOUT_SUCCESS_URL", "http://localhost:3000/payments/success"),
		CancelURL:        config.String("CHECKOUT_CANCEL_URL", "http://localhost:3000/payments/cancel"),
	})
	localGateway := gateway.NewLocal(
		config.String("LOCAL_GATEWAY_BASE_URL", "http://localhost:8085/pay"),
		config.String("LOCAL_GATEWAY_SECRET", ""),
	)
	var linkGateway gateway.Gateway
	switch name := strings.ToLower(config.String("PAYMENT_GATEWAY", gateway.ProviderLocal)); name {
	case gateway.ProviderStripe:
		if _, err := config.RequiredString("STRIPE_SECRET_KEY"); err != nil {
			logger.Error("stripe gateway selected without credentials", "err", err)
			panic(err)
		}
		linkGateway = stripeGateway
	case gateway.ProviderLocal:
		linkGateway = localGateway
	case "none":
	default:
		logger.Error("unknown PAYMENT_GATEWAY; payment links disabled", "gateway", name)
	}

	policy, ok := reconcile.ParsePolicy(config.String("PAYMENT_TERMINAL_POLICY", string(reconcile.PolicyStrict)))
	if !ok {
		logger.Error("unknown PAYMENT_TERMINAL_POLICY; using strict")
		policy = reconcile.PolicyStrict
	}

	h := handlers.New(handlers.Config{
		Generator: slots.NewGenerator(store, logger, loc),
		Binder:    booking.NewBinder(store, logger, loc),
		Ledger: ledger.New(store, linkGateway, logger, ledger.Config{
			LinkTimeout: config.Seconds("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 10*time.Second),
		}),
		Reconciler: reconcile.New(store, logger, reconcile.Config{Policy: policy}),
		Stripe:     stripeGateway,
		Local:      localGateway,
		Logger:     logger,
		Location:   loc,
	})

	verifier := &auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Seconds("JWKS_CACHE_SECONDS", 300*time.Second))
	}
	protect := actor.Middleware(verifier, config.Bool("TRUST_GATEWAY_HEADERS", true))

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	h.Register(mux, handlers.Routes{
		Protect: protect,
		Limit:   httpx.RateLimit(limiter, httpx.RateLimitOptions{Logger: logger, FailOpen: failOpen}),
		Creates: idempotencyMW,
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key")),
			MaxAge:         config.Seconds("CORS_MAX_AGE_SECONDS", 600*time.Second),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "gateway", gatewayName(linkGateway), "terminal_policy", string(policy))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	grpcStop, err := startGrpcServer(ctx, logger, store)
	if err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	runtime.Shutdown(logger, config.Seconds("SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
		runtime.Closer{Name: "http", Close: srv.Shutdown},
		grpcStop,
		runtime.Closer{Name: "otel", Close: otelShutdown},
	)
}

func gatewayName(g gateway.Gateway) string {
	if g == nil {
		return "none"
	}
	return g.Name()
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// seedDemoCatalog gives the in-memory store a client and a service so the
// API can be exercised without a database.
func seedDemoCatalog(mem *memstore.Store, logger *slog.Logger) {
	client := model.Client{ID: "00000000-0000-4000-8000-000000000001", Name: "Demo Client", Email: "client@example.com"}
	svc := model.Service{ID: "00000000-0000-4000-8000-000000000101", Name: "Consultation", Price: 100000, DurationMinutes: 60}
	mem.PutClient(client)
	mem.PutService(svc)
	logger.Info("demo catalog seeded", "client_id", client.ID, "service_id", svc.ID, "price", svc.Price.String())
}
