package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tour-checkout/internal/booking"
	"github.com/noah-isme/tour-checkout/internal/checkout"
	"github.com/noah-isme/tour-checkout/internal/config"
	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/outcome"
	"github.com/noah-isme/tour-checkout/internal/poller"
	"github.com/noah-isme/tour-checkout/internal/qr"
	"github.com/noah-isme/tour-checkout/internal/ratelimit"
	"github.com/noah-isme/tour-checkout/internal/resilience"
)

// Options tunes optional instrumentation while building dependencies.
type Options struct {
	ServiceName    string
	RedisMetrics   bool
	RunMigrations  bool
	ConnectTimeout time.Duration
}

// Dependencies enumerates the services shared by the entrypoints. DB, Redis
// and TaskClient are nil when their URLs are not configured.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *pgxpool.Pool
	Redis      redis.UniversalClient
	Validator  *validator.Validate
	Limiter    ratelimit.Allower
	TaskClient *asynq.Client
	Breaker    *resilience.Breaker
	Bookings   *booking.Client
	Projector  *checkout.Projector
	Outcomes   *outcome.Recorder
	Checkout   *checkout.Service
}

// Build connects to the configured backends and assembles the checkout
// service. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "tour-checkout"
	}
	d := &Dependencies{Config: cfg, Logger: logger, Validator: checkout.NewValidator()}

	cctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if cfg.DatabaseURL != "" {
		if opts.RunMigrations {
			if err := outcome.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := NewPool(cctx, cfg.DatabaseURL, opts.ServiceName)
		if err != nil {
			return nil, err
		}
		d.DB = pool
	}

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(cctx, cfg.RedisURL, opts.RedisMetrics)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Redis = rdb
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("parse task queue redis url: %w", err)
		}
		d.TaskClient = asynq.NewClient(redisOpt)
	}
	d.Limiter = NewLimiter(d.Redis)

	d.Breaker = resilience.NewBreakerFromConfig(resilience.BreakerConfig{
		MinRequests:  cfg.CircuitMinRequests,
		FailureRatio: cfg.CircuitFailureRatio,
		OpenFor:      cfg.CircuitOpenFor,
		Target:       "booking-api",
	}).WithLogger(logger)

	bookings, err := booking.NewClient(booking.Config{
		BaseURL: cfg.BookingAPIURL,
		Token:   cfg.BookingAPIToken,
		HTTP: resilience.HTTPClient{
			Breaker:     d.Breaker,
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitter,
			Timeout:     cfg.BookingAPITimeout,
			Logger:      logger,
		},
		Cache:  booking.NewCache(d.Redis, cfg.BookingCacheTTL),
		Logger: logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Bookings = bookings

	d.Projector = checkout.NewProjector(qr.NewEngine(qr.Config{
		RenderEndpoint: cfg.QRRenderEndpoint,
		ProviderHosts:  cfg.QRProviderHosts,
		Mode:           qr.Mode(cfg.QRFallbackMode),
	}), cfg.DefaultCurrency)

	var sinks []outcome.Sink
	if d.DB != nil {
		sinks = append(sinks, outcome.NewPGStore(d.DB))
	}
	if d.TaskClient != nil {
		sinks = append(sinks, outcome.NewTaskPublisher(d.TaskClient, cfg.TaskQueue))
	}
	d.Outcomes = outcome.NewRecorder(logger, sinks...)

	svc, err := checkout.NewService(checkout.Config{
		Bookings:  bookings,
		Projector: d.Projector,
		Opener:    checkout.LogOpener{Logger: logger},
		Outcomes:  d.Outcomes,
		Snapshots: checkout.NewRedisSnapshots(d.Redis, cfg.SnapshotTTL),
		Poll: poller.Config{
			Interval:       cfg.PollInterval,
			Timeout:        cfg.PollTimeout,
			RequestTimeout: cfg.PollRequestTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Checkout = svc
	return d, nil
}

// NewPool opens an instrumented pgx pool and pings it.
func NewPool(ctx context.Context, databaseURL, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis opens a traced Redis client and pings it.
func NewRedis(ctx context.Context, redisURL string, metrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewLimiter returns the Redis sliding window when Redis is available and an
// in-memory limiter otherwise.
func NewLimiter(rdb redis.UniversalClient) ratelimit.Allower {
	if rdb == nil {
		return ratelimit.NewMemory()
	}
	return ratelimit.SlidingWindow{Client: rdb, Prefix: "checkout:rl:"}
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// PingBookingAPI implements health.Checker using the breaker state.
func (d *Dependencies) PingBookingAPI(context.Context) error {
	if d.Breaker != nil && d.Breaker.State() == resilience.Open {
		return resilience.ErrOpenCircuit
	}
	return nil
}

// Close releases connections. It is safe on a partially built value.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
