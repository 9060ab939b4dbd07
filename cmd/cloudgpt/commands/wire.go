package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/CloudCompile/cloudgptapi-sub000/auth"
	"github.com/CloudCompile/cloudgptapi-sub000/memory"
	"github.com/CloudCompile/cloudgptapi-sub000/meter"
	"github.com/CloudCompile/cloudgptapi-sub000/policy"
	"github.com/CloudCompile/cloudgptapi-sub000/provider/custom"
	"github.com/CloudCompile/cloudgptapi-sub000/provider/horde"
	"github.com/CloudCompile/cloudgptapi-sub000/provider/openaicompat"
	"github.com/CloudCompile/cloudgptapi-sub000/quota"
	pgquota "github.com/CloudCompile/cloudgptapi-sub000/quota/postgres"
	redisquota "github.com/CloudCompile/cloudgptapi-sub000/quota/redis"
	"github.com/CloudCompile/cloudgptapi-sub000/usage"
	pgusage "github.com/CloudCompile/cloudgptapi-sub000/usage/postgres"
	"github.com/CloudCompile/cloudgptapi-sub000/usage/sqlite"
)

// stack is everything serve needs, plus what must be released on exit.
type stack struct {
	router   *cloudgpt.Router
	limiter  *cloudgpt.Limiter
	resolver *auth.Resolver
	tasks    *cloudgpt.TaskQueue
	sweeper  expiredSweeper
	closers  []func()
	pools    map[string]*pgxpool.Pool
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// pgPool returns a shared pool per DSN.
func (s *stack) pgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if p, ok := s.pools[dsn]; ok {
		return p, nil
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.pools[dsn] = p
	s.closers = append(s.closers, p.Close)
	return p, nil
}

func buildStack(ctx context.Context, cfg cloudgpt.Config, logger *slog.Logger) (*stack, error) {
	st := &stack{pools: make(map[string]*pgxpool.Pool)}
	built := false
	defer func() {
		if !built {
			st.close()
		}
	}()

	store, err := st.quotaStore(ctx, cfg.Quota)
	if err != nil {
		return nil, err
	}
	st.limiter = cloudgpt.NewLimiter(store,
		cloudgpt.WithLimiterLogger(logger),
		cloudgpt.WithPeakHourModalities(cfg.PeakHours.Modalities...),
	)

	st.resolver, err = st.authResolver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st.tasks = cloudgpt.NewTaskQueue(cfg.Usage.Workers, cfg.Usage.QueueSize, cloudgpt.WithTaskLogger(logger))
	st.closers = append(st.closers, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.tasks.Close(drainCtx); err != nil {
			logger.Warn("background tasks not drained", "error", err)
		}
	})

	sink, err := st.usageSink(ctx, cfg.Usage, logger)
	if err != nil {
		return nil, err
	}

	providers, opts, err := buildProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		cloudgpt.WithFallbackTable(cfg.Fallbacks),
		cloudgpt.WithFastPath(cfg.FastPath),
		cloudgpt.WithTimeouts(cfg.Timeouts),
		cloudgpt.WithTaskQueue(st.tasks),
		cloudgpt.WithAccountant(cloudgpt.NewAccountant(sink, st.tasks, logger)),
		cloudgpt.WithLogger(logger),
	)
	if cfg.RoutingPolicy == "in_order" {
		opts = append(opts, cloudgpt.WithPolicy(&policy.InOrderPolicy{}))
	} else {
		opts = append(opts, cloudgpt.WithPolicy(&policy.HealthFirstPolicy{}))
	}
	if cfg.Logging.Attempts {
		opts = append(opts, cloudgpt.WithMeter(meter.NewLogMeter(logger)))
	} else {
		opts = append(opts, cloudgpt.WithMeter(&meter.NoopMeter{}))
	}
	if cfg.Memory.URL != "" {
		opts = append(opts, cloudgpt.WithMemory(memory.New(cfg.Memory.URL,
			memory.WithToken(cfg.Memory.Token),
			memory.WithTimeout(cfg.Memory.Timeout),
		)))
	}

	st.router, err = cloudgpt.NewRouter(cloudgpt.DefaultRegistry(), providers, opts...)
	if err != nil {
		return nil, err
	}
	built = true
	return st, nil
}

// buildProviders turns provider config into adapters and credential pools.
func buildProviders(cfgs []cloudgpt.ProviderConfig) ([]cloudgpt.Provider, []cloudgpt.Option, error) {
	var (
		providers []cloudgpt.Provider
		opts      []cloudgpt.Option
	)
	for _, pc := range cfgs {
		if pc.Disabled {
			continue
		}

		var p cloudgpt.Provider
		switch pc.Kind {
		case cloudgpt.KindOpenAI:
			p = openAIProvider(pc)
		case cloudgpt.KindCustom:
			p = custom.New(pc.BaseURL, custom.WithName(pc.Name))
		case cloudgpt.KindHorde:
			var hopts []horde.Option
			if pc.BaseURL != "" {
				hopts = append(hopts, horde.WithBaseURL(pc.BaseURL))
			}
			p = horde.New(hopts...)
		default:
			return nil, nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
		}
		providers = append(providers, p)

		if keys := pc.APIKeys(); len(keys) > 0 {
			opts = append(opts, cloudgpt.WithCredentials(pc.Name, cloudgpt.NewCredentialPool(keys...)))
		}
	}
	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no providers enabled")
	}
	return providers, opts, nil
}

func openAIProvider(pc cloudgpt.ProviderConfig) *openaicompat.Provider {
	var opts []openaicompat.Option
	if pc.BaseURL != "" {
		opts = append(opts, openaicompat.WithBaseURL(pc.BaseURL))
	}
	if pc.ImageBaseURL != "" {
		opts = append(opts, openaicompat.WithImageBaseURL(pc.ImageBaseURL))
	}
	if pc.MaxTokensCap > 0 {
		opts = append(opts, openaicompat.WithMaxTokensCap(pc.MaxTokensCap))
	}

	switch pc.Name {
	case cloudgpt.ProviderPollinations:
		return openaicompat.NewPrimary(opts...)
	case cloudgpt.ProviderOpenRouter:
		return openaicompat.NewSecondary(opts...)
	case cloudgpt.ProviderGitHub:
		return openaicompat.NewAggregator(opts...)
	default:
		return openaicompat.New(pc.Name, pc.BaseURL, opts...)
	}
}

func (st *stack) quotaStore(ctx context.Context, cfg cloudgpt.QuotaConfig) (cloudgpt.QuotaStore, error) {
	switch cfg.Backend {
	case "redis":
		opt, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("quota: parse redis_url: %w", err)
		}
		client := goredis.NewClient(opt)
		st.closers = append(st.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("quota: ping redis: %w", err)
		}
		var opts []redisquota.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, redisquota.WithKeyPrefix(cfg.KeyPrefix))
		}
		return redisquota.New(client, opts...), nil

	case "postgres":
		pool, err := st.pgPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("quota: %w", err)
		}
		var opts []pgquota.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, pgquota.WithTablePrefix(cfg.KeyPrefix))
		}
		s := pgquota.New(pool, opts...)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		st.sweeper = s
		return s, nil

	default:
		return quota.NewMemoryQuotaStore(), nil
	}
}

func (st *stack) usageSink(ctx context.Context, cfg cloudgpt.UsageConfig, logger *slog.Logger) (cloudgpt.UsageSink, error) {
	var durable cloudgpt.UsageSink
	switch cfg.Sink {
	case "postgres":
		pool, err := st.pgPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("usage: %w", err)
		}
		s := pgusage.New(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		durable = s

	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = s.Close() })
		durable = s

	case "none":
		return nil, nil

	default:
		return usage.NewLogSink(logger), nil
	}

	if cfg.Log {
		return usage.MultiSink{durable, usage.NewLogSink(logger)}, nil
	}
	return durable, nil
}

func (st *stack) authResolver(ctx context.Context, cfg cloudgpt.Config, logger *slog.Logger) (*auth.Resolver, error) {
	opts := []auth.Option{
		auth.WithTrustProxy(cfg.Server.TrustProxy),
		auth.WithLogger(logger),
	}

	switch {
	case cfg.Auth.PostgresDSN != "":
		pool, err := st.pgPool(ctx, cfg.Auth.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		s := auth.NewPostgresStore(pool, "")
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, auth.WithKeyLookup(s), auth.WithProfileLookup(s))

	case cfg.Auth.KeysFile != "":
		keys, err := auth.LoadStaticKeys(cfg.Auth.KeysFile)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		opts = append(opts, auth.WithKeyLookup(keys), auth.WithProfileLookup(keys))
	}

	if cfg.Auth.SessionSecret != "" {
		opts = append(opts, auth.WithSessions(auth.NewSessionVerifier(cfg.Auth.SessionSecret), cfg.Auth.SessionCookie))
	}
	return auth.NewResolver(opts...), nil
}
