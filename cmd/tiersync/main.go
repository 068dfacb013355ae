package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/tiersync/pkg/config"
	"github.com/dmitrymomot/tiersync/pkg/email"
	"github.com/dmitrymomot/tiersync/pkg/environment"
	"github.com/dmitrymomot/tiersync/pkg/httpserver"
	"github.com/dmitrymomot/tiersync/pkg/logger"
	"github.com/dmitrymomot/tiersync/pkg/metrics"
	"github.com/dmitrymomot/tiersync/pkg/pg"
	"github.com/dmitrymomot/tiersync/pkg/redis"
	"github.com/dmitrymomot/tiersync/pkg/requestid"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
	"github.com/dmitrymomot/tiersync/pkg/subscription/pgstore"
	"github.com/dmitrymomot/tiersync/svc/billing"
)

type appConfig struct {
	Log   logger.Config
	PG    pg.Config
	Redis redis.Config
	Email email.Config
	HTTP  httpserver.Config

	ResolverCacheSize int           `env:"RESOLVER_CACHE_SIZE" envDefault:"256"`
	ResolverCacheTTL  time.Duration `env:"RESOLVER_CACHE_TTL" envDefault:"5m"`
	ReadinessTimeout  time.Duration `env:"READINESS_TIMEOUT" envDefault:"3s"`
	MetricsEnabled    bool          `env:"METRICS_ENABLED" envDefault:"true"`
}

// billingSettings are resolved through the settings chain, so operators can
// rotate them in app_settings without a redeploy.
type billingSettings struct {
	Stripe      subscription.StripeConfig
	Paddle      subscription.PaddleConfig
	AdminActors []string `env:"ADMIN_ACTOR_IDS" envSeparator:","`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	env := environment.Parse(cfg.Log.Env)
	log := logger.NewFromConfig(cfg.Log,
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, log); err != nil {
		log.Error("tiersync stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, env environment.Environment, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	settings := config.Chain(pgstore.NewSettings(pool), config.EnvSource{})
	var secrets billingSettings
	if err := config.LoadFrom(ctx, settings, &secrets); err != nil {
		return fmt.Errorf("load billing settings: %w", err)
	}

	providers, err := billingProviders(secrets, log)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		log.WarnContext(ctx, "no billing provider configured, checkout is disabled")
	}

	sender, err := emailSender(cfg.Email, env, log)
	if err != nil {
		return err
	}
	notifier := email.NewNotifier(sender)

	store := pgstore.NewStore(pool)
	journal := pgstore.NewJournal(pool)
	accounts := pgstore.NewAccounts(pool)

	resolver := subscription.NewResolver(pgstore.NewPlans(pool),
		subscription.WithResolverCache(cfg.ResolverCacheSize, cfg.ResolverCacheTTL),
		subscription.WithResolverLogger(log),
	)
	provisioner := subscription.NewProvisioner(accounts,
		subscription.WithProvisionerNotifier(notifier),
		subscription.WithProvisionerLogger(log),
	)

	reconcilerOpts := []subscription.ReconcilerOption{
		subscription.WithProvisioner(provisioner),
		subscription.WithNotifications(accounts, notifier),
		subscription.WithDeduper(redis.NewDeduper(rdb, cfg.Redis.DedupePrefix), cfg.Redis.DedupeTTL),
		subscription.WithClaimTTL(cfg.Redis.DedupeClaimTTL),
		subscription.WithReconcilerLogger(log),
	}
	orchestratorOpts := []subscription.OrchestratorOption{subscription.WithOrchestratorLogger(log)}
	sweeperOpts := []subscription.SweeperOption{subscription.WithSweeperLogger(log)}
	managerOpts := []subscription.ManagerOption{
		subscription.WithAuthorizer(actorAllowlist(secrets.AdminActors)),
		subscription.WithManagerLogger(log),
	}
	for _, p := range providers {
		reconcilerOpts = append(reconcilerOpts, subscription.WithProvider(p))
		orchestratorOpts = append(orchestratorOpts, subscription.WithCheckoutProvider(p))
		sweeperOpts = append(sweeperOpts, subscription.WithSweepProvider(p))
		managerOpts = append(managerOpts, subscription.WithManagerProvider(p))
	}

	reconciler := subscription.NewReconciler(store, journal, pgstore.NewLedger(pool), resolver, reconcilerOpts...)
	orchestrator := subscription.NewOrchestrator(store, resolver, orchestratorOpts...)
	sweeper := subscription.NewSweeper(store, journal, resolver, sweeperOpts...)
	manager := subscription.NewManager(store, journal, sweeper, managerOpts...)

	svcOpts := []billing.Option{
		billing.WithLogger(log),
		billing.WithMiddleware(environment.Middleware(env)),
	}

	r := chi.NewRouter()
	r.Use(httpserver.CORS(cfg.HTTP.CORSOrigins, requestid.Header))
	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, cfg.ReadinessTimeout,
		httpserver.Check{Name: "postgres", Run: pg.Healthcheck(pool)},
		httpserver.Check{Name: "redis", Run: redis.Healthcheck(rdb)},
	))
	if cfg.MetricsEnabled {
		m := metrics.New(metrics.WithRuntimeMetrics())
		m.CounterFunc("resolver_misses_total", "Price ids that resolved to no plan.", func() float64 {
			return float64(resolver.Misses())
		})
		svcOpts = append(svcOpts, billing.WithRecorder(m), billing.WithMiddleware(m.Middleware))
		r.Handle("/metrics", m.Handler())
	}

	svc := billing.NewService(reconciler, orchestrator, manager, store, svcOpts...)
	r.Mount("/", svc.Handle())

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return server.Run(ctx, r)
}

// billingProviders builds every provider whose API key is configured.
// Stripe is registered first and becomes the default checkout provider.
func billingProviders(s billingSettings, log *slog.Logger) ([]subscription.BillingProvider, error) {
	var out []subscription.BillingProvider
	if s.Stripe.SecretKey != "" {
		p, err := subscription.NewStripeProvider(s.Stripe, subscription.WithStripeLogger(log))
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		out = append(out, p)
	}
	if s.Paddle.APIKey != "" {
		p, err := subscription.NewPaddleProvider(s.Paddle, subscription.WithPaddleLogger(log))
		if err != nil {
			return nil, fmt.Errorf("paddle provider: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func emailSender(cfg email.Config, env environment.Environment, log *slog.Logger) (email.Sender, error) {
	if cfg.Enabled() {
		return email.NewPostmarkClient(cfg)
	}
	if env.IsProduction() {
		return nil, errors.Join(email.ErrInvalidConfig, errors.New("postmark is required in production"))
	}
	log.Info("postmark not configured, writing emails to disk", slog.String("dir", cfg.DevOutputDir))
	return email.NewDevSender(cfg.DevOutputDir, log), nil
}

func actorAllowlist(ids []string) subscription.Authorizer {
	if len(ids) == 0 {
		return subscription.DenyAll
	}
	return subscription.AuthorizerFunc(func(_ context.Context, actorID, capability string) (bool, error) {
		return capability == subscription.CapabilityOverride && slices.Contains(ids, actorID), nil
	})
}
