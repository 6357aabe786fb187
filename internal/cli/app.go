// Package cli wires configuration into the components run by the audiencia commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/audiencia"
	"github.com/aretw0/audiencia/internal/config"
	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/adapters/file"
	"github.com/aretw0/audiencia/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/audiencia/pkg/adapters/redis"
	"github.com/aretw0/audiencia/pkg/adapters/rest"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/observability"
	"github.com/aretw0/audiencia/pkg/persistence/middleware"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/aretw0/audiencia/pkg/session"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
)

// App holds the process-wide dependencies built from a Config.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	// ClientID identifies this process to the authority, both in request headers and
	// in heartbeats.
	ClientID string

	redis   *backend.Client
	closers []func() error
}

// NewApp builds the logger and metrics of cfg. Stores and authorities are built lazily
// since not every command needs them.
func NewApp(cfg *config.Config) (*App, error) {
	logger, closeLog, err := logging.NewWithOptions(cfg.LoggingOptions())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	reg := prometheus.NewRegistry()
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
		ClientID: uuid.NewString(),
	}
	a.closers = append(a.closers, closeLog)
	return a, nil
}

// Close releases everything the app opened, in reverse order.
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

// ClientMeta is the identity sent with every authority request.
func (a *App) ClientMeta() domain.ClientMeta {
	return domain.ClientMeta{
		ClientID: a.ClientID,
		Name:     a.Config.Client.Name,
		Version:  audiencia.Version,
		UserID:   a.Config.Client.UserID,
	}
}

// Authority returns the REST authority when a URL is configured, or an in-process
// authority seeded from the configured scenario.
func (a *App) Authority() (ports.AuthorityClient, error) {
	ac := a.Config.Authority
	if ac.URL != "" {
		return rest.NewClient(ac.URL,
			rest.WithToken(ac.Token),
			rest.WithClientMeta(a.ClientMeta()),
			rest.WithTimeout(ac.Timeout),
			rest.WithLogger(a.Logger),
		)
	}
	a.Logger.Info("No authority URL configured, using in-process scenario", "scenario", scenarioName(ac.Scenario))
	return a.MemoryAuthority()
}

// MemoryAuthority builds an in-process authority from the configured scenario file, or
// from the built-in courtroom when none is set.
func (a *App) MemoryAuthority() (*memory.Authority, error) {
	var (
		sc  *memory.Scenario
		err error
	)
	if path := a.Config.Authority.Scenario; path != "" {
		sc, err = memory.LoadScenario(path)
	} else {
		sc, err = memory.DefaultScenario()
	}
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return memory.NewAuthorityFromScenario(sc)
}

func scenarioName(path string) string {
	if path == "" {
		return "courtroom"
	}
	return path
}

func (a *App) redisClient() *backend.Client {
	if a.redis == nil {
		sc := a.Config.Store
		a.redis = backend.NewClient(&backend.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}
	return a.redis
}

// SnapshotStore builds the configured store wrapped in the PII and encryption
// middlewares. Masking runs before encryption.
func (a *App) SnapshotStore() (ports.SnapshotStore, error) {
	sc := a.Config.Store

	var base ports.SnapshotStore
	switch sc.Kind {
	case config.StoreMemory:
		base = memory.NewStore()
	case config.StoreFile:
		base = file.New(sc.Path)
	case config.StoreRedis:
		base = redisAdapter.NewFromClient(a.redisClient(),
			redisAdapter.WithPrefix(sc.Prefix+":snapshot:"),
			redisAdapter.WithTTL(sc.TTL),
		)
	default:
		return nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}

	key, err := a.Config.EncryptionKey()
	if err != nil {
		return nil, err
	}

	// Chain applies the first middleware outermost.
	var mws []middleware.Middleware
	if len(sc.MaskPatterns) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(sc.MaskPatterns))
	}
	if key != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return middleware.Chain(base, mws...), nil
}

// Snapshots returns a session manager over SnapshotStore. With Redis it also takes
// distributed locks, so several clients can share one store.
func (a *App) Snapshots() (*session.Manager, error) {
	store, err := a.SnapshotStore()
	if err != nil {
		return nil, err
	}
	opts := []session.ManagerOption{session.WithManagerLogger(a.Logger)}
	if a.Config.Store.Kind == config.StoreRedis {
		opts = append(opts, session.WithLocker(redisAdapter.NewLocker(a.redisClient(), a.Config.Store.Prefix)))
	}
	return session.NewManager(store, opts...), nil
}

// BotLocker elects the single client that answers for an absent role. Without Redis
// the election only spans this process.
func (a *App) BotLocker() ports.DistributedLocker {
	if a.Config.Store.Kind == config.StoreRedis {
		return redisAdapter.NewLocker(a.redisClient(), a.Config.Store.Prefix)
	}
	return memory.NewLocker()
}

// NewClient builds a client for the configured user over authority.
func (a *App) NewClient(authority ports.AuthorityClient, opts ...audiencia.Option) (*audiencia.Client, error) {
	snaps, err := a.Snapshots()
	if err != nil {
		return nil, err
	}
	cfg := a.Config
	base := []audiencia.Option{
		audiencia.WithLogger(a.Logger),
		audiencia.WithMetrics(a.Metrics),
		audiencia.WithClientInfo(cfg.Client.Name, audiencia.Version),
		audiencia.WithClientID(a.ClientID),
		audiencia.WithSyncConfig(cfg.Sync),
		audiencia.WithFallbackConfig(cfg.Bot),
		audiencia.WithBotLocker(a.BotLocker()),
		audiencia.WithSnapshots(snaps),
	}
	return audiencia.New(authority, cfg.Client.UserID, append(base, opts...)...), nil
}

// Ping checks the Redis connection when one is configured.
func (a *App) Ping(ctx context.Context) error {
	if a.Config.Store.Kind != config.StoreRedis {
		return nil
	}
	if err := a.redisClient().Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis unavailable"), err)
	}
	return nil
}
