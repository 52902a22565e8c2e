package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/catalog"
	"github.com/fclairamb/yachtsync/internal/config"
	"github.com/fclairamb/yachtsync/internal/jobstate"
	"github.com/fclairamb/yachtsync/internal/kv"
	"github.com/fclairamb/yachtsync/internal/metrics"
	"github.com/fclairamb/yachtsync/internal/normalize"
	"github.com/fclairamb/yachtsync/internal/store"
	"github.com/fclairamb/yachtsync/internal/sync"
	"github.com/fclairamb/yachtsync/internal/upsert"
	"github.com/fclairamb/yachtsync/internal/yachtapi"
)

// backend holds the storage side of a configured process.
type backend struct {
	catalog   catalog.Catalog
	kv        kv.Store
	committer catalog.Committer
	images    upsert.ImageFetcher
	remote    *store.RemoteConfig
	close     func()
}

// openBackend opens the catalog and the key-value store of the configured backend.
// The git-backed catalog is pulled from its remote first when one is configured.
func openBackend(ctx context.Context, cfg *config.Config, storePath string, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		cat := catalog.NewPostgresCatalog(pool)
		if err := cat.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate catalog: %w", err)
		}
		kvs := kv.NewPostgresStore(pool)
		if err := kvs.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate kv: %w", err)
		}

		logger.InfoContext(ctx, "backend", "type", config.BackendPostgres)
		return &backend{catalog: cat, kv: kvs, close: pool.Close}, nil

	case config.BackendFile:
		remote := cfg.Remote()
		local, err := store.NewLocalStore(storePath, store.WithRemoteConfig(remote), store.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create store: %w", err)
		}
		if err := local.Pull(ctx); err != nil {
			logger.WarnContext(ctx, "failed to pull catalog", "error", err)
		}

		kvs, err := kv.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, fmt.Errorf("create state store: %w", err)
		}

		cat := catalog.NewFileCatalog(local, catalog.WithFileLogger(logger))
		b := &backend{
			catalog: cat,
			kv:      kvs,
			remote:  remote,
			images: upsert.NewStoreImageFetcher(local,
				upsert.WithMaxImageSize(int64(cfg.MaxImageSize)),
				upsert.WithImageLogger(logger)),
			close: func() {},
		}
		if remote.IsCommitEnabled() {
			b.committer = cat
		}

		logger.InfoContext(ctx, "backend", "type", config.BackendFile, "dir", storePath, "state_dir", cfg.StateDir,
			"storage", remote.EffectiveStorageMode(), "commit", remote.IsCommitEnabled())
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownBackend, cfg.Backend)
	}
}

// stateOptions are the job state settings shared by every engine.
func stateOptions(cfg *config.Config, logger *slog.Logger) []jobstate.Option {
	return []jobstate.Option{
		jobstate.WithLogger(logger),
		jobstate.WithLogCapacity(cfg.LogCapacity),
		jobstate.WithHistoryDays(cfg.HistoryDays),
	}
}

// newEngine builds the sync engine over b. reg may be nil.
func newEngine(cfg *config.Config, cmd *cli.Command, b *backend, reg prometheus.Registerer, logger *slog.Logger) (*sync.Engine, error) {
	token := cmd.String("token")
	if token == "" {
		token = cfg.APIToken
	}
	if token == "" {
		return nil, apperrors.ErrAPITokenRequired
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	client := yachtapi.NewClient(token,
		yachtapi.WithBaseURL(cfg.APIURL),
		yachtapi.WithRateInterval(cfg.APIRate),
		yachtapi.WithLogger(logger),
		yachtapi.WithMetrics(m))

	opts := []sync.Option{
		sync.WithSettings(sync.Settings{
			BatchSize:     cfg.BatchSize,
			ItemDelay:     cfg.ItemDelay,
			BatchDelay:    cfg.BatchDelay,
			DelayStep:     cfg.DelayStep,
			LockTTL:       cfg.LockTTL,
			MaxRunTime:    cfg.MaxRunTime,
			RunTimeMargin: cfg.RunTimeMargin,
			MemoryRatio:   cfg.MemoryRatio,
		}),
		sync.WithNormalizer(&normalize.Normalizer{
			MinPriceUSD:    cfg.MinPriceUSD,
			ListingBaseURL: cfg.ListingBaseURL,
		}),
		sync.WithLogger(logger),
		sync.WithMetrics(m),
		sync.WithStateOptions(stateOptions(cfg, logger)...),
	}
	if b.images != nil {
		opts = append(opts, sync.WithImageFetcher(b.images))
	}
	if b.committer != nil {
		opts = append(opts, sync.WithCommitter(b.committer, b.remote.GetCommitPeriod(), b.remote.IsPushEnabled()))
	}

	return sync.New(client, b.catalog, b.kv, opts...), nil
}
