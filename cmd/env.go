package main

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/archive"
	"github.com/sells-group/townmap/internal/config"
	"github.com/sells-group/townmap/internal/fetcher"
	"github.com/sells-group/townmap/internal/monitoring"
	"github.com/sells-group/townmap/internal/normalize"
	"github.com/sells-group/townmap/internal/publish"
	"github.com/sells-group/townmap/internal/store"
	"github.com/sells-group/townmap/internal/syncer"
)

// syncEnv holds the controller and everything wired around it for the
// serve and sync commands.
type syncEnv struct {
	Controller *syncer.Controller
	Store      store.Store // nil when persistence is disabled
	Bus        *publish.Bus
	Metrics    *monitoring.Metrics
	Alerter    *monitoring.Alerter

	closers []io.Closer
}

// Close releases resources held by the environment.
func (e *syncEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initSync builds the controller from cfg. Callers should defer env.Close().
func initSync(ctx context.Context, mode string) (*syncEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	opts, err := controllerOptions(cfg)
	if err != nil {
		return nil, err
	}

	env := &syncEnv{
		Metrics: monitoring.NewMetrics(),
		Alerter: monitoring.NewAlerter(cfg.Monitoring),
	}
	opts.Observers = append(opts.Observers, env.Metrics, env.Alerter)

	if cfg.Store.Enabled() {
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		env.Store = st
		env.closers = append(env.closers, st)
		opts.Recorder = st
	}

	if cfg.Archive.Enabled() {
		arc, err := archive.Connect(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			env.Close()
			return nil, err
		}
		if err := arc.EnsureBucket(ctx); err != nil {
			zap.L().Warn("archive bucket unavailable; exports will not be archived", zap.Error(err))
		} else {
			opts.Archiver = arc
		}
	}

	if mode == "serve" {
		env.Bus = publish.NewBus(16)
		opts.Publishers = append(opts.Publishers, env.Bus)
	}
	if client := publish.OpenRedis(cfg.Publish.RedisAddr, cfg.Publish.RedisPassword, cfg.Publish.RedisDB); client != nil {
		p := publish.NewRedisPublisher(client, cfg.Publish.RedisChannel)
		opts.Publishers = append(opts.Publishers, p)
		env.closers = append(env.closers, p)
	}
	if len(cfg.Publish.KafkaBrokers) > 0 && cfg.Publish.KafkaTopic != "" {
		p := publish.NewKafkaPublisher(publish.NewKafkaWriter(cfg.Publish.KafkaBrokers, cfg.Publish.KafkaTopic))
		opts.Publishers = append(opts.Publishers, p)
		env.closers = append(env.closers, p)
	}

	env.Controller = syncer.New(newFetcher(cfg.Sheet), opts)

	if env.Store != nil {
		v, err := env.Store.LoadSnapshot(ctx)
		if err != nil {
			zap.L().Warn("load persisted snapshot", zap.Error(err))
		} else if v != nil {
			env.Controller.Seed(v)
			zap.L().Info("seeded snapshot from store",
				zap.String("fingerprint", string(v.Fingerprint)),
				zap.Int("towns", len(v.Towns)),
			)
		}
	}

	return env, nil
}

// controllerOptions maps the sheet config onto controller options.
func controllerOptions(c *config.Config) (syncer.Options, error) {
	format, err := syncer.ParseFormat(c.Sheet.Format)
	if err != nil {
		return syncer.Options{}, err
	}

	cols := normalize.DefaultColumns()
	if c.Sheet.ColumnsFile != "" {
		cols, err = normalize.LoadColumns(c.Sheet.ColumnsFile)
		if err != nil {
			return syncer.Options{}, err
		}
	}

	return syncer.Options{
		URL:      c.Sheet.URL,
		Format:   format,
		Sheet:    fetcher.XLSXOptions{SheetName: c.Sheet.SheetName},
		Interval: time.Duration(c.Sheet.PollIntervalMs) * time.Millisecond,
		Columns:  cols,
		Status:   syncer.LogSink{},
	}, nil
}

func newFetcher(c config.SheetConfig) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.UserAgent,
		Timeout:    time.Duration(c.TimeoutSecs) * time.Second,
		MaxRetries: c.MaxRetries,
	})
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	if c.Driver == "postgres" && c.DatabaseURL != "" {
		st, err = store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns})
	} else {
		st, err = store.Open(ctx, c.Driver, c.DatabaseURL)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
