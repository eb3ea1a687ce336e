package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/api"
	"github.com/warp/report-engine/config"
	"github.com/warp/report-engine/delivery"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/locks"
	"github.com/warp/report-engine/reconciliation"
	"github.com/warp/report-engine/render"
	"github.com/warp/report-engine/reports"
	"github.com/warp/report-engine/store/sqlite"
)

// app is the wired service. Close releases everything newApp opened.
type app struct {
	cfg      config.Config
	log      *logrus.Logger
	store    *sqlite.Store
	pipeline *reports.Pipeline
	handler  *api.Handler

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	sink, err := a.newSink(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		locker     reports.Locker     = locks.NewKeyed()
		dispatcher reports.Dispatcher = delivery.NewLogDispatcher(log)
	)
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		locker = locks.NewRedis(rdb, cfg.LockTTL, log)
		dispatcher = delivery.Multi{
			delivery.NewLogDispatcher(log),
			delivery.NewRedisDispatcher(rdb, cfg.DeliveryStream, 10000),
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis locking and delivery stream enabled")
	}

	clock := generic.SystemClock{}
	aggregator := analytics.NewAggregator(store)
	a.pipeline = reports.NewPipeline(reports.Config{
		Store:           store,
		Aggregator:      aggregator,
		Renderer:        render.New(sink),
		Dispatcher:      dispatcher,
		Locker:          locker,
		Clock:           clock,
		Logger:          log.WithField("component", "pipeline"),
		RenderTimeout:   cfg.RenderTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
		Concurrency:     cfg.SchedulerConcurrency,
	})

	recon := reconciliation.NewService(store, generic.NewLedger(store), reconciliation.NewMatcher(nil), clock,
		log.WithField("component", "reconciliation"))

	a.handler = api.NewHandler(api.Deps{
		Pipeline:        a.pipeline,
		Store:           store,
		Aggregator:      aggregator,
		Reconciliations: recon,
		Importer:        store,
		Clock:           clock,
		Log:             log,
	})
	return a, nil
}

// newSink stores artifacts in GCS when a bucket is configured, else on disk.
func (a *app) newSink(ctx context.Context) (render.Sink, error) {
	if a.cfg.GCSBucket == "" {
		a.log.WithField("dir", a.cfg.ArtifactDir).Info("storing artifacts on local disk")
		return render.NewLocalSink(a.cfg.ArtifactDir), nil
	}
	sink, err := render.NewGCSSink(ctx, a.cfg.GCSBucket, a.cfg.GCSPrefix)
	if err != nil {
		return nil, fmt.Errorf("gcs bucket %s: %w", a.cfg.GCSBucket, err)
	}
	a.closers = append(a.closers, sink.Close)
	a.log.WithField("bucket", a.cfg.GCSBucket).Info("storing artifacts in GCS")
	return sink, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
