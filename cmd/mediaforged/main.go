// SPDX-License-Identifier: MIT

// mediaforged is the media processing daemon: it serves the job API,
// runs the per-queue worker pool and the reconciliation sweeps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/actions/builtin"
	"github.com/mediaforge-io/mediaforge/internal/api"
	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/config"
	"github.com/mediaforge-io/mediaforge/internal/jobs"
	mflog "github.com/mediaforge-io/mediaforge/internal/log"
	"github.com/mediaforge-io/mediaforge/internal/objstore"
	"github.com/mediaforge-io/mediaforge/internal/reconcile"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/telemetry"
	"github.com/mediaforge-io/mediaforge/internal/version"
	"github.com/mediaforge-io/mediaforge/internal/worker"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	mflog.Configure(mflog.Config{
		Level:   "info",
		Service: "mediaforged",
		Version: version.Version,
	})
	logger := mflog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration load failed")
	}
	mflog.Configure(mflog.Config{
		Level:   cfg.LogLevel,
		Service: "mediaforged",
		Version: version.Version,
	})

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    "mediaforged",
		ServiceVersion: version.Version,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry init failed")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	st, err := store.New(cfg.SQLite.Path, mflog.WithComponent("store"))
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SQLite.Path).Msg("metadata store open failed")
	}
	defer func() { _ = st.Close() }()

	br, err := broker.New(cfg.Redis, broker.Options{MaxAttempts: cfg.JobMaxRetries}, mflog.WithComponent("broker"))
	if err != nil {
		logger.Fatal().Err(err).Msg("broker connection failed")
	}
	defer func() { _ = br.Close() }()

	objects, err := newObjectStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store init failed")
	}

	registry := actions.NewRegistry(mflog.WithComponent("actions"))
	if err := builtin.RegisterAll(registry); err != nil {
		logger.Fatal().Err(err).Msg("builtin action registration failed")
	}
	registry.Freeze()

	svc := jobs.NewService(st, br, objects, registry)
	pool := worker.NewPool(st, br, objects, registry, worker.Options{
		Concurrency:   cfg.QueueConcurrency,
		JobTimeout:    cfg.JobTimeout,
		RetentionDays: cfg.RetentionDays,
	})
	rec := reconcile.New(st, br, objects, cfg.JobTimeout)
	srv := api.New(cfg.OpsListen, svc, st, br, registry)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(runCtx) })
	g.Go(func() error { return rec.Start(runCtx) })
	g.Go(func() error { return srv.Start(runCtx) })

	logger.Info().
		Str("version", version.Version).
		Str("listen", cfg.OpsListen).
		Int("queue_concurrency", cfg.QueueConcurrency).
		Msg("mediaforged started")

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("mediaforged stopped")
}

func newObjectStore(cfg config.Config) (objstore.Store, error) {
	switch cfg.Object.Backend {
	case "s3":
		return objstore.NewS3Store(cfg.Object.S3, mflog.WithComponent("objstore"))
	default:
		return objstore.NewFSStore(cfg.Object.FSRoot, mflog.WithComponent("objstore"))
	}
}
