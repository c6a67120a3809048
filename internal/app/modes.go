package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/predictindexer/internal/blob/s3"
	"github.com/alanyoungcy/predictindexer/internal/chain"
	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/indexer"
	"github.com/alanyoungcy/predictindexer/internal/pipeline"
	"github.com/alanyoungcy/predictindexer/internal/server"
	"github.com/alanyoungcy/predictindexer/internal/server/handler"
	"github.com/alanyoungcy/predictindexer/internal/server/middleware"
	"github.com/alanyoungcy/predictindexer/internal/server/ws"
	"github.com/alanyoungcy/predictindexer/internal/service"
)

// IndexMode follows the chain and applies events to the store. With Redis
// configured, updates reach API processes through the signal bus.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")
	orch, err := a.buildOrchestrator(ctx, deps, nil)
	if err != nil {
		return fmt.Errorf("index mode: %w", err)
	}
	return orch.Run(ctx)
}

// ServerMode serves the read API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error { return hub.Run(ctx) })
	srv := a.buildServer(deps, hub)
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// FullMode indexes and serves from one process. Without Redis the
// publisher feeds the websocket hub directly.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	orch, err := a.buildOrchestrator(ctx, deps, hub)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error { return orch.Run(ctx) })

	srv := a.buildServer(deps, hub)
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// ReplayMode re-applies every archived raw event to the configured store.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) (pipeline.ReplayResult, error) {
	a.logger.InfoContext(ctx, "starting replay mode")
	if deps.BlobReader == nil {
		return pipeline.ReplayResult{}, fmt.Errorf("replay mode: object storage is not configured")
	}
	replayer := pipeline.NewReplayer(deps.BlobReader, s3blob.LoadRawEvents, a.buildDispatcher(deps, nil), a.logger)
	res, err := replayer.Replay(ctx, s3blob.RawEventPrefix)
	if err != nil {
		return res, fmt.Errorf("replay mode: %w", err)
	}
	return res, nil
}

// buildDispatcher registers the event handlers and attaches the update
// publisher. hub may be nil.
func (a *App) buildDispatcher(deps *Dependencies, hub *ws.Hub) *indexer.Dispatcher {
	opts := indexer.Options{
		SkipDuplicates:   a.cfg.Indexer.SkipDuplicates,
		TrackFirstSeen:   a.cfg.Indexer.TrackFirstSeen,
		SourceMarketType: a.cfg.Indexer.SourceMarketType,
	}
	registry := indexer.PredictionMarketRegistry(indexer.NewHandlers(opts, a.logger))
	a.logger.Debug("handlers registered", slog.Any("bindings", registry.Bindings()))

	pubDeps := service.PublisherDeps{
		Cache:    deps.Cache,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
	}
	if hub != nil {
		pubDeps.Local = hub
	}
	publisher := service.NewUpdatePublisher(pubDeps, a.logger)

	return indexer.NewDispatcher(
		deps.Store,
		registry,
		indexer.DispatcherConfig{ConflictRetries: a.cfg.Indexer.ConflictRetries},
		deps.Metrics,
		a.logger,
		publisher,
	)
}

// buildOrchestrator dials the node and assembles the log source, the
// archive cron and leader election.
func (a *App) buildOrchestrator(ctx context.Context, deps *Dependencies, hub *ws.Hub) (*pipeline.Orchestrator, error) {
	chainCfg := a.cfg.Chain

	client, err := chain.DialEVMClient(ctx, chainCfg.RPCURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	decoder, err := chain.NewDecoder(uint64(chainCfg.ChainID), map[string]string{
		domain.ContractPredictionMarket: chainCfg.ContractAddress,
	})
	if err != nil {
		return nil, err
	}

	source := chain.NewLogSource(
		client,
		decoder,
		deps.Store.Checkpoints(),
		a.buildDispatcher(deps, hub),
		chain.SourceConfig{
			ChainID:           uint64(chainCfg.ChainID),
			Name:              domain.ContractPredictionMarket,
			StartBlock:        uint64(chainCfg.StartBlock),
			Confirmations:     uint64(chainCfg.Confirmations),
			BatchSize:         uint64(chainCfg.BatchSize),
			PollInterval:      chainCfg.PollInterval.Duration,
			MaxRetries:        chainCfg.MaxRetries,
			RetryDelay:        chainCfg.RetryDelay.Duration,
			RequestsPerSecond: chainCfg.RPCRateLimit,
		},
		deps.Metrics,
		a.logger,
	)
	source.OnError(func(ctx context.Context, err error) {
		if nerr := deps.Notifier.IndexerError(ctx, err); nerr != nil {
			a.logger.WarnContext(ctx, "indexer error alert failed", slog.String("error", nerr.Error()))
		}
	})
	if err := source.VerifyChain(ctx); err != nil {
		return nil, err
	}

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		if err := pipeline.ValidateCron(a.cfg.Archive.Cron); err != nil {
			return nil, err
		}
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	return pipeline.NewOrchestrator(source, archiver, deps.LockManager, pipeline.OrchestratorConfig{
		ArchiveCron: a.cfg.Archive.Cron,
		LeaderKey:   fmt.Sprintf("predidx:leader:%d:%s", chainCfg.ChainID, strings.ToLower(chainCfg.ContractAddress)),
		LeaderTTL:   a.cfg.Redis.LockTTL.Duration,
	}, a.logger), nil
}

// buildServer assembles the read API. Rate limiting uses Redis when
// available and an in-process limiter otherwise.
func (a *App) buildServer(deps *Dependencies, hub *ws.Hub) *server.Server {
	queries := service.NewQueryService(deps.Store, deps.Cache, a.logger)

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewLocalLimiter()
	}

	return server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(queries, uint64(a.cfg.Chain.ChainID), domain.ContractPredictionMarket, a.cfg.Mode, a.logger),
			Markets: handler.NewMarketHandler(queries, a.logger),
			Users:   handler.NewUserHandler(queries, a.logger),
		},
		hub,
		limiter,
		deps.Metrics,
		a.logger,
	)
}
