package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Source produces events until ctx is cancelled.
type Source interface {
	Run(ctx context.Context) error
}

// ErrLeadershipLost is returned by Run when the leader lock expires or is
// taken over while indexing.
var ErrLeadershipLost = errors.New("pipeline: leader lock lost")

// OrchestratorConfig configures the indexing pipeline.
type OrchestratorConfig struct {
	ArchiveCron string
	// LeaderKey and LeaderTTL apply when a lock manager is configured. Only
	// one indexer per key writes to the store at a time.
	LeaderKey   string
	LeaderTTL   time.Duration
	RetryLeader time.Duration
}

// Orchestrator runs the log source and the archive cron under one errgroup.
type Orchestrator struct {
	source   Source
	archiver *Archiver
	locks    domain.LockManager
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver and locks may be nil.
func NewOrchestrator(source Source, archiver *Archiver, locks domain.LockManager, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.LeaderTTL <= 0 {
		cfg.LeaderTTL = 30 * time.Second
	}
	if cfg.RetryLeader <= 0 {
		cfg.RetryLeader = cfg.LeaderTTL / 2
	}
	if cfg.LeaderKey == "" {
		cfg.LeaderKey = "predidx:leader"
	}
	return &Orchestrator{source: source, archiver: archiver, locks: locks, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled or a sub-pipeline fails. With a lock
// manager it first waits to become leader.
func (o *Orchestrator) Run(ctx context.Context) error {
	var lost <-chan struct{}
	if o.locks != nil {
		unlock, l, err := o.waitLeader(ctx)
		if err != nil {
			return err
		}
		defer unlock()
		lost = l
	}

	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.cfg.ArchiveCron),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.source.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("log source: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(gctx, o.cfg.ArchiveCron)
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if lost != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-lost:
				return ErrLeadershipLost
			}
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) waitLeader(ctx context.Context) (func(), <-chan struct{}, error) {
	for {
		unlock, lost, err := o.locks.Hold(ctx, o.cfg.LeaderKey, o.cfg.LeaderTTL)
		if err == nil {
			o.logger.Info("acquired leader lock", slog.String("key", o.cfg.LeaderKey))
			return unlock, lost, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			o.logger.Warn("leader lock attempt failed", slog.String("error", err.Error()))
		} else {
			o.logger.Debug("standing by, leader lock held elsewhere", slog.String("key", o.cfg.LeaderKey))
		}

		t := time.NewTimer(o.cfg.RetryLeader)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil, ctx.Err()
		case <-t.C:
		}
	}
}
