package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/metrics"
)

// EVMClient is the subset of the Ethereum RPC used by LogSource.
type EVMClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// DialEVMClient connects to an Ethereum JSON-RPC endpoint.
func DialEVMClient(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// Sink receives decoded events in chain order.
type Sink interface {
	Dispatch(ctx context.Context, ev domain.Event) error
}

// SourceConfig tunes a LogSource.
type SourceConfig struct {
	ChainID       uint64
	Name          string // checkpoint key, usually the contract name
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	PollInterval  time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	// RequestsPerSecond caps RPC calls; zero means unlimited.
	RequestsPerSecond float64
}

func (c *SourceConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 2000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Name == "" {
		c.Name = domain.ContractPredictionMarket
	}
}

// LogSource polls an EVM node for contract logs, feeds them to a Sink in
// (block, logIndex) order and checkpoints progress after each window.
type LogSource struct {
	client      EVMClient
	decoder     *Decoder
	checkpoints domain.CheckpointStore
	sink        Sink
	cfg         SourceConfig
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	onError     func(ctx context.Context, err error)
}

func NewLogSource(
	client EVMClient,
	decoder *Decoder,
	checkpoints domain.CheckpointStore,
	sink Sink,
	cfg SourceConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *LogSource {
	cfg.applyDefaults()
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSource{
		client:      client,
		decoder:     decoder,
		checkpoints: checkpoints,
		sink:        sink,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, 1),
		metrics:     m,
		logger:      logger.With(slog.String("component", "log_source"), slog.Uint64("chain_id", cfg.ChainID)),
	}
}

// OnError registers a hook called when a poll fails after all retries.
func (s *LogSource) OnError(fn func(ctx context.Context, err error)) {
	s.onError = fn
}

// VerifyChain checks that the node serves the configured chain.
func (s *LogSource) VerifyChain(ctx context.Context) error {
	id, err := s.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain: fetch chain id: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != s.cfg.ChainID {
		return fmt.Errorf("chain: node serves chain %s, configured %d", id, s.cfg.ChainID)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *LogSource) Run(ctx context.Context) error {
	s.logger.Info("log source started",
		slog.String("source", s.cfg.Name),
		slog.Uint64("start_block", s.cfg.StartBlock),
		slog.Duration("poll_interval", s.cfg.PollInterval),
	)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("poll failed", slog.String("error", err.Error()))
			if s.onError != nil {
				s.onError(ctx, err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll processes every confirmed block past the checkpoint and returns the
// number of events dispatched.
func (s *LogSource) Poll(ctx context.Context) (int, error) {
	var head uint64
	err := s.call(ctx, "block number", func() error {
		var err error
		head, err = s.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.SetSourceHead(s.cfg.ChainID, head)
	if head < s.cfg.Confirmations {
		return 0, nil
	}
	safe := head - s.cfg.Confirmations

	from, err := s.nextBlock(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for from <= safe {
		to := min(from+s.cfg.BatchSize-1, safe)
		n, err := s.processRange(ctx, from, to)
		total += n
		if err != nil {
			return total, fmt.Errorf("blocks %d-%d: %w", from, to, err)
		}
		cp := domain.Checkpoint{
			ChainID:   s.cfg.ChainID,
			Source:    s.cfg.Name,
			LastBlock: to,
			UpdatedAt: time.Now().Unix(),
		}
		if err := s.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			return total, fmt.Errorf("save checkpoint %d: %w", to, err)
		}
		s.metrics.SetSourceBlock(s.cfg.ChainID, to)
		s.logger.Debug("window processed",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("events", n),
		)
		from = to + 1
	}
	return total, nil
}

func (s *LogSource) nextBlock(ctx context.Context) (uint64, error) {
	cp, err := s.checkpoints.GetCheckpoint(ctx, s.cfg.ChainID, s.cfg.Name)
	if errors.Is(err, domain.ErrNotFound) {
		return s.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return max(cp.LastBlock+1, s.cfg.StartBlock), nil
}

func (s *LogSource) processRange(ctx context.Context, from, to uint64) (int, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.decoder.Addresses(),
		Topics:    s.decoder.Topics(),
	}
	var logs []gethtypes.Log
	err := s.call(ctx, "filter logs", func() error {
		var err error
		logs, err = s.client.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return 0, err
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	times := make(map[uint64]int64)
	dispatched := 0
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ts, err := s.blockTime(ctx, lg.BlockNumber, times)
		if err != nil {
			return dispatched, err
		}
		ev, err := s.decoder.Decode(lg, ts)
		if err != nil {
			s.logger.Warn("skipping undecodable log",
				slog.Uint64("block", lg.BlockNumber),
				slog.Uint64("log_index", uint64(lg.Index)),
				slog.String("error", err.Error()),
			)
			continue
		}
		err = s.retry(ctx, "dispatch", func() error {
			err := s.sink.Dispatch(ctx, ev)
			if errors.Is(err, domain.ErrInvalidEvent) || errors.Is(err, domain.ErrUnknownEvent) {
				return permanent{err}
			}
			return err
		})
		var perm permanent
		switch {
		case errors.As(err, &perm):
			s.logger.Warn("event rejected",
				slog.String("event", ev.EventName()),
				slog.String("id", ev.Metadata().RawEventID()),
				slog.String("error", perm.err.Error()),
			)
		case err != nil:
			return dispatched, err
		default:
			dispatched++
		}
	}
	return dispatched, nil
}

func (s *LogSource) blockTime(ctx context.Context, number uint64, cache map[uint64]int64) (int64, error) {
	if ts, ok := cache[number]; ok {
		return ts, nil
	}
	var header *gethtypes.Header
	err := s.call(ctx, "header", func() error {
		var err error
		header, err = s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return 0, err
	}
	ts := int64(header.Time)
	cache[number] = ts
	return ts, nil
}

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// call is retry for RPC requests, which also pass the rate limiter.
func (s *LogSource) call(ctx context.Context, op string, fn func() error) error {
	return s.retry(ctx, op, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return permanent{err}
		}
		return fn()
	})
}

// retry runs fn with exponential backoff, RetryDelay * 2^(attempt-1), for at
// most MaxRetries retries.
func (s *LogSource) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) || ctx.Err() != nil || attempt > s.cfg.MaxRetries {
			return fmt.Errorf("%s: %w", op, err)
		}
		delay := s.cfg.RetryDelay * time.Duration(1<<(attempt-1))
		s.logger.Warn("call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
