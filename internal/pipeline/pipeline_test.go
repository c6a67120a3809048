package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseCronFields(t *testing.T) {
	s, err := parseCron("*/15 3 1-5 * 1,3")
	require.NoError(t, err)
	assert.True(t, s.matches(time.Date(2025, 1, 1, 3, 30, 0, 0, time.UTC)))  // Wednesday
	assert.False(t, s.matches(time.Date(2025, 1, 1, 3, 31, 0, 0, time.UTC))) // minute
	assert.False(t, s.matches(time.Date(2025, 1, 6, 3, 30, 0, 0, time.UTC))) // day 6
	assert.False(t, s.matches(time.Date(2025, 1, 2, 3, 30, 0, 0, time.UTC))) // Thursday

	for _, bad := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		assert.Error(t, ValidateCron(bad), bad)
	}
}

func TestNextCronTime(t *testing.T) {
	s, err := parseCron("0 3 * * *")
	require.NoError(t, err)
	next, err := s.next(time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 2, 3, 0, 0, 0, time.UTC), next)

	s, err = parseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = s.next(time.Now())
	assert.Error(t, err)
}

type stubArchiver struct {
	cutoff time.Time
	n      int64
	err    error
}

func (s *stubArchiver) ArchiveRawEvents(_ context.Context, before time.Time) (int64, error) {
	s.cutoff = before
	return s.n, s.err
}

func TestArchiverRunUsesRetention(t *testing.T) {
	stub := &stubArchiver{n: 4}
	a := NewArchiver(stub, 30, discard())
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, now.Add(-30*24*time.Hour), stub.cutoff)

	stub.err = errors.New("s3 down")
	_, err = a.Run(context.Background())
	assert.ErrorContains(t, err, "s3 down")
}

type memReader struct{}

func (memReader) Get(context.Context, string) (io.ReadCloser, error) { return nil, domain.ErrNotFound }
func (memReader) List(context.Context, string) ([]domain.BlobInfo, error) {
	return nil, nil
}

type recordingDispatcher struct {
	got  []string
	fail map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev domain.Event) error {
	id := ev.Metadata().RawEventID()
	if err := d.fail[id]; err != nil {
		return err
	}
	d.got = append(d.got, id)
	return nil
}

func usernameRaw(block uint64) domain.RawEvent {
	ev := domain.UsernameSet{
		Meta:     domain.EventMeta{ChainID: 1, Contract: domain.ContractPredictionMarket, BlockNumber: block},
		User:     "0xaaa",
		Username: "alice",
	}
	return domain.NewRawEvent(ev)
}

func TestReplayerDispatchesInOrderAndSkipsInvalid(t *testing.T) {
	bad := domain.RawEvent{ID: "1_2_0", Name: "PredictionMarket_Nope", Meta: domain.EventMeta{ChainID: 1, BlockNumber: 2}}
	raws := []domain.RawEvent{usernameRaw(1), bad, usernameRaw(3)}
	load := func(context.Context, domain.BlobReader, string) ([]domain.RawEvent, error) { return raws, nil }

	d := &recordingDispatcher{}
	res, err := NewReplayer(memReader{}, load, d, discard()).Replay(context.Background(), "archive/")
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Total: 3, Applied: 2, Skipped: 1}, res)
	assert.Equal(t, []string{"1_1_0", "1_3_0"}, d.got)
}

func TestReplayerStopsOnStoreError(t *testing.T) {
	raws := []domain.RawEvent{usernameRaw(1), usernameRaw(2)}
	load := func(context.Context, domain.BlobReader, string) ([]domain.RawEvent, error) { return raws, nil }
	d := &recordingDispatcher{fail: map[string]error{"1_1_0": errors.New("disk full")}}

	res, err := NewReplayer(memReader{}, load, d, discard()).Replay(context.Background(), "archive/")
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, res.Applied)
	assert.Empty(t, d.got)
}

type blockingSource struct{ started atomic.Bool }

func (s *blockingSource) Run(ctx context.Context) error {
	s.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	attempts int
	lost     chan struct{}
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func (f *fakeLocks) Hold(context.Context, string, time.Duration) (func(), <-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.held {
		f.held = false
		return nil, nil, domain.ErrLockHeld
	}
	return func() {}, f.lost, nil
}

func TestOrchestratorStopsCleanlyOnCancel(t *testing.T) {
	src := &blockingSource{}
	o := NewOrchestrator(src, nil, nil, OrchestratorConfig{}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, src.started.Load, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestOrchestratorWaitsForLeaderAndStopsWhenLost(t *testing.T) {
	src := &blockingSource{}
	locks := &fakeLocks{held: true, lost: make(chan struct{})}
	o := NewOrchestrator(src, nil, locks, OrchestratorConfig{RetryLeader: 5 * time.Millisecond}, discard())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	require.Eventually(t, src.started.Load, time.Second, 5*time.Millisecond)
	locks.mu.Lock()
	assert.Equal(t, 2, locks.attempts)
	locks.mu.Unlock()

	close(locks.lost)
	assert.ErrorIs(t, <-done, ErrLeadershipLost)
}

func TestOrchestratorSourceFailure(t *testing.T) {
	o := NewOrchestrator(sourceFunc(func(context.Context) error { return errors.New("rpc gone") }), nil, nil, OrchestratorConfig{}, discard())
	assert.ErrorContains(t, o.Run(context.Background()), "rpc gone")
}

type sourceFunc func(ctx context.Context) error

func (f sourceFunc) Run(ctx context.Context) error { return f(ctx) }
