package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/store/kv"
)

const (
	testChainID  = 8453
	contractAddr = "0x00000000000000000000000000000000000000C0"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder(testChainID, map[string]string{domain.ContractPredictionMarket: contractAddr})
	require.NoError(t, err)
	return d
}

// buildLog packs an event the way the contract would emit it.
func buildLog(t *testing.T, d *Decoder, name string, block uint64, index uint, topics []common.Hash, data ...any) gethtypes.Log {
	t.Helper()
	ev, ok := d.abi.Events[name]
	require.True(t, ok, name)
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return gethtypes.Log{
		Address:     common.HexToAddress(contractAddr),
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        packed,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000) + int64(index))),
	}
}

func addrTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }
func uintTopic(v int64) common.Hash          { return common.BigToHash(big.NewInt(v)) }

func TestDecodeMarketCreated(t *testing.T) {
	d := newTestDecoder(t)
	lg := buildLog(t, d, "MarketCreated", 10, 2,
		[]common.Hash{uintTopic(1), addrTopic(alice)},
		"Will it rain?", "weather", big.NewInt(1700000000), uint8(1),
	)
	ev, err := d.Decode(lg, 1690000000)
	require.NoError(t, err)

	mc, ok := ev.(domain.MarketCreated)
	require.True(t, ok)
	assert.Equal(t, "1", mc.MarketID.String())
	assert.Equal(t, "0x00000000000000000000000000000000000a11ce", mc.Creator)
	assert.Equal(t, "Will it rain?", mc.Question)
	assert.Equal(t, "weather", mc.Category)
	assert.Equal(t, uint8(1), mc.MarketType)
	assert.Equal(t, domain.EventMeta{
		ChainID:        testChainID,
		Contract:       domain.ContractPredictionMarket,
		Address:        "0x00000000000000000000000000000000000000c0",
		BlockNumber:    10,
		BlockTimestamp: 1690000000,
		LogIndex:       2,
		TxHash:         mc.Meta.TxHash,
	}, mc.Meta)
	assert.Equal(t, "8453_10_2", mc.Meta.RawEventID())
}

func TestDecodeAllEvents(t *testing.T) {
	d := newTestDecoder(t)
	cases := []struct {
		log  gethtypes.Log
		name string
	}{
		{buildLog(t, d, "PredictionMade", 1, 0, []common.Hash{uintTopic(1), addrTopic(bob)}, uint8(1), big.NewInt(0), big.NewInt(5)), domain.EventPredictionMade},
		{buildLog(t, d, "MarketResolved", 1, 1, []common.Hash{uintTopic(1)}, uint8(1), big.NewInt(0), big.NewInt(10)), domain.EventMarketResolved},
		{buildLog(t, d, "PayoutClaimed", 1, 2, []common.Hash{uintTopic(1), addrTopic(bob)}, big.NewInt(10)), domain.EventPayoutClaimed},
		{buildLog(t, d, "ReputationUpdated", 1, 3, []common.Hash{addrTopic(bob)}, big.NewInt(50), big.NewInt(5)), domain.EventReputationUpdated},
		{buildLog(t, d, "UsernameSet", 1, 4, []common.Hash{addrTopic(bob)}, "bob"), domain.EventUsernameSet},
		{buildLog(t, d, "OwnershipTransferred", 1, 5, []common.Hash{addrTopic(alice), addrTopic(bob)}), domain.EventOwnershipTransferred},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := d.Decode(tc.log, 1)
			require.NoError(t, err)
			assert.Equal(t, tc.name, ev.EventName())
		})
	}

	ev, err := d.Decode(cases[0].log, 1)
	require.NoError(t, err)
	pm := ev.(domain.PredictionMade)
	assert.Equal(t, uint8(1), pm.Side)
	assert.Equal(t, "5", pm.Amount.String())
}

func TestDecodeRejectsForeignAndMalformedLogs(t *testing.T) {
	d := newTestDecoder(t)
	lg := buildLog(t, d, "PayoutClaimed", 1, 0, []common.Hash{uintTopic(1), addrTopic(bob)}, big.NewInt(10))

	foreign := lg
	foreign.Address = alice
	_, err := d.Decode(foreign, 1)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	unknownTopic := lg
	unknownTopic.Topics = append([]common.Hash{common.HexToHash("0x01")}, lg.Topics[1:]...)
	_, err = d.Decode(unknownTopic, 1)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	truncated := lg
	truncated.Data = lg.Data[:10]
	_, err = d.Decode(truncated, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = NewDecoder(1, map[string]string{"X": "nope"})
	assert.Error(t, err)
}

type fakeClient struct {
	mu        sync.Mutex
	head      uint64
	logs      []gethtypes.Log
	failNext  int
	filterLog []ethereum.FilterQuery
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(testChainID), nil
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return 0, errors.New("connection reset")
	}
	return f.head, nil
}

func (f *fakeClient) HeaderByNumber(_ context.Context, n *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: n, Time: 1700000000 + n.Uint64()*12}, nil
}

func (f *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterLog = append(f.filterLog, q)
	var out []gethtypes.Log
	// Return newest first to exercise ordering.
	for i := len(f.logs) - 1; i >= 0; i-- {
		lg := f.logs[i]
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

type recordingSink struct {
	events []domain.Event
	reject map[string]error
}

func (r *recordingSink) Dispatch(_ context.Context, ev domain.Event) error {
	if err, ok := r.reject[ev.Metadata().RawEventID()]; ok {
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestLogSourcePollOrdersAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	d := newTestDecoder(t)
	client := &fakeClient{
		head: 30,
		logs: []gethtypes.Log{
			buildLog(t, d, "MarketCreated", 5, 0, []common.Hash{uintTopic(1), addrTopic(alice)}, "Q", "c", big.NewInt(1), uint8(0)),
			buildLog(t, d, "PredictionMade", 5, 3, []common.Hash{uintTopic(1), addrTopic(bob)}, uint8(0), big.NewInt(0), big.NewInt(7)),
			buildLog(t, d, "UsernameSet", 12, 1, []common.Hash{addrTopic(bob)}, "bob"),
			buildLog(t, d, "UsernameSet", 29, 0, []common.Hash{addrTopic(alice)}, "alice"),
		},
	}
	store := kv.NewMemory()
	sink := &recordingSink{}
	src := NewLogSource(client, d, store.Checkpoints(), sink, SourceConfig{
		ChainID:       testChainID,
		StartBlock:    1,
		Confirmations: 5,
		BatchSize:     10,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
	}, nil, nil)
	require.NoError(t, src.VerifyChain(ctx))

	n, err := src.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.events, 3)
	assert.Equal(t, domain.EventMarketCreated, sink.events[0].EventName())
	assert.Equal(t, domain.EventPredictionMade, sink.events[1].EventName())
	assert.Equal(t, int64(1700000000+5*12), sink.events[0].Metadata().BlockTimestamp)
	assert.Len(t, client.filterLog, 3)

	cp, err := store.Checkpoints().GetCheckpoint(ctx, testChainID, domain.ContractPredictionMarket)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), cp.LastBlock)

	client.head = 40
	n, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(29), int64(sink.events[3].Metadata().BlockNumber))
}

func TestLogSourceRetriesAndSkipsRejected(t *testing.T) {
	ctx := context.Background()
	d := newTestDecoder(t)
	bad := buildLog(t, d, "UsernameSet", 3, 0, []common.Hash{addrTopic(bob)}, "bob")
	good := buildLog(t, d, "UsernameSet", 3, 1, []common.Hash{addrTopic(alice)}, "alice")
	client := &fakeClient{head: 3, failNext: 2, logs: []gethtypes.Log{bad, good}}
	sink := &recordingSink{reject: map[string]error{
		domain.RawEventID(testChainID, 3, 0): domain.ErrInvalidEvent,
	}}
	store := kv.NewMemory()
	src := NewLogSource(client, d, store.Checkpoints(), sink, SourceConfig{
		ChainID:    testChainID,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, nil, nil)

	n, err := src.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.events, 1)
	assert.Equal(t, uint(1), sink.events[0].Metadata().LogIndex)
}

func TestLogSourceStopsOnPersistentSinkFailure(t *testing.T) {
	ctx := context.Background()
	d := newTestDecoder(t)
	lg := buildLog(t, d, "UsernameSet", 3, 0, []common.Hash{addrTopic(bob)}, "bob")
	client := &fakeClient{head: 3, logs: []gethtypes.Log{lg}}
	sink := &recordingSink{reject: map[string]error{
		domain.RawEventID(testChainID, 3, 0): errors.New("database is down"),
	}}
	store := kv.NewMemory()
	src := NewLogSource(client, d, store.Checkpoints(), sink, SourceConfig{
		ChainID:    testChainID,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, nil, nil)

	_, err := src.Poll(ctx)
	require.Error(t, err)
	_, err = store.Checkpoints().GetCheckpoint(ctx, testChainID, domain.ContractPredictionMarket)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
