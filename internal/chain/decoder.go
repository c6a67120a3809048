// Package chain reads PredictionMarket logs from an EVM node and decodes them
// into typed domain events.
package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Decoder maps raw logs from known contract addresses to domain events.
type Decoder struct {
	chainID   uint64
	abi       abi.ABI
	contracts map[common.Address]string
}

// NewDecoder builds a decoder for the given contracts, keyed by logical name
// (e.g. "PredictionMarket") with hex addresses as values.
func NewDecoder(chainID uint64, contracts map[string]string) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(PredictionMarketABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	byAddr := make(map[common.Address]string, len(contracts))
	for name, hex := range contracts {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("chain: contract %s: invalid address %q", name, hex)
		}
		byAddr[common.HexToAddress(hex)] = name
	}
	return &Decoder{chainID: chainID, abi: parsed, contracts: byAddr}, nil
}

// Addresses returns the watched contract addresses in a stable order.
func (d *Decoder) Addresses() []common.Address {
	out := make([]common.Address, 0, len(d.contracts))
	for a := range d.contracts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Topics returns the topic filter matching every known event.
func (d *Decoder) Topics() [][]common.Hash {
	ids := make([]common.Hash, 0, len(d.abi.Events))
	for _, ev := range d.abi.Events {
		ids = append(ids, ev.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return [][]common.Hash{ids}
}

// Decode converts lg into a typed event. blockTime is the unix timestamp of
// the log's block.
func (d *Decoder) Decode(lg gethtypes.Log, blockTime int64) (domain.Event, error) {
	contract, ok := d.contracts[lg.Address]
	if !ok {
		return nil, fmt.Errorf("%w: log from unwatched address %s", domain.ErrUnknownEvent, lg.Address.Hex())
	}
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log at %d/%d", domain.ErrInvalidEvent, lg.BlockNumber, lg.Index)
	}
	abiEvent, err := d.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", domain.ErrUnknownEvent, lg.Topics[0].Hex())
	}

	values := make(map[string]any)
	if len(lg.Data) > 0 {
		if err := d.abi.UnpackIntoMap(values, abiEvent.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", domain.ErrInvalidEvent, abiEvent.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: %s topics: %v", domain.ErrInvalidEvent, abiEvent.Name, err)
	}

	meta := domain.EventMeta{
		ChainID:        d.chainID,
		Contract:       contract,
		Address:        strings.ToLower(lg.Address.Hex()),
		BlockNumber:    lg.BlockNumber,
		BlockTimestamp: blockTime,
		LogIndex:       lg.Index,
		TxHash:         strings.ToLower(lg.TxHash.Hex()),
	}
	a := &args{name: abiEvent.Name, values: values}

	var ev domain.Event
	switch abiEvent.Name {
	case domain.EventMarketCreated:
		ev = domain.MarketCreated{
			Meta:       meta,
			MarketID:   a.bigInt("marketId"),
			Creator:    a.address("creator"),
			Question:   a.str("question"),
			Category:   a.str("category"),
			EndTime:    a.bigInt("endTime"),
			MarketType: a.uint8("marketType"),
		}
	case domain.EventPredictionMade:
		ev = domain.PredictionMade{
			Meta:         meta,
			MarketID:     a.bigInt("marketId"),
			User:         a.address("user"),
			Side:         a.uint8("side"),
			OutcomeIndex: a.bigInt("outcomeIndex"),
			Amount:       a.bigInt("amount"),
		}
	case domain.EventMarketResolved:
		ev = domain.MarketResolved{
			Meta:                meta,
			MarketID:            a.bigInt("marketId"),
			WinningOutcome:      new(big.Int).SetUint64(uint64(a.uint8("winningOutcome"))),
			WinningOutcomeIndex: a.bigInt("winningOutcomeIndex"),
			TotalPayout:         a.bigInt("totalPayout"),
		}
	case domain.EventPayoutClaimed:
		ev = domain.PayoutClaimed{
			Meta:     meta,
			MarketID: a.bigInt("marketId"),
			User:     a.address("user"),
			Amount:   a.bigInt("amount"),
		}
	case domain.EventReputationUpdated:
		ev = domain.ReputationUpdated{
			Meta:     meta,
			User:     a.address("user"),
			NewScore: a.bigInt("newScore"),
			Streak:   a.bigInt("streak"),
		}
	case domain.EventUsernameSet:
		ev = domain.UsernameSet{Meta: meta, User: a.address("user"), Username: a.str("username")}
	case domain.EventOwnershipTransferred:
		ev = domain.OwnershipTransferred{
			Meta:          meta,
			PreviousOwner: a.address("previousOwner"),
			NewOwner:      a.address("newOwner"),
		}
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEvent, abiEvent.Name)
	}
	if a.err != nil {
		return nil, a.err
	}
	return ev, nil
}

// args extracts typed values from an unpacked log, keeping the first error.
type args struct {
	name   string
	values map[string]any
	err    error
}

func (a *args) fail(key string, v any) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: %s.%s has type %T", domain.ErrInvalidEvent, a.name, key, v)
	}
}

func (a *args) bigInt(key string) *big.Int {
	v, ok := a.values[key].(*big.Int)
	if !ok {
		a.fail(key, a.values[key])
		return nil
	}
	return v
}

func (a *args) uint8(key string) uint8 {
	v, ok := a.values[key].(uint8)
	if !ok {
		a.fail(key, a.values[key])
	}
	return v
}

func (a *args) str(key string) string {
	v, ok := a.values[key].(string)
	if !ok {
		a.fail(key, a.values[key])
	}
	return v
}

func (a *args) address(key string) string {
	v, ok := a.values[key].(common.Address)
	if !ok {
		a.fail(key, a.values[key])
		return ""
	}
	return strings.ToLower(v.Hex())
}
