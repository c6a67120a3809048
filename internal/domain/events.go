package domain

import (
	"fmt"
	"math/big"
	"strconv"
)

// ContractPredictionMarket is the logical name of the indexed contract.
const ContractPredictionMarket = "PredictionMarket"

// Event names as emitted by the contract.
const (
	EventMarketCreated        = "MarketCreated"
	EventPredictionMade       = "PredictionMade"
	EventMarketResolved       = "MarketResolved"
	EventPayoutClaimed        = "PayoutClaimed"
	EventReputationUpdated    = "ReputationUpdated"
	EventUsernameSet          = "UsernameSet"
	EventOwnershipTransferred = "OwnershipTransferred"
)

// EventMeta locates a decoded log on chain.
type EventMeta struct {
	ChainID        uint64 `json:"chainId" validate:"required"`
	Contract       string `json:"contract" validate:"required"`
	Address        string `json:"address,omitempty"`
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp int64  `json:"blockTimestamp"`
	LogIndex       uint   `json:"logIndex"`
	TxHash         string `json:"txHash"`
}

// RawEventID returns the mirror id for the log.
func (m EventMeta) RawEventID() string {
	return RawEventID(m.ChainID, m.BlockNumber, m.LogIndex)
}

// Event is a decoded contract log. Each concrete type carries its own
// parameters so handlers never see an untyped payload.
type Event interface {
	EventName() string
	Metadata() EventMeta
	// Params renders the event-specific parameters as strings for the raw
	// mirror: integers in base 10, addresses lower-cased.
	Params() map[string]string
}

type MarketCreated struct {
	Meta       EventMeta
	MarketID   *big.Int `validate:"required"`
	Creator    string   `validate:"required"`
	Question   string
	Category   string
	EndTime    *big.Int `validate:"required"`
	MarketType uint8
}

func (e MarketCreated) EventName() string  { return EventMarketCreated }
func (e MarketCreated) Metadata() EventMeta { return e.Meta }
func (e MarketCreated) Params() map[string]string {
	return map[string]string{
		"marketId":   BigString(e.MarketID),
		"creator":    NormalizeAddress(e.Creator),
		"question":   e.Question,
		"category":   e.Category,
		"endTime":    BigString(e.EndTime),
		"marketType": strconv.Itoa(int(e.MarketType)),
	}
}

type PredictionMade struct {
	Meta         EventMeta
	MarketID     *big.Int `validate:"required"`
	User         string   `validate:"required"`
	Side         uint8
	OutcomeIndex *big.Int
	Amount       *big.Int `validate:"required"`
}

func (e PredictionMade) EventName() string  { return EventPredictionMade }
func (e PredictionMade) Metadata() EventMeta { return e.Meta }
func (e PredictionMade) Params() map[string]string {
	return map[string]string{
		"marketId":     BigString(e.MarketID),
		"user":         NormalizeAddress(e.User),
		"side":         strconv.Itoa(int(e.Side)),
		"outcomeIndex": BigString(e.OutcomeIndex),
		"amount":       BigString(e.Amount),
	}
}

type MarketResolved struct {
	Meta                EventMeta
	MarketID            *big.Int `validate:"required"`
	WinningOutcome      *big.Int
	WinningOutcomeIndex *big.Int
	TotalPayout         *big.Int
}

func (e MarketResolved) EventName() string  { return EventMarketResolved }
func (e MarketResolved) Metadata() EventMeta { return e.Meta }
func (e MarketResolved) Params() map[string]string {
	return map[string]string{
		"marketId":            BigString(e.MarketID),
		"winningOutcome":      BigString(e.WinningOutcome),
		"winningOutcomeIndex": BigString(e.WinningOutcomeIndex),
		"totalPayout":         BigString(e.TotalPayout),
	}
}

type PayoutClaimed struct {
	Meta     EventMeta
	MarketID *big.Int `validate:"required"`
	User     string   `validate:"required"`
	Amount   *big.Int `validate:"required"`
}

func (e PayoutClaimed) EventName() string  { return EventPayoutClaimed }
func (e PayoutClaimed) Metadata() EventMeta { return e.Meta }
func (e PayoutClaimed) Params() map[string]string {
	return map[string]string{
		"marketId": BigString(e.MarketID),
		"user":     NormalizeAddress(e.User),
		"amount":   BigString(e.Amount),
	}
}

type ReputationUpdated struct {
	Meta     EventMeta
	User     string   `validate:"required"`
	NewScore *big.Int `validate:"required"`
	Streak   *big.Int `validate:"required"`
}

func (e ReputationUpdated) EventName() string  { return EventReputationUpdated }
func (e ReputationUpdated) Metadata() EventMeta { return e.Meta }
func (e ReputationUpdated) Params() map[string]string {
	return map[string]string{
		"user":     NormalizeAddress(e.User),
		"newScore": BigString(e.NewScore),
		"streak":   BigString(e.Streak),
	}
}

type UsernameSet struct {
	Meta     EventMeta
	User     string `validate:"required"`
	Username string
}

func (e UsernameSet) EventName() string  { return EventUsernameSet }
func (e UsernameSet) Metadata() EventMeta { return e.Meta }
func (e UsernameSet) Params() map[string]string {
	return map[string]string{
		"user":     NormalizeAddress(e.User),
		"username": e.Username,
	}
}

type OwnershipTransferred struct {
	Meta          EventMeta
	PreviousOwner string
	NewOwner      string `validate:"required"`
}

func (e OwnershipTransferred) EventName() string  { return EventOwnershipTransferred }
func (e OwnershipTransferred) Metadata() EventMeta { return e.Meta }
func (e OwnershipTransferred) Params() map[string]string {
	return map[string]string{
		"previousOwner": NormalizeAddress(e.PreviousOwner),
		"newOwner":      NormalizeAddress(e.NewOwner),
	}
}

// RawEvent is the append-only mirror of a single decoded log.
type RawEvent struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Meta   EventMeta         `json:"meta"`
	Params map[string]string `json:"params"`
}

// MirrorName returns the mirror collection for an event, e.g.
// PredictionMarket_MarketCreated.
func MirrorName(contract, event string) string {
	return contract + "_" + event
}

// NewRawEvent builds the raw mirror record for ev.
func NewRawEvent(ev Event) RawEvent {
	meta := ev.Metadata()
	return RawEvent{
		ID:     meta.RawEventID(),
		Name:   MirrorName(meta.Contract, ev.EventName()),
		Meta:   meta,
		Params: ev.Params(),
	}
}

// EventFromRaw rebuilds a typed event from its raw mirror, as read back from
// an archive.
func EventFromRaw(raw RawEvent) (Event, error) {
	p := rawParams{raw: raw}
	name := raw.Name
	if pre := raw.Meta.Contract + "_"; len(name) > len(pre) && name[:len(pre)] == pre {
		name = name[len(pre):]
	}

	var ev Event
	switch name {
	case EventMarketCreated:
		ev = MarketCreated{
			Meta: raw.Meta, MarketID: p.big("marketId"), Creator: p.str("creator"),
			Question: p.str("question"), Category: p.str("category"),
			EndTime: p.big("endTime"), MarketType: p.uint8("marketType"),
		}
	case EventPredictionMade:
		ev = PredictionMade{
			Meta: raw.Meta, MarketID: p.big("marketId"), User: p.str("user"),
			Side: p.uint8("side"), OutcomeIndex: p.big("outcomeIndex"), Amount: p.big("amount"),
		}
	case EventMarketResolved:
		ev = MarketResolved{
			Meta: raw.Meta, MarketID: p.big("marketId"), WinningOutcome: p.big("winningOutcome"),
			WinningOutcomeIndex: p.big("winningOutcomeIndex"), TotalPayout: p.big("totalPayout"),
		}
	case EventPayoutClaimed:
		ev = PayoutClaimed{Meta: raw.Meta, MarketID: p.big("marketId"), User: p.str("user"), Amount: p.big("amount")}
	case EventReputationUpdated:
		ev = ReputationUpdated{Meta: raw.Meta, User: p.str("user"), NewScore: p.big("newScore"), Streak: p.big("streak")}
	case EventUsernameSet:
		ev = UsernameSet{Meta: raw.Meta, User: p.str("user"), Username: p.str("username")}
	case EventOwnershipTransferred:
		ev = OwnershipTransferred{Meta: raw.Meta, PreviousOwner: p.str("previousOwner"), NewOwner: p.str("newOwner")}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, raw.Name)
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidEvent, raw.Name, raw.ID, p.err)
	}
	return ev, nil
}

type rawParams struct {
	raw RawEvent
	err error
}

func (p *rawParams) str(key string) string { return p.raw.Params[key] }

func (p *rawParams) big(key string) *big.Int {
	s, ok := p.raw.Params[key]
	if !ok {
		return nil
	}
	v, err := ParseBig(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}

func (p *rawParams) uint8(key string) uint8 {
	s, ok := p.raw.Params[key]
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return uint8(v)
}
