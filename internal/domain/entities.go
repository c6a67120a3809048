package domain

import "math/big"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "Active"
	MarketStatusResolved  MarketStatus = "Resolved"
	MarketStatusCancelled MarketStatus = "Cancelled"
)

// MarketType distinguishes binary yes/no markets from multi-outcome ones.
type MarketType uint8

const (
	MarketTypeBinary      MarketType = 0
	MarketTypeCrowdWisdom MarketType = 1
)

func (t MarketType) String() string {
	switch t {
	case MarketTypeBinary:
		return "Binary"
	case MarketTypeCrowdWisdom:
		return "CrowdWisdom"
	default:
		return "Unknown"
	}
}

// Market is the indexed state of a single prediction market.
//
// Version is an optimistic concurrency token owned by the store. A Save with
// a stale Version fails with ErrConflict.
type Market struct {
	ID                  string       `json:"id"`
	MarketID            *big.Int     `json:"marketId"`
	Creator             string       `json:"creator"`
	Question            string       `json:"question"`
	Category            string       `json:"category"`
	MarketType          MarketType   `json:"marketType"`
	EndTime             *big.Int     `json:"endTime"`
	Status              MarketStatus `json:"status"`
	Resolved            bool         `json:"resolved"`
	WinningOutcome      *big.Int     `json:"winningOutcome,omitempty"`
	WinningOutcomeIndex *big.Int     `json:"winningOutcomeIndex,omitempty"`
	TotalPayout         *big.Int     `json:"totalPayout,omitempty"`
	YesPool             *big.Int     `json:"yesPool"`
	NoPool              *big.Int     `json:"noPool"`
	TotalPool           *big.Int     `json:"totalPool"`
	CreatedAt           int64        `json:"createdAt"`
	ResolvedAt          int64        `json:"resolvedAt,omitempty"`
	PredictionCount     int64        `json:"predictionCount"`
	Version             int64        `json:"version"`
}

// Prediction aggregates every stake one user placed on one market.
type Prediction struct {
	ID           string   `json:"id"`
	MarketID     string   `json:"marketId"`
	User         string   `json:"user"`
	Side         uint8    `json:"side"`
	OutcomeIndex *big.Int `json:"outcomeIndex"`
	Amount       *big.Int `json:"amount"`
	Timestamp    int64    `json:"timestamp"`
	Claimed      bool     `json:"claimed"`
	ClaimedAt    int64    `json:"claimedAt,omitempty"`
	Version      int64    `json:"version"`
}

// User is the per-address activity and reputation profile.
//
// Counted records whether the user has been added to GlobalStats.TotalUsers.
type User struct {
	ID                  string   `json:"id"`
	Address             string   `json:"address"`
	Username            string   `json:"username,omitempty"`
	TotalPredictions    int64    `json:"totalPredictions"`
	MarketsParticipated int64    `json:"marketsParticipated"`
	CorrectPredictions  int64    `json:"correctPredictions"`
	TotalStaked         *big.Int `json:"totalStaked"`
	TotalWinnings       *big.Int `json:"totalWinnings"`
	ReputationScore     *big.Int `json:"reputationScore"`
	CurrentStreak       *big.Int `json:"currentStreak"`
	BestStreak          *big.Int `json:"bestStreak"`
	FirstSeenAt         int64    `json:"firstSeenAt"`
	Counted             bool     `json:"counted"`
	Version             int64    `json:"version"`
}

// GlobalStatsID is the id of the singleton stats record.
const GlobalStatsID = "global"

// GlobalStats holds protocol-wide counters.
type GlobalStats struct {
	ID               string   `json:"id"`
	TotalMarkets     int64    `json:"totalMarkets"`
	TotalPredictions int64    `json:"totalPredictions"`
	TotalVolume      *big.Int `json:"totalVolume"`
	TotalUsers       int64    `json:"totalUsers"`
	TotalResolved    int64    `json:"totalResolved"`
}

// StatsDelta is an increment applied atomically to GlobalStats.
type StatsDelta struct {
	Markets     int64
	Predictions int64
	Volume      *big.Int
	Users       int64
	Resolved    int64
}

// IsZero reports whether applying the delta would change nothing.
func (d StatsDelta) IsZero() bool {
	return d.Markets == 0 && d.Predictions == 0 && d.Users == 0 && d.Resolved == 0 &&
		(d.Volume == nil || d.Volume.Sign() == 0)
}

// Checkpoint records the last fully processed block for a log source.
type Checkpoint struct {
	ChainID   uint64 `json:"chainId"`
	Source    string `json:"source"`
	LastBlock uint64 `json:"lastBlock"`
	UpdatedAt int64  `json:"updatedAt"`
}
