package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// MarketEntityID derives the Market id from the on-chain market id.
func MarketEntityID(marketID *big.Int) string {
	return BigString(marketID)
}

// PredictionEntityID derives the Prediction id for a (market, user) pair.
// The address is lower-cased so the same user always maps to one record.
func PredictionEntityID(marketID string, user string) string {
	return marketID + "-" + NormalizeAddress(user)
}

// UserEntityID derives the User id from an address.
func UserEntityID(addr string) string {
	return NormalizeAddress(addr)
}

// RawEventID derives the raw mirror id from the log position. The format is
// {chainId}_{blockNumber}_{logIndex} and is consumed by downstream tooling.
func RawEventID(chainID, blockNumber uint64, logIndex uint) string {
	return fmt.Sprintf("%d_%d_%d", chainID, blockNumber, logIndex)
}

// NormalizeAddress lower-cases a hex address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
