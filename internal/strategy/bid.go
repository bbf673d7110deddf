package strategy

import (
	"fmt"
	"math/big"
)

// Default bid policy values.
const (
	DefaultFeeBumpPercent uint64 = 120
	DefaultGasLimit       uint64 = 100_000
	defaultFeePerGasWei   int64  = 20_000_000_000
)

// BidPolicy controls how a competing transaction is priced.
type BidPolicy struct {
	// FeeBumpPercent is the bid as a percentage of the observed fee
	// (120 = observed + 20%).
	FeeBumpPercent uint64
	// DefaultFeePerGas is used when the observed transaction reports no fee.
	DefaultFeePerGas *big.Int
	// GasLimit is the gas limit of the competing transaction.
	GasLimit uint64
}

// DefaultBidPolicy returns a 20% premium, a 20 gwei floor and 100k gas.
func DefaultBidPolicy() BidPolicy {
	return BidPolicy{
		FeeBumpPercent:   DefaultFeeBumpPercent,
		DefaultFeePerGas: big.NewInt(defaultFeePerGasWei),
		GasLimit:         DefaultGasLimit,
	}
}

// Validate reports an invalid policy.
func (p BidPolicy) Validate() error {
	if p.FeeBumpPercent < 100 {
		return fmt.Errorf("strategy: fee_bump_percent must be >= 100, got %d", p.FeeBumpPercent)
	}
	if p.DefaultFeePerGas == nil || p.DefaultFeePerGas.Sign() <= 0 {
		return fmt.Errorf("strategy: default_fee_per_gas must be > 0")
	}
	if p.GasLimit == 0 {
		return fmt.Errorf("strategy: gas_limit must be > 0")
	}
	return nil
}

// BaseFee returns the observed fee, or the policy default when absent.
// The returned value is never the caller's pointer.
func (p BidPolicy) BaseFee(observed *big.Int) *big.Int {
	if observed == nil {
		return new(big.Int).Set(p.DefaultFeePerGas)
	}
	return new(big.Int).Set(observed)
}

// Bid computes floor(base * FeeBumpPercent / 100).
func (p BidPolicy) Bid(observed *big.Int) *big.Int {
	bid := p.BaseFee(observed)
	bid.Mul(bid, new(big.Int).SetUint64(p.FeeBumpPercent))
	return bid.Quo(bid, big.NewInt(100))
}
