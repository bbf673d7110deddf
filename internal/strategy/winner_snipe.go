package strategy

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// WinnerSnipeName is the registry name of the WinnerSnipe strategy.
const WinnerSnipeName = "winner_snipe"

// WinnerSnipe races calls to one function on one contract. For every pending
// transaction that calls the target selector on the target contract it emits
// a single SubmitTransaction carrying the bare selector at a boosted fee.
//
// WinnerSnipe holds no state across events; Evaluate is a pure function of
// its input and the immutable target and policy.
type WinnerSnipe struct {
	target domain.TargetConfig
	policy BidPolicy
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewWinnerSnipe creates the strategy for the given target and bid policy.
func NewWinnerSnipe(target domain.TargetConfig, policy BidPolicy, logger *slog.Logger) *WinnerSnipe {
	return &WinnerSnipe{
		target: target,
		policy: policy,
		logger: logger.With(slog.String("strategy", WinnerSnipeName)),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// Name returns the strategy identifier.
func (s *WinnerSnipe) Name() string { return WinnerSnipeName }

// Init is a no-op; the strategy has no state to sync.
func (s *WinnerSnipe) Init(ctx context.Context) error {
	s.logger.InfoContext(ctx, "winner snipe armed",
		slog.String("target_contract", s.target.ContractAddress.Hex()),
		slog.String("selector", s.target.FunctionSelector.String()),
		slog.String("own_address", s.target.OwnAddress.Hex()),
		slog.Uint64("fee_bump_percent", s.policy.FeeBumpPercent),
		slog.Uint64("gas_limit", s.policy.GasLimit),
	)
	return nil
}

// OnTransaction evaluates tx. It never returns an error.
func (s *WinnerSnipe) OnTransaction(_ context.Context, tx domain.PendingTransaction) ([]domain.Action, error) {
	return s.Evaluate(tx), nil
}

// Close is a no-op.
func (s *WinnerSnipe) Close() error { return nil }

// Evaluate returns exactly one action when tx calls the target selector on
// the target contract and no actions otherwise.
func (s *WinnerSnipe) Evaluate(tx domain.PendingTransaction) []domain.Action {
	log := s.logger.With(slog.String("tx_hash", tx.Hash.Hex()))

	if tx.To == nil {
		log.Debug("contract creation, skipping")
		return nil
	}
	if *tx.To != s.target.ContractAddress {
		log.Debug("transaction not for target contract, skipping",
			slog.String("to", tx.To.Hex()),
		)
		return nil
	}
	if !s.target.FunctionSelector.MatchesPrefix(tx.Input) {
		log.Debug("target contract called with another function, skipping",
			slog.String("input_prefix", inputPrefix(tx.Input)),
		)
		return nil
	}

	base := s.policy.BaseFee(tx.FeePerGas)
	bid := s.policy.Bid(tx.FeePerGas)

	log.Info("target call detected, preparing front-run",
		slog.String("selector", s.target.FunctionSelector.String()),
		slog.Bool("fee_reported", tx.FeePerGas != nil),
		slog.String("observed_fee_per_gas", base.String()),
		slog.String("bid_fee_per_gas", bid.String()),
	)

	return []domain.Action{domain.NewSubmitAction(domain.SubmitTransaction{
		ID:         s.newID(),
		SourceHash: tx.Hash,
		Strategy:   WinnerSnipeName,
		To:         s.target.ContractAddress,
		Data:       s.target.FunctionSelector.Bytes(),
		FeePerGas:  bid,
		GasLimit:   s.policy.GasLimit,
		Value:      new(big.Int),
		CreatedAt:  s.now(),
	})}
}

// inputPrefix hex-encodes at most the first selector-width bytes of data.
func inputPrefix(data []byte) string {
	if len(data) > domain.SelectorLen {
		data = data[:domain.SelectorLen]
	}
	return "0x" + hex.EncodeToString(data)
}

var (
	_ Strategy            = (*WinnerSnipe)(nil)
	_ domain.DecisionCore = (*WinnerSnipe)(nil)
)
