package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/winnerbot/internal/crypto"
	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// ChainBackend is the subset of ethclient.Client the submitter needs.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Submitter signs SubmitTransaction actions as legacy transactions and
// broadcasts them. Nonces come from the node's pending count, bumped locally
// so concurrent submissions do not collide.
type Submitter struct {
	backend ChainBackend
	signer  *crypto.TxSigner
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	nextNonce *uint64
}

// NewSubmitter creates a Submitter. When own is non-zero the signing key must
// control it.
func NewSubmitter(backend ChainBackend, signer *crypto.TxSigner, own common.Address, logger *slog.Logger) (*Submitter, error) {
	if backend == nil || signer == nil {
		return nil, fmt.Errorf("evm: submitter: backend and signer are required")
	}
	if own != (common.Address{}) && own != signer.Address() {
		return nil, fmt.Errorf("evm: submitter: key address %s, own address %s: %w",
			signer.Address().Hex(), own.Hex(), domain.ErrWrongSigner)
	}
	return &Submitter{
		backend: backend,
		signer:  signer,
		logger:  logger.With(slog.String("component", "submitter"), slog.String("from", signer.Address().Hex())),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Dial connects to the node's HTTP or websocket endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", url, err)
	}
	return c, nil
}

// Submit signs and broadcasts tx.
func (s *Submitter) Submit(ctx context.Context, tx domain.SubmitTransaction) (domain.SubmissionResult, error) {
	if tx.FeePerGas == nil || tx.FeePerGas.Sign() <= 0 {
		return domain.SubmissionResult{}, fmt.Errorf("evm: submit %s: fee per gas must be positive", tx.ID)
	}
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.reserveNonce(ctx)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	to := tx.To
	signed, err := s.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).Set(value),
		Gas:      tx.GasLimit,
		GasPrice: new(big.Int).Set(tx.FeePerGas),
		Data:     append([]byte(nil), tx.Data...),
	}))
	if err != nil {
		s.resetNonce()
		return domain.SubmissionResult{}, fmt.Errorf("evm: submit %s: %w", tx.ID, err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.resetNonce()
		return domain.SubmissionResult{}, fmt.Errorf("evm: send %s: %w", tx.ID, err)
	}

	s.logger.Debug("transaction broadcast",
		slog.String("action_id", tx.ID),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.String("gas_price", tx.FeePerGas.String()),
	)
	return domain.SubmissionResult{
		TxHash:      signed.Hash(),
		Nonce:       nonce,
		SubmittedAt: s.now(),
	}, nil
}

// reserveNonce returns max(node pending nonce, local next) and advances the
// local counter.
func (s *Submitter) reserveNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.backend.PendingNonceAt(ctx, s.signer.Address())
	if err != nil {
		return 0, fmt.Errorf("evm: pending nonce: %w", err)
	}
	nonce := pending
	if s.nextNonce != nil && *s.nextNonce > nonce {
		nonce = *s.nextNonce
	}
	next := nonce + 1
	s.nextNonce = &next
	return nonce, nil
}

// resetNonce forgets the local counter so the next call trusts the node.
func (s *Submitter) resetNonce() {
	s.mu.Lock()
	s.nextNonce = nil
	s.mu.Unlock()
}

var _ domain.ActionSubmitter = (*Submitter)(nil)
