// Package evm connects winnerbot to an Ethereum-compatible node: it streams
// pending transactions into the strategy engine and broadcasts the
// transactions the executor asks for.
package evm

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// ToPendingTransaction converts a node transaction into the domain form.
// signer recovers the sender; recovery failures leave From zero.
func ToPendingTransaction(tx *types.Transaction, signer types.Signer, seenAt time.Time) domain.PendingTransaction {
	pt := domain.PendingTransaction{
		Hash:      tx.Hash(),
		To:        tx.To(),
		Input:     common.CopyBytes(tx.Data()),
		FeePerGas: feePerGas(tx),
		Gas:       tx.Gas(),
		Nonce:     tx.Nonce(),
		SeenAt:    seenAt,
	}
	if signer != nil {
		if from, err := types.Sender(signer, tx); err == nil {
			pt.From = from
		}
	}
	return pt
}

// feePerGas is the legacy gas price, or the fee cap for typed fee-market
// transactions.
func feePerGas(tx *types.Transaction) *big.Int {
	var fee *big.Int
	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType:
		fee = tx.GasPrice()
	default:
		fee = tx.GasFeeCap()
	}
	if fee == nil {
		return nil
	}
	return new(big.Int).Set(fee)
}
