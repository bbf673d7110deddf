package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SubmissionStatus is the terminal outcome of handling one SubmitTransaction.
type SubmissionStatus string

const (
	SubmissionSubmitted   SubmissionStatus = "submitted"
	SubmissionFailed      SubmissionStatus = "failed"
	SubmissionDuplicate   SubmissionStatus = "duplicate"
	SubmissionRateLimited SubmissionStatus = "rate_limited"
	SubmissionDropped     SubmissionStatus = "dropped"
	SubmissionDryRun      SubmissionStatus = "dry_run"
)

// SubmissionResult is what an ActionSubmitter reports for one action.
type SubmissionResult struct {
	TxHash      common.Hash
	Nonce       uint64
	SubmittedAt time.Time
}

// Submission is the persisted record of one action and its outcome.
type Submission struct {
	ID          string
	SourceHash  common.Hash
	Strategy    string
	To          common.Address
	Data        []byte
	FeePerGas   *big.Int
	GasLimit    uint64
	TxHash      *common.Hash
	Nonce       *uint64
	Status      SubmissionStatus
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// NewSubmission builds a record for the given action with the given outcome.
func NewSubmission(tx SubmitTransaction, status SubmissionStatus) Submission {
	return Submission{
		ID:          tx.ID,
		SourceHash:  tx.SourceHash,
		Strategy:    tx.Strategy,
		To:          tx.To,
		Data:        tx.Data,
		FeePerGas:   tx.FeePerGas,
		GasLimit:    tx.GasLimit,
		Status:      status,
		CreatedAt:   tx.CreatedAt,
		CompletedAt: time.Now().UTC(),
	}
}
