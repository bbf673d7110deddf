package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActionKind tags the variant carried by an Action.
type ActionKind string

const (
	ActionSubmitTransaction ActionKind = "submit_transaction"
)

// Action is an outbound request produced by a strategy and consumed by the
// executor. Exactly one variant field is set, matching Kind.
type Action struct {
	Kind   ActionKind
	Submit *SubmitTransaction
}

// SubmitTransaction asks the submitter to sign and broadcast a transaction.
type SubmitTransaction struct {
	ID         string      // uuid, unique per action
	SourceHash common.Hash // pending transaction that triggered the action
	Strategy   string
	To         common.Address
	Data       []byte
	FeePerGas  *big.Int
	GasLimit   uint64
	Value      *big.Int
	CreatedAt  time.Time
}

// NewSubmitAction wraps a SubmitTransaction in an Action.
func NewSubmitAction(tx SubmitTransaction) Action {
	return Action{Kind: ActionSubmitTransaction, Submit: &tx}
}
