package handler

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// actionView is the JSON form of an emitted action. Big integers are decimal
// strings so clients never lose precision.
type actionView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Strategy   string    `json:"strategy"`
	SourceHash string    `json:"source_hash"`
	To         string    `json:"to"`
	Data       string    `json:"data"`
	FeePerGas  string    `json:"fee_per_gas"`
	GasLimit   uint64    `json:"gas_limit"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
}

func toActionView(a domain.Action) (actionView, bool) {
	if a.Kind != domain.ActionSubmitTransaction || a.Submit == nil {
		return actionView{}, false
	}
	s := a.Submit
	v := actionView{
		ID:         s.ID,
		Kind:       string(a.Kind),
		Strategy:   s.Strategy,
		SourceHash: s.SourceHash.Hex(),
		To:         s.To.Hex(),
		Data:       hexutil.Encode(s.Data),
		GasLimit:   s.GasLimit,
		Value:      "0",
		CreatedAt:  s.CreatedAt,
	}
	if s.FeePerGas != nil {
		v.FeePerGas = s.FeePerGas.String()
	}
	if s.Value != nil {
		v.Value = s.Value.String()
	}
	return v, true
}

type submissionView struct {
	ID          string    `json:"id"`
	SourceHash  string    `json:"source_hash"`
	Strategy    string    `json:"strategy"`
	To          string    `json:"to"`
	Data        string    `json:"data"`
	FeePerGas   string    `json:"fee_per_gas"`
	GasLimit    uint64    `json:"gas_limit"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Nonce       *uint64   `json:"nonce,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func toSubmissionView(s domain.Submission) submissionView {
	v := submissionView{
		ID:          s.ID,
		SourceHash:  s.SourceHash.Hex(),
		Strategy:    s.Strategy,
		To:          s.To.Hex(),
		Data:        hexutil.Encode(s.Data),
		GasLimit:    s.GasLimit,
		Nonce:       s.Nonce,
		Status:      string(s.Status),
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
	if s.FeePerGas != nil {
		v.FeePerGas = s.FeePerGas.String()
	}
	if s.TxHash != nil {
		v.TxHash = s.TxHash.Hex()
	}
	return v
}
