package domain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SelectorLen is the width of a function selector in bytes.
const SelectorLen = 4

// Selector is the fixed-width prefix of contract call data that identifies
// the invoked function.
type Selector [SelectorLen]byte

// ParseSelector decodes a hex selector such as "0xed05084e" or "ed05084e".
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return sel, fmt.Errorf("domain: parse selector %q: %w", s, err)
	}
	if len(raw) != SelectorLen {
		return sel, fmt.Errorf("domain: selector %q must be %d bytes, got %d", s, SelectorLen, len(raw))
	}
	copy(sel[:], raw)
	return sel, nil
}

// MustParseSelector is like ParseSelector but panics on error. Intended for
// constants and tests.
func MustParseSelector(s string) Selector {
	sel, err := ParseSelector(s)
	if err != nil {
		panic(err)
	}
	return sel
}

// String returns the 0x-prefixed lower-case hex form.
func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// Bytes returns a fresh copy of the selector bytes.
func (s Selector) Bytes() []byte {
	out := make([]byte, SelectorLen)
	copy(out, s[:])
	return out
}

// MatchesPrefix reports whether data starts with the selector. Data shorter
// than the selector never matches.
func (s Selector) MatchesPrefix(data []byte) bool {
	return len(data) >= SelectorLen && bytes.Equal(data[:SelectorLen], s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so selectors can be read
// straight from TOML.
func (s *Selector) UnmarshalText(text []byte) error {
	sel, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = sel
	return nil
}

// TargetConfig names the contract call being watched. It is set once at
// startup and shared read-only.
type TargetConfig struct {
	ContractAddress  common.Address
	FunctionSelector Selector
	OwnAddress       common.Address
}

// PendingTransaction is one transaction observed in the pending pool. Only
// Hash, To, Input and FeePerGas take part in decisions; the remaining fields
// are carried for diagnostics.
type PendingTransaction struct {
	Hash      common.Hash
	To        *common.Address // nil for contract creation
	Input     []byte
	FeePerGas *big.Int // nil when the source did not report one
	From      common.Address
	Nonce     uint64
	Gas       uint64
	SeenAt    time.Time
}

// IsContractCreation reports whether the transaction has no recipient.
func (t PendingTransaction) IsContractCreation() bool {
	return t.To == nil
}

// Recipient returns the hex recipient or an empty string for contract
// creation. Used for logging only.
func (t PendingTransaction) Recipient() string {
	if t.To == nil {
		return ""
	}
	return t.To.Hex()
}
