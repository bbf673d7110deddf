package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// TxSigner signs transactions for one chain with one key. The key never leaves
// this type.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	signer     types.Signer
}

// NewTxSigner creates a TxSigner for chainID (31337 for a local anvil or
// hardhat node).
func NewTxSigner(pk *ecdsa.PrivateKey, chainID int64) (*TxSigner, error) {
	if pk == nil {
		return nil, fmt.Errorf("crypto/signer: nil private key")
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %d", chainID)
	}
	id := big.NewInt(chainID)
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the address derived from the signing key.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// ChainID returns a copy of the chain id transactions are signed for.
func (s *TxSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx with replay protection for the configured chain.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}

// Sender recovers the sender of a signed transaction.
func (s *TxSigner) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(s.signer, tx)
}
