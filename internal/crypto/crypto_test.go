package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known development key #1 of anvil/hardhat.
const (
	devKey     = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	devAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func TestLoadKeyRaw(t *testing.T) {
	for _, raw := range []string{devKey, strings.TrimPrefix(devKey, "0x"), " " + devKey + "\n"} {
		pk, err := LoadKey(KeyConfig{RawPrivateKey: raw})
		if err != nil {
			t.Fatalf("LoadKey(%q): %v", raw, err)
		}
		signer, err := NewTxSigner(pk, 31337)
		if err != nil {
			t.Fatalf("NewTxSigner: %v", err)
		}
		if signer.Address() != common.HexToAddress(devAddress) {
			t.Fatalf("address = %s, want %s", signer.Address().Hex(), devAddress)
		}
	}
}

func TestLoadKeyRejectsGarbage(t *testing.T) {
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "0xzz"}); err == nil {
		t.Fatal("expected error for non-hex key")
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("expected error with no key source")
	}
}

func TestEncryptedKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(devKey, "correct horse")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if strings.Contains(string(blob), strings.TrimPrefix(devKey, "0x")) {
		t.Fatal("ciphertext leaks the key")
	}
	if !strings.Contains(string(blob), devAddress) {
		t.Fatal("address missing from key file")
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	pk, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "correct horse"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	signer, _ := NewTxSigner(pk, 31337)
	if signer.Address() != common.HexToAddress(devAddress) {
		t.Fatalf("address = %s", signer.Address().Hex())
	}

	if _, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"}); err == nil {
		t.Fatal("expected error with wrong password")
	}
}

func TestEncryptKeyRequiresPassword(t *testing.T) {
	if _, err := EncryptKey(devKey, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestTxSignerSignsForChain(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: devKey})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	signer, err := NewTxSigner(pk, 31337)
	if err != nil {
		t.Fatalf("NewTxSigner: %v", err)
	}

	to := common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		To:       &to,
		Value:    new(big.Int),
		Gas:      100_000,
		GasPrice: big.NewInt(24_000_000_000),
		Data:     []byte{0xed, 0x05, 0x08, 0x4e},
	})
	signed, err := signer.SignTx(tx)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	if signed.ChainId().Int64() != 31337 {
		t.Fatalf("chain id = %s", signed.ChainId())
	}
	from, err := signer.Sender(signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != signer.Address() {
		t.Fatalf("sender = %s, want %s", from.Hex(), signer.Address().Hex())
	}
}

func TestNewTxSignerValidates(t *testing.T) {
	if _, err := NewTxSigner(nil, 1); err == nil {
		t.Fatal("expected error for nil key")
	}
	pk, _ := LoadKey(KeyConfig{RawPrivateKey: devKey})
	if _, err := NewTxSigner(pk, 0); err == nil {
		t.Fatal("expected error for zero chain id")
	}
}
