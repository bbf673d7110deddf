package evm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/winnerbot/internal/crypto"
	"github.com/alanyoungcy/winnerbot/internal/domain"
)

const devKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	devAddress   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testContract = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func devSigner(t *testing.T) *crypto.TxSigner {
	t.Helper()
	pk, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: devKey})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	s, err := crypto.NewTxSigner(pk, 31337)
	if err != nil {
		t.Fatalf("NewTxSigner: %v", err)
	}
	return s
}

func signedLegacy(t *testing.T, s *crypto.TxSigner, nonce uint64, gasPrice int64) *types.Transaction {
	t.Helper()
	to := testContract
	tx, err := s.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      100_000,
		GasPrice: big.NewInt(gasPrice),
		Data:     []byte{0xed, 0x05, 0x08, 0x4e},
	}))
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	return tx
}

func TestToPendingTransactionLegacy(t *testing.T) {
	s := devSigner(t)
	tx := signedLegacy(t, s, 1, 20_000_000_000)
	seen := time.Unix(1_700_000_000, 0)

	pt := ToPendingTransaction(tx, types.LatestSignerForChainID(big.NewInt(31337)), seen)
	if pt.Hash != tx.Hash() {
		t.Fatalf("hash = %s", pt.Hash.Hex())
	}
	if pt.To == nil || *pt.To != testContract {
		t.Fatalf("to = %v", pt.To)
	}
	if pt.FeePerGas.Int64() != 20_000_000_000 {
		t.Fatalf("fee = %s", pt.FeePerGas)
	}
	if pt.From != devAddress {
		t.Fatalf("from = %s", pt.From.Hex())
	}
	if pt.Nonce != 1 || pt.Gas != 100_000 || !pt.SeenAt.Equal(seen) {
		t.Fatalf("diagnostics = %+v", pt)
	}

	pt.Input[0] = 0x00
	if tx.Data()[0] != 0xed {
		t.Fatal("input aliases transaction data")
	}
}

func TestToPendingTransactionDynamicFeeUsesFeeCap(t *testing.T) {
	to := testContract
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(31337),
		To:        &to,
		Gas:       21_000,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
	})
	pt := ToPendingTransaction(tx, nil, time.Now())
	if pt.FeePerGas.Int64() != 30_000_000_000 {
		t.Fatalf("fee = %s, want fee cap", pt.FeePerGas)
	}
	if pt.From != (common.Address{}) {
		t.Fatalf("from should be zero without signer, got %s", pt.From.Hex())
	}
}

func TestToPendingTransactionContractCreation(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Gas: 21_000, GasPrice: big.NewInt(1), Data: []byte{0x60, 0x80}})
	pt := ToPendingTransaction(tx, nil, time.Now())
	if !pt.IsContractCreation() {
		t.Fatal("expected contract creation")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, 10*time.Second, tt.attempt); got != tt.want {
			t.Fatalf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// pendingService serves eth_subscribe("newPendingTransactions", true).
type pendingService struct {
	txs []*types.Transaction
}

func (s *pendingService) NewPendingTransactions(ctx context.Context, fullTx *bool) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, tx := range s.txs {
			if err := notifier.Notify(sub.ID, tx); err != nil {
				return
			}
		}
	}()
	return sub, nil
}

func TestMempoolSourceStreamsInOrder(t *testing.T) {
	s := devSigner(t)
	txs := []*types.Transaction{
		signedLegacy(t, s, 0, 10),
		signedLegacy(t, s, 1, 20),
		signedLegacy(t, s, 2, 30),
	}

	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &pendingService{txs: txs}); err != nil {
		t.Fatalf("register: %v", err)
	}
	hs := httptest.NewServer(srv.WebsocketHandler([]string{"*"}))
	defer hs.Close()
	defer srv.Stop()

	src := NewMempoolSource(MempoolConfig{
		WsURL:   "ws" + strings.TrimPrefix(hs.URL, "http"),
		ChainID: 31337,
	}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = src.Run(ctx)
	}()

	for i, want := range txs {
		got, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if got.Hash != want.Hash() {
			t.Fatalf("tx #%d hash = %s, want %s", i, got.Hash.Hex(), want.Hash().Hex())
		}
		if got.From != devAddress {
			t.Fatalf("tx #%d from = %s", i, got.From.Hex())
		}
	}

	cancel()
	wg.Wait()
	if !errors.Is(runErr, context.Canceled) {
		t.Fatalf("Run err = %v", runErr)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, domain.ErrSourceClosed) {
		t.Fatalf("Next after close = %v, want ErrSourceClosed", err)
	}
}

func TestMempoolSourceGivesUp(t *testing.T) {
	src := NewMempoolSource(MempoolConfig{
		WsURL:         "ws://127.0.0.1:1",
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		MaxReconnects: 2,
	}, discardLogger())

	err := src.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "giving up") {
		t.Fatalf("Run err = %v", err)
	}
}

type fakeBackend struct {
	mu      sync.Mutex
	pending uint64
	sent    []*types.Transaction
	sendErr error
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func submitTx() domain.SubmitTransaction {
	return domain.SubmitTransaction{
		ID:         "a1",
		SourceHash: common.HexToHash("0x01"),
		Strategy:   "winner_snipe",
		To:         testContract,
		Data:       []byte{0xed, 0x05, 0x08, 0x4e},
		FeePerGas:  big.NewInt(24_000_000_000),
		GasLimit:   100_000,
		Value:      new(big.Int),
	}
}

func TestSubmitterBuildsLegacyTransaction(t *testing.T) {
	backend := &fakeBackend{pending: 5}
	sub, err := NewSubmitter(backend, devSigner(t), devAddress, discardLogger())
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}

	res, err := sub.Submit(context.Background(), submitTx())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent = %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Type() != types.LegacyTxType {
		t.Fatalf("type = %d, want legacy", tx.Type())
	}
	if tx.GasPrice().Int64() != 24_000_000_000 || tx.Gas() != 100_000 || tx.Value().Sign() != 0 {
		t.Fatalf("tx fields: price=%s gas=%d value=%s", tx.GasPrice(), tx.Gas(), tx.Value())
	}
	if *tx.To() != testContract || common.Bytes2Hex(tx.Data()) != "ed05084e" {
		t.Fatalf("to=%s data=%x", tx.To().Hex(), tx.Data())
	}
	if tx.ChainId().Int64() != 31337 {
		t.Fatalf("chain id = %s", tx.ChainId())
	}
	if res.Nonce != 5 || res.TxHash != tx.Hash() {
		t.Fatalf("result = %+v", res)
	}
}

func TestSubmitterNonceAdvancesLocally(t *testing.T) {
	backend := &fakeBackend{pending: 5}
	sub, _ := NewSubmitter(backend, devSigner(t), common.Address{}, discardLogger())

	first, _ := sub.Submit(context.Background(), submitTx())
	second, _ := sub.Submit(context.Background(), submitTx())
	if first.Nonce != 5 || second.Nonce != 6 {
		t.Fatalf("nonces = %d, %d", first.Nonce, second.Nonce)
	}

	backend.sendErr = errors.New("replacement transaction underpriced")
	if _, err := sub.Submit(context.Background(), submitTx()); err == nil {
		t.Fatal("expected send error")
	}
	backend.sendErr = nil
	third, _ := sub.Submit(context.Background(), submitTx())
	if third.Nonce != 5 {
		t.Fatalf("nonce after reset = %d, want node pending 5", third.Nonce)
	}
}

func TestSubmitterRejectsWrongSigner(t *testing.T) {
	other := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	_, err := NewSubmitter(&fakeBackend{}, devSigner(t), other, discardLogger())
	if !errors.Is(err, domain.ErrWrongSigner) {
		t.Fatalf("err = %v, want ErrWrongSigner", err)
	}
}

func TestSubmitterRejectsMissingFee(t *testing.T) {
	sub, _ := NewSubmitter(&fakeBackend{}, devSigner(t), devAddress, discardLogger())
	tx := submitTx()
	tx.FeePerGas = nil
	if _, err := sub.Submit(context.Background(), tx); err == nil {
		t.Fatal("expected error for nil fee")
	}
}
