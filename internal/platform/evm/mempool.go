package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/metrics"
)

// MempoolConfig configures a MempoolSource.
type MempoolConfig struct {
	WsURL         string
	ChainID       int64
	Buffer        int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	MaxReconnects int // consecutive failures before giving up; 0 retries forever
}

// MempoolSource subscribes to a node's pending-transaction feed over a
// websocket and exposes it as a domain.EventSource. Run owns the connection
// and reconnects with exponential backoff; Next hands transactions to the
// engine in arrival order.
type MempoolSource struct {
	cfg    MempoolConfig
	signer types.Signer
	txCh   chan domain.PendingTransaction
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
}

// NewMempoolSource creates a source for cfg. Call Run to start streaming.
func NewMempoolSource(cfg MempoolConfig, logger *slog.Logger) *MempoolSource {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	var signer types.Signer
	if cfg.ChainID > 0 {
		signer = types.LatestSignerForChainID(big.NewInt(cfg.ChainID))
	}
	return &MempoolSource{
		cfg:    cfg,
		signer: signer,
		txCh:   make(chan domain.PendingTransaction, cfg.Buffer),
		logger: logger.With(slog.String("component", "mempool_source")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Next blocks until a pending transaction is available. It returns
// domain.ErrSourceClosed once Run has exited.
func (m *MempoolSource) Next(ctx context.Context) (domain.PendingTransaction, error) {
	select {
	case <-ctx.Done():
		return domain.PendingTransaction{}, ctx.Err()
	case tx, ok := <-m.txCh:
		if !ok {
			return domain.PendingTransaction{}, domain.ErrSourceClosed
		}
		return tx, nil
	}
}

// Run connects, subscribes, and streams until ctx is cancelled or the
// reconnect budget is exhausted.
func (m *MempoolSource) Run(ctx context.Context) error {
	defer m.closeOnce.Do(func() { close(m.txCh) })

	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streamed, err := m.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if streamed {
			failures = 0
		}
		failures++
		if m.cfg.MaxReconnects > 0 && failures > m.cfg.MaxReconnects {
			return fmt.Errorf("evm: mempool: giving up after %d attempts: %w", failures, err)
		}

		delay := backoff(m.cfg.InitialDelay, m.cfg.MaxDelay, failures)
		metrics.SourceReconnects.Inc()
		m.logger.Warn("mempool subscription lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection reports whether the subscription was established, so a
// healthy session resets the failure count.
func (m *MempoolSource) runConnection(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	rc, err := rpc.DialContext(dialCtx, m.cfg.WsURL)
	cancel()
	if err != nil {
		return false, fmt.Errorf("evm: dial %s: %w", m.cfg.WsURL, err)
	}
	defer rc.Close()

	gc := gethclient.New(rc)
	full := make(chan *types.Transaction, m.cfg.Buffer)
	sub, err := gc.SubscribeFullPendingTransactions(ctx, full)
	if err != nil {
		m.logger.Info("full pending transactions unsupported, falling back to hashes",
			slog.String("error", err.Error()),
		)
		return m.streamHashes(ctx, gc, ethclient.NewClient(rc))
	}
	defer sub.Unsubscribe()
	m.logger.Info("subscribed to pending transactions", slog.String("url", m.cfg.WsURL))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			return true, subscriptionErr(err)
		case tx := <-full:
			if err := m.deliver(ctx, tx); err != nil {
				return true, err
			}
		}
	}
}

// streamHashes subscribes to pending hashes and fetches each body. Nodes
// that only implement the hash subscription take this path.
func (m *MempoolSource) streamHashes(ctx context.Context, gc *gethclient.Client, ec *ethclient.Client) (bool, error) {
	hashes := make(chan common.Hash, m.cfg.Buffer)
	sub, err := gc.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return false, fmt.Errorf("evm: subscribe pending hashes: %w", err)
	}
	defer sub.Unsubscribe()
	m.logger.Info("subscribed to pending transaction hashes", slog.String("url", m.cfg.WsURL))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			return true, subscriptionErr(err)
		case h := <-hashes:
			tx, _, err := ec.TransactionByHash(ctx, h)
			if err != nil {
				// Already mined or evicted.
				m.logger.Debug("pending transaction unavailable",
					slog.String("hash", h.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := m.deliver(ctx, tx); err != nil {
				return true, err
			}
		}
	}
}

func (m *MempoolSource) deliver(ctx context.Context, tx *types.Transaction) error {
	if tx == nil {
		return nil
	}
	pt := ToPendingTransaction(tx, m.signer, m.now())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.txCh <- pt:
		return nil
	}
}

func subscriptionErr(err error) error {
	if err == nil {
		return errors.New("evm: subscription closed")
	}
	return fmt.Errorf("evm: subscription: %w", err)
}

// backoff doubles initial per attempt, capped at maxDelay.
func backoff(initial, maxDelay time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ domain.EventSource = (*MempoolSource)(nil)
