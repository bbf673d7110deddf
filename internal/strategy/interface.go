package strategy

import (
	"context"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// Strategy defines the contract for pending-transaction strategies.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnTransaction(ctx context.Context, tx domain.PendingTransaction) ([]domain.Action, error)
	Close() error
}
