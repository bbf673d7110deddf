package domain

import "context"

// EventSource yields pending transactions in arrival order. Next blocks until
// a transaction is available, the context ends, or the source fails.
type EventSource interface {
	Next(ctx context.Context) (PendingTransaction, error)
}

// DecisionCore turns one observed transaction into zero or more actions.
// Implementations must not block or perform I/O.
type DecisionCore interface {
	Evaluate(tx PendingTransaction) []Action
}

// ActionSubmitter signs and broadcasts a transaction request.
type ActionSubmitter interface {
	Submit(ctx context.Context, tx SubmitTransaction) (SubmissionResult, error)
}
