package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate action")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrSourceClosed  = errors.New("event source closed")
	ErrQueueFull     = errors.New("submission queue full")
	ErrLockHeld      = errors.New("lock already held")
	ErrWrongSigner   = errors.New("signing key does not match own address")
)
