package domain

import "errors"

var (
	ErrVaultNotFound       = errors.New("vault not found")
	ErrPositionNotFound    = errors.New("position not found")
	ErrVaultAtCapacity     = errors.New("vault at capacity")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStaleClusterData    = errors.New("stale cluster data")
	ErrInvalidBalance      = errors.New("initial balance must be positive")
	ErrNotFound            = errors.New("not found")
)
