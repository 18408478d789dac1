package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("session not found")
	ErrNilDelta      = errors.New("nil delta")
	ErrEmptySession  = errors.New("empty session id")
	ErrStoreClosed   = errors.New("store closed")
	ErrInconsistency = errors.New("stored row does not decode")
)
