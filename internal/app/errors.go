package service

import "errors"

var (
	ErrNotStarted    = errors.New("service not started")
	ErrSaveFailed    = errors.New("save failed")
	ErrCommitBacklog = errors.New("commit queue full")
	ErrNoRoster      = errors.New("roster directory not configured")
	ErrUnknownRoster = errors.New("player not in roster")
)
