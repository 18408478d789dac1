package pairing

import "errors"

var (
	ErrNeedFour     = errors.New("pairing requires exactly four players")
	ErrNoValidSplit = errors.New("no split satisfies the team constraint")
)
