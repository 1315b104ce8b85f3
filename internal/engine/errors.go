package engine

import "errors"

// Validation outcomes of the public operations. Each is reported
// synchronously with no side effects having occurred.
var (
	ErrFundsNotCaptured = errors.New("funds could not be captured")
	ErrRankTooLow       = errors.New("pilot rank below required minimum")
	ErrAlreadyAssigned  = errors.New("booking already has a pilot")
	ErrAlreadyTerminal  = errors.New("booking is already completed or cancelled")
	ErrNotAccepted      = errors.New("booking has no accepted pilot")
	ErrNotCompleted     = errors.New("booking is not completed")
	ErrAlreadyRated     = errors.New("rating already submitted for this side")
	ErrTipAlreadySet    = errors.New("tip already set")
	ErrInvalidInput     = errors.New("invalid input")
)
