package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound      = errors.New("user_not_found")
	ErrInvalidTelegramID = errors.New("invalid_telegram_id")
	ErrInvalidAmount     = errors.New("invalid_amount")

	// ErrInsufficientFunds is the sentinel matched by errors.Is against
	// InsufficientFundsError values.
	ErrInsufficientFunds = errors.New("insufficient_funds")
)

// InsufficientFundsError carries how much the wallet is short, so the
// front-end can deep-link a top-up for the exact missing amount.
type InsufficientFundsError struct {
	MissingKopeks int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: missing %d kopeks", e.MissingKopeks)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
