package service

import (
	"errors"
	"fmt"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/settlement"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrForbidden           = errors.New("forbidden")
	ErrBlockedCommit       = errors.New("commit blocked")
	ErrEmptyCart           = fmt.Errorf("%w: cart is empty", ErrBlockedCommit)
	ErrNoOpenShift         = fmt.Errorf("%w: no open shift on terminal", ErrBlockedCommit)
	ErrUnknownReference    = errors.New("unknown reference")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrStockBelowFloor     = settlement.ErrStockBelowFloor
	ErrShiftAlreadyOpen    = errors.New("shift already open")
)

// CreditLimitError carries the evaluation that blocked a commit so the
// caller can show it and retry with an override.
type CreditLimitError struct {
	Evaluation domain.CreditEvaluation
}

func (e *CreditLimitError) Error() string {
	limit := "none"
	if e.Evaluation.CreditLimit != nil {
		limit = e.Evaluation.CreditLimit.String()
	}
	return fmt.Sprintf("%s: projected balance %s over limit %s", ErrCreditLimitExceeded, e.Evaluation.ProjectedBalance.String(), limit)
}

func (e *CreditLimitError) Unwrap() error {
	return ErrCreditLimitExceeded
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
