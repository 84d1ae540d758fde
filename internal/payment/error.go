package payment

import "errors"

var (
	// -- Session lifecycle --
	ErrNoInvoice       = errors.New("no invoice URL for session")
	ErrNotOpen         = errors.New("payment session is not open")
	ErrSessionFinished = errors.New("payment session already finished")

	// -- Status resolution --
	ErrStatusUnavailable = errors.New("payment status temporarily unavailable")
)
