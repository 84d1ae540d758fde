package payment

// State is the lifecycle of one payment session.
type State string

const (
	StateIdle            State = "IDLE"
	StateAwaitingInvoice State = "AWAITING_INVOICE"
	StatePaymentOpen     State = "PAYMENT_OPEN"
	StateSuccess         State = "SUCCESS"
	StateFailed          State = "FAILED"
	StateCancelled       State = "CANCELLED"
)

// Terminal reports whether no further automatic transition can occur.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled:
		return true
	}
	return false
}

// pollStatus is the reconciler's reading of a raw backend status string.
type pollStatus int

const (
	statusUnknown pollStatus = iota
	statusPending
	statusPaid
	statusFailed
)

// deriveStatus maps the status vocabulary the backend has used over
// time onto the three outcomes the state machine cares about. Unknown
// strings are ignored rather than guessed at.
func deriveStatus(raw string) pollStatus {
	switch normalizeStatus(raw) {
	case "paid", "completed", "success":
		return statusPaid
	case "failed", "cancelled", "canceled", "expired":
		return statusFailed
	case "pending", "waiting_payment", "unpaid":
		return statusPending
	default:
		return statusUnknown
	}
}
