package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the caller lacks the role or allowance an operation requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument indicates a malformed identity, role or amount.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientBalance occurs when a debit exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCapacityExceeded occurs when a mint would push supply past the cap.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrOverflow occurs when an amount calculation leaves the 256-bit range.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrPaused rejects value-moving operations while the pause gate is engaged.
	ErrPaused = errors.New("paused")
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrAuditUnavailable means the audit sink refused a record; no state was changed.
	ErrAuditUnavailable = errors.New("audit sink unavailable")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrOverflow, "Overflow"},
	{ErrPaused, "Paused"},
	{ErrInvalidOperation, "InvalidOperation"},
	{ErrAuditUnavailable, "AuditUnavailable"},
	{ErrNotFound, "NotFound"},
}

// KindOf names the ledger error kind carried by err, or "" when err is not a ledger error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}
