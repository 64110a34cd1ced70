package core

import "errors"

// Error kinds the engine classifies every failure into. Remote failures are
// joined with the venue's APIError so callers still see code and message;
// retry policy dispatches on the kind alone, never on message text.
var (
	// ErrUnknownSymbol indicates no trading rule is cached for the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrPrecision indicates a quantity or price fails step/tick validation. Never retried.
	ErrPrecision = errors.New("precision violation")
	// ErrInsufficientBalance indicates the funds check failed, locally or on the exchange. Never retried.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrTransientAPI indicates a rate-limit or internal remote failure that may resolve on retry.
	ErrTransientAPI = errors.New("transient api error")
	// ErrNetwork indicates a transport or timeout failure after retries were exhausted.
	ErrNetwork = errors.New("network error")
	// ErrFatalAPI indicates any other non-success remote response. Never retried.
	ErrFatalAPI = errors.New("fatal api error")
	// ErrOrderNotFound indicates the order does not exist on the exchange.
	ErrOrderNotFound = errors.New("order not found")
)

// Retryable reports whether an error's cause can change between attempts
// with identical parameters.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTransientAPI)
}
