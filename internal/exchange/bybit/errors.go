package bybit

import (
	"errors"
	"fmt"

	"bybit-trader/internal/core"
)

const (
	codeParamsTimestamp     = 10001
	codeRateLimit           = 10006
	codeIPRateLimit         = 10016
	codeInsufficientBalance = 170131
	codeQtyPrecision        = 170137
	codeOrderNotFound       = 170213
	codeOrderNotExists      = 110001
)

// transientCodes may resolve on retry with identical parameters.
var transientCodes = map[int]struct{}{
	codeParamsTimestamp: {},
	codeRateLimit:       {},
	codeIPRateLimit:     {},
}

// classify maps a non-success envelope onto an error kind. The APIError is
// joined in so callers can still read the raw code and message.
func classify(code int, msg string) error {
	apiErr := APIError{Code: code, Msg: msg}
	switch {
	case code == codeInsufficientBalance:
		return errors.Join(apiErr, core.ErrInsufficientBalance)
	case code == codeQtyPrecision:
		return errors.Join(apiErr, core.ErrPrecision)
	case code == codeOrderNotFound, code == codeOrderNotExists:
		return errors.Join(apiErr, core.ErrOrderNotFound)
	default:
		if _, ok := transientCodes[code]; ok {
			return errors.Join(apiErr, core.ErrTransientAPI)
		}
		return errors.Join(apiErr, core.ErrFatalAPI)
	}
}

func networkErr(err error) error {
	return fmt.Errorf("%w: %v", core.ErrNetwork, err)
}

// AsAPIError unwraps the venue error from a classified chain.
func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if err == nil || !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
