// =============================
// File: internal/gateway/errors.go
// =============================
package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuoteUnavailable means the router had no data for this request.
	// Non-fatal: callers treat it as "no data this tick".
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrNoRoute means the pair cannot be routed at all.
	ErrNoRoute = errors.New("no route for pair")

	// ErrMintNotTradable means the router refuses the mint entirely.
	// Callers treat this as a permanent failure.
	ErrMintNotTradable = errors.New("mint not tradable")

	// ErrSubmitFailed means the swap transaction was rejected on send.
	ErrSubmitFailed = errors.New("transaction submit failed")

	// ErrConfirmTimeout means confirmation did not arrive in time. The
	// transaction may still have landed; callers log it as unknown and
	// must not retry automatically.
	ErrConfirmTimeout = errors.New("confirmation timed out")
)

// Router error codes surfaced in quote responses.
const (
	routerCodeNoRoute     = "COULD_NOT_FIND_ANY_ROUTE"
	routerCodeNotTradable = "TOKEN_NOT_TRADABLE"
	routerCodeTooLarge    = "ROUTE_PLAN_TOO_LARGE"
)

// RouteSizeError reports a swap the router could not fit into a
// transaction. The caller may retry once with a direct-route quote.
type RouteSizeError struct {
	InputMint  string
	OutputMint string
	Amount     uint64
	Err        error
}

func (e *RouteSizeError) Error() string {
	return fmt.Sprintf("route too large for %d of %s -> %s: %v",
		e.Amount, e.InputMint, e.OutputMint, e.Err)
}

func (e *RouteSizeError) Unwrap() error {
	return e.Err
}

// IsRouteTooLarge reports whether err is a route-size failure.
func IsRouteTooLarge(err error) bool {
	var rse *RouteSizeError
	return errors.As(err, &rse)
}

// classifyRouterError maps a router error payload onto the taxonomy.
func classifyRouterError(code, message string) error {
	switch {
	case code == routerCodeNotTradable || strings.Contains(message, routerCodeNotTradable):
		return ErrMintNotTradable
	case code == routerCodeNoRoute || strings.Contains(message, routerCodeNoRoute):
		return ErrNoRoute
	case code == routerCodeTooLarge || strings.Contains(message, routerCodeTooLarge):
		return fmt.Errorf("%s: %w", message, errRouteTooLargeCode)
	default:
		return fmt.Errorf("router error %s: %s: %w", code, message, ErrQuoteUnavailable)
	}
}

// errRouteTooLargeCode marks a size failure before the request context
// (mints, amount) is attached as a RouteSizeError.
var errRouteTooLargeCode = errors.New("route plan too large")
