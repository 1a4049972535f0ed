// internal/ledger/errors.go
package ledger

import "errors"

var (
	// ErrInsufficientBalance means a guarded decrement would have taken
	// the available balance negative. Nothing was mutated.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrBelowMinimum means a withdrawal request was under the minimum
	// or its net amount after fees was not positive.
	ErrBelowMinimum = errors.New("amount below minimum")

	// ErrCooldownActive means the wallet has a recent non-failed
	// withdrawal inside the cooldown window.
	ErrCooldownActive = errors.New("withdrawal cooldown active")

	// ErrBalanceRaceLost means a guarded locked-balance operation found
	// less locked than expected. The operation is safe to retry whole.
	ErrBalanceRaceLost = errors.New("balance operation lost race")

	// ErrUnknownWallet means a deposit's owning wallet could not be
	// resolved; the deposit stays detected for manual reconciliation.
	ErrUnknownWallet = errors.New("deposit wallet unresolved")
)
