// internal/ledger/store.go
package ledger

import "context"

// Store is the durable ledger. Every balance mutation is a single
// conditional operation: the guard and the write happen atomically, so no
// caller ever sees a read-modify-write window.
type Store interface {
	// Accounts.
	EnsureAccount(ctx context.Context, wallet string) error
	GetAccount(ctx context.Context, wallet string) (*CustodyAccount, error)

	// Guarded balance mutations.
	CreditAvailable(ctx context.Context, wallet string, amount float64) error
	// DebitAvailable decrements available, guarded by available >= amount.
	// Returns ErrInsufficientBalance when the guard fails.
	DebitAvailable(ctx context.Context, wallet string, amount float64) error
	// LockAvailable moves amount from available to locked, guarded by
	// available >= amount.
	LockAvailable(ctx context.Context, wallet string, amount float64) error
	// UnlockToAvailable moves amount from locked back to available,
	// guarded by locked >= amount. Returns ErrBalanceRaceLost on guard
	// failure.
	UnlockToAvailable(ctx context.Context, wallet string, amount float64) error
	// DebitLocked decrements locked, guarded by locked >= amount.
	// Returns ErrBalanceRaceLost on guard failure.
	DebitLocked(ctx context.Context, wallet string, amount float64) error

	// Deposits.
	// UpsertDetectedDeposit inserts the deposit in detected status; a
	// duplicate signature is a no-op.
	UpsertDetectedDeposit(ctx context.Context, dep *Deposit) error
	// ApplyDepositCredit flips the deposit from detected to credited and
	// increments the owning wallet's available balance as one atomic
	// step. Reports whether the credit was applied by this call.
	ApplyDepositCredit(ctx context.Context, txSignature string) (bool, error)
	ListDetectedDeposits(ctx context.Context, limit int) ([]*Deposit, error)

	// Withdrawals.
	CreateWithdrawal(ctx context.Context, wd *Withdrawal) error
	FinalizeWithdrawal(ctx context.Context, id uint, status, txSignature, errorMessage string) error
	// LatestWithdrawal returns the wallet's most recent withdrawal in any
	// status except failed, or nil when there is none.
	LatestWithdrawal(ctx context.Context, wallet string) (*Withdrawal, error)

	// Fee ledger and trade history.
	AppendFee(ctx context.Context, entry *FeeLedgerEntry) error
	SaveTrade(ctx context.Context, rec *TradeRecord) error
	ListTrades(ctx context.Context, wallet string, limit, offset int) ([]*TradeRecord, error)

	RunMigrations() error
}
