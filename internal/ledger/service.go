// internal/ledger/service.go
//
// Package ledger is the custodial money-safety layer: the only writer of
// balance fields. Deposits are credited exactly once, withdrawals move
// through lock/settle/rollback, and every fee is an explicit ledger entry.
package ledger

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Service exposes the custodial ledger operations. Each balance-touching
// operation delegates to a single conditional store mutation.
type Service struct {
	store  Store
	logger *zap.Logger

	// Per-wallet serialization for the withdrawal request path, so a
	// concurrent request observes the pending row the first one created.
	walletMu sync.Map // wallet -> *sync.Mutex
}

// NewService builds the ledger service over a Store.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.Named("ledger"),
	}
}

// Store exposes the underlying store for history queries.
func (s *Service) Store() Store {
	return s.store
}

// EnsureAccount creates the custody account row if it does not exist.
func (s *Service) EnsureAccount(ctx context.Context, wallet string) error {
	return s.store.EnsureAccount(ctx, wallet)
}

// Account returns the current custody balances for a wallet.
func (s *Service) Account(ctx context.Context, wallet string) (*CustodyAccount, error) {
	return s.store.GetAccount(ctx, wallet)
}

// CreditDeposit credits a discovered deposit exactly once per signature.
// Safe under concurrent invocation with the same signature: the status
// flip and the balance increment are one atomic store step, and only the
// call that wins the flip applies the credit.
func (s *Service) CreditDeposit(ctx context.Context, txSignature, wallet string, amountSol float64) error {
	if wallet == "" {
		// Keep the deposit visible for manual reconciliation instead of
		// dropping it.
		if err := s.store.UpsertDetectedDeposit(ctx, &Deposit{
			TxSignature: txSignature,
			AmountSol:   amountSol,
		}); err != nil {
			return err
		}
		s.logger.Warn("deposit wallet unresolved, left in detected",
			zap.String("tx_signature", txSignature),
			zap.Float64("amount_sol", amountSol))
		return ErrUnknownWallet
	}

	if err := s.store.EnsureAccount(ctx, wallet); err != nil {
		return err
	}
	if err := s.store.UpsertDetectedDeposit(ctx, &Deposit{
		TxSignature:   txSignature,
		WalletAddress: wallet,
		AmountSol:     amountSol,
	}); err != nil {
		return err
	}

	applied, err := s.store.ApplyDepositCredit(ctx, txSignature)
	if err != nil {
		return err
	}
	if applied {
		s.logger.Info("deposit credited",
			zap.String("wallet", wallet),
			zap.String("tx_signature", txSignature),
			zap.Float64("amount_sol", amountSol))
	} else {
		s.logger.Debug("deposit already credited, no-op",
			zap.String("tx_signature", txSignature))
	}
	return nil
}

// LockForWithdrawal moves totalDebit from available to locked, guarded by
// available >= totalDebit.
func (s *Service) LockForWithdrawal(ctx context.Context, wallet string, totalDebit float64) error {
	return s.store.LockAvailable(ctx, wallet, totalDebit)
}

// SettleWithdrawal releases the lock after a confirmed on-chain send.
func (s *Service) SettleWithdrawal(ctx context.Context, wallet string, totalDebit float64) error {
	return s.store.DebitLocked(ctx, wallet, totalDebit)
}

// RollbackWithdrawal restores the exact pre-lock state after a failed
// send.
func (s *Service) RollbackWithdrawal(ctx context.Context, wallet string, totalDebit float64) error {
	return s.store.UnlockToAvailable(ctx, wallet, totalDebit)
}

// RecordFee appends an entry to the fee ledger.
func (s *Service) RecordFee(ctx context.Context, entry *FeeLedgerEntry) error {
	if err := s.store.AppendFee(ctx, entry); err != nil {
		return err
	}
	s.logger.Debug("fee recorded",
		zap.String("type", entry.Type),
		zap.Float64("amount_sol", entry.AmountSol))
	return nil
}

// DebitForTrade debits the trade size from the wallet's available balance
// before a position opens, guarded by available >= size.
func (s *Service) DebitForTrade(ctx context.Context, wallet string, sizeSol float64) error {
	return s.store.DebitAvailable(ctx, wallet, sizeSol)
}

// CreditProceeds credits sell proceeds back to the available balance.
func (s *Service) CreditProceeds(ctx context.Context, wallet string, amountSol float64) error {
	return s.store.CreditAvailable(ctx, wallet, amountSol)
}

// RefundTrade returns a debited trade size after an entry that failed
// before any swap was submitted.
func (s *Service) RefundTrade(ctx context.Context, wallet string, sizeSol float64) error {
	return s.store.CreditAvailable(ctx, wallet, sizeSol)
}

// SaveTrade persists the closed-trade audit record.
func (s *Service) SaveTrade(ctx context.Context, rec *TradeRecord) error {
	return s.store.SaveTrade(ctx, rec)
}

// lockWallet returns the request-serialization mutex for a wallet.
func (s *Service) lockWallet(wallet string) *sync.Mutex {
	mu, _ := s.walletMu.LoadOrStore(wallet, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
