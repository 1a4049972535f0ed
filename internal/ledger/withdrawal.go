// internal/ledger/withdrawal.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Transferer sends SOL out of custody. Satisfied by the gateway.
type Transferer interface {
	TransferOut(ctx context.Context, wallet string, amountSol float64) (string, error)
}

// TransferFunc adapts a function to the Transferer interface.
type TransferFunc func(ctx context.Context, wallet string, amountSol float64) (string, error)

func (f TransferFunc) TransferOut(ctx context.Context, wallet string, amountSol float64) (string, error) {
	return f(ctx, wallet, amountSol)
}

// WithdrawalPolicy holds the user-facing withdrawal rules.
type WithdrawalPolicy struct {
	MinAmountSol float64
	FeePercent   float64 // percent of the requested amount
	MinFeeSol    float64
	Cooldown     time.Duration
}

// Fee computes the withdrawal fee with the configured floor.
func (p WithdrawalPolicy) Fee(amountSol float64) float64 {
	fee := amountSol * p.FeePercent / 100
	if fee < p.MinFeeSol {
		fee = p.MinFeeSol
	}
	return fee
}

// WithdrawalReceipt is returned to the caller on a settled withdrawal.
type WithdrawalReceipt struct {
	WithdrawalID uint
	TxSignature  string
	AmountSol    float64
	FeeSol       float64
	NetSol       float64
}

// RequestWithdrawal runs the full settlement state machine:
// validate -> lock -> send -> settle, with a mandatory rollback of the
// entire locked amount on any failure after the lock. Requests for the
// same wallet are serialized so a concurrent request inside the cooldown
// window is rejected rather than queued.
func (s *Service) RequestWithdrawal(ctx context.Context, wallet string, amountSol float64, policy WithdrawalPolicy, transferer Transferer) (*WithdrawalReceipt, error) {
	mu := s.lockWallet(wallet)
	mu.Lock()
	defer mu.Unlock()

	if amountSol < policy.MinAmountSol {
		return nil, fmt.Errorf("requested %.9f SOL, minimum %.9f: %w",
			amountSol, policy.MinAmountSol, ErrBelowMinimum)
	}

	fee := policy.Fee(amountSol)
	net := amountSol - fee
	if net <= 0 {
		return nil, fmt.Errorf("net amount after %.9f SOL fee is not positive: %w",
			fee, ErrBelowMinimum)
	}

	if policy.Cooldown > 0 {
		last, err := s.store.LatestWithdrawal(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("cooldown check: %w", err)
		}
		if last != nil && time.Since(last.CreatedAt) < policy.Cooldown {
			return nil, fmt.Errorf("last withdrawal at %s: %w",
				last.CreatedAt.Format(time.RFC3339), ErrCooldownActive)
		}
	}

	// The full requested amount is locked; the fee part stays locked
	// until settlement turns it into a fee ledger entry.
	totalDebit := amountSol
	if err := s.LockForWithdrawal(ctx, wallet, totalDebit); err != nil {
		return nil, err
	}

	wd := &Withdrawal{
		WalletAddress: wallet,
		AmountSol:     amountSol,
		FeeSol:        fee,
		NetSol:        net,
		TotalDebitSol: totalDebit,
		Status:        WithdrawalPending,
	}
	if err := s.store.CreateWithdrawal(ctx, wd); err != nil {
		// The lock is already held; release it before surfacing.
		s.mustRollback(ctx, wallet, totalDebit, wd)
		return nil, fmt.Errorf("persist withdrawal: %w", err)
	}

	log := s.logger.With(
		zap.String("wallet", wallet),
		zap.Uint("withdrawal_id", wd.ID),
		zap.Float64("amount_sol", amountSol),
		zap.Float64("fee_sol", fee),
		zap.Float64("net_sol", net))
	log.Info("withdrawal locked, sending payout")

	txSig, err := transferer.TransferOut(ctx, wallet, net)
	if err != nil {
		s.mustRollback(ctx, wallet, totalDebit, wd)
		if ferr := s.store.FinalizeWithdrawal(context.WithoutCancel(ctx),
			wd.ID, WithdrawalFailed, txSig, err.Error()); ferr != nil {
			log.Error("failed to mark withdrawal failed", zap.Error(ferr))
		}
		log.Warn("withdrawal payout failed, lock rolled back", zap.Error(err))
		return nil, fmt.Errorf("payout transfer: %w", err)
	}

	// The payout is on chain; the remaining bookkeeping must not be
	// lost to a canceled caller.
	ctx = context.WithoutCancel(ctx)

	if err := s.SettleWithdrawal(ctx, wallet, totalDebit); err != nil {
		// The payout is on chain; the lock must not be returned to the
		// user. Surface loudly for reconciliation.
		log.Error("settle after confirmed payout failed", zap.Error(err))
		return nil, err
	}

	if err := s.RecordFee(ctx, &FeeLedgerEntry{
		Type:         FeeWithdrawal,
		AmountSol:    fee,
		WithdrawalID: &wd.ID,
	}); err != nil {
		log.Error("failed to record withdrawal fee", zap.Error(err))
	}

	if err := s.store.FinalizeWithdrawal(ctx, wd.ID, WithdrawalSent, txSig, ""); err != nil {
		log.Error("failed to mark withdrawal sent", zap.Error(err))
	}

	log.Info("withdrawal settled", zap.String("tx_signature", txSig))
	return &WithdrawalReceipt{
		WithdrawalID: wd.ID,
		TxSignature:  txSig,
		AmountSol:    amountSol,
		FeeSol:       fee,
		NetSol:       net,
	}, nil
}

// mustRollback releases a held lock, logging instead of failing: a
// stranded lock is worse than a noisy log line.
func (s *Service) mustRollback(ctx context.Context, wallet string, totalDebit float64, wd *Withdrawal) {
	// Rollbacks run most often on the failure path, where the caller's
	// context may already be canceled.
	ctx = context.WithoutCancel(ctx)
	if err := s.RollbackWithdrawal(ctx, wallet, totalDebit); err != nil {
		s.logger.Error("withdrawal rollback failed, locked balance stranded",
			zap.String("wallet", wallet),
			zap.Uint("withdrawal_id", wd.ID),
			zap.Float64("total_debit_sol", totalDebit),
			zap.Error(err))
	}
}
