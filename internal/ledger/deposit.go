// internal/ledger/deposit.go
package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WalletResolver maps a deposit's transaction signature to the custodial
// wallet it belongs to. Returns "" when the owner cannot be determined.
type WalletResolver interface {
	ResolveWallet(ctx context.Context, txSignature string) (string, error)
}

// DepositProcessor drains deposits discovered by the external
// chain-watcher into credited balances. Crediting is idempotent per
// signature, so re-running over the same batch is harmless.
type DepositProcessor struct {
	service  *Service
	resolver WalletResolver
	workers  int
	logger   *zap.Logger
}

// NewDepositProcessor builds a processor with the given concurrency.
func NewDepositProcessor(service *Service, resolver WalletResolver, workers int, logger *zap.Logger) *DepositProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &DepositProcessor{
		service:  service,
		resolver: resolver,
		workers:  workers,
		logger:   logger.Named("deposits"),
	}
}

// Credit handles one discovered deposit: resolve the owner, then credit.
// A deposit whose wallet cannot be resolved stays detected for manual
// reconciliation; it is never silently dropped.
func (p *DepositProcessor) Credit(ctx context.Context, txSignature, wallet string, amountSol float64) error {
	if wallet == "" && p.resolver != nil {
		resolved, err := p.resolver.ResolveWallet(ctx, txSignature)
		if err != nil {
			p.logger.Warn("wallet resolution failed",
				zap.String("tx_signature", txSignature),
				zap.Error(err))
		} else {
			wallet = resolved
		}
	}

	return p.service.CreditDeposit(ctx, txSignature, wallet, amountSol)
}

// ProcessDetected sweeps deposits still in detected status, attempting to
// resolve and credit each with bounded concurrency. Unresolvable deposits
// remain detected; their count is returned for monitoring.
func (p *DepositProcessor) ProcessDetected(ctx context.Context, batchSize int) (credited, unresolved int, err error) {
	deps, err := p.service.Store().ListDetectedDeposits(ctx, batchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(deps) == 0 {
		return 0, 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	results := make([]error, len(deps))
	for i, dep := range deps {
		g.Go(func() error {
			results[i] = p.Credit(gctx, dep.TxSignature, dep.WalletAddress, dep.AmountSol)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	for _, res := range results {
		switch {
		case res == nil:
			credited++
		case errors.Is(res, ErrUnknownWallet):
			unresolved++
		default:
			p.logger.Error("deposit credit failed", zap.Error(res))
		}
	}

	p.logger.Info("deposit sweep complete",
		zap.Int("batch", len(deps)),
		zap.Int("credited", credited),
		zap.Int("unresolved", unresolved))
	return credited, unresolved, nil
}
