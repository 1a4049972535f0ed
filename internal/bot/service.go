// internal/bot/service.go
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emirhasanov/soltrail/internal/config"
	"github.com/emirhasanov/soltrail/internal/gateway"
	"github.com/emirhasanov/soltrail/internal/ledger"
	"github.com/emirhasanov/soltrail/internal/logger"
	"github.com/emirhasanov/soltrail/internal/position"
	"github.com/emirhasanov/soltrail/internal/wallet"
)

// Service is the application facade. It owns the position registry and
// the ledger and exposes the operations the outer surface calls.
type Service struct {
	cfg      *config.Config
	gw       gateway.Gateway
	ledger   *ledger.Service
	registry *position.Registry
	wallets  map[string]*wallet.Wallet
	deposits *ledger.DepositProcessor
	policy   ledger.WithdrawalPolicy
	log      *logger.Logger

	mu       sync.Mutex
	monitors []*position.Monitor

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// New wires the facade. wallets maps public key to the signing wallet.
// resolver may be nil when the chain-watcher always supplies the owner.
func New(cfg *config.Config, gw gateway.Gateway, ledgerSvc *ledger.Service, wallets map[string]*wallet.Wallet, resolver ledger.WalletResolver, log *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		cfg:      cfg,
		gw:       gw,
		ledger:   ledgerSvc,
		registry: position.NewRegistry(log.Logger),
		wallets:  wallets,
		deposits: ledger.NewDepositProcessor(ledgerSvc, resolver, cfg.DepositWorkers, log.Logger),
		policy: ledger.WithdrawalPolicy{
			MinAmountSol: cfg.MinWithdrawSol,
			FeePercent:   cfg.WithdrawFeePercent,
			MinFeeSol:    cfg.MinWithdrawFeeSol,
			Cooldown:     cfg.CooldownWindow(),
		},
		log:        log,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Ledger exposes the balance service for read-only inspection.
func (s *Service) Ledger() *ledger.Service {
	return s.ledger
}

// OpenPosition validates the parameters, registers the position, and
// starts its monitor goroutine. It returns the position ID immediately;
// the entry swap happens on the monitor's goroutine.
func (s *Service) OpenPosition(params position.Params) (string, error) {
	opLog := s.log.WithOperation("open_position")

	if err := params.Validate(); err != nil {
		return "", err
	}

	signer, ok := s.wallets[params.Wallet]
	if !ok {
		return "", fmt.Errorf("wallet %s: %w", params.Wallet, ledger.ErrUnknownWallet)
	}

	mon := position.NewMonitor(params, signer, s.gw, s.ledger, s.registry, position.MonitorConfig{
		Interval:         s.cfg.MonitorInterval(),
		FillWaitAttempts: s.cfg.FillWaitAttempts,
		FillWaitDelay:    s.cfg.FillWaitDelay(),
		BuyFeePercent:    s.cfg.BuyFeePercent,
		SellFeePercent:   s.cfg.SellFeePercent,
	}, s.log.Logger)

	id, err := s.registry.Register(mon)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.monitors = append(s.monitors, mon)
	s.mu.Unlock()

	go mon.Run(s.rootCtx)

	opLog.Info("position opened",
		zap.String("position_id", id),
		zap.String("wallet", params.Wallet),
		zap.String("token_mint", params.TokenMint),
		zap.Float64("trade_size_sol", params.TradeSizeSol))
	return id, nil
}

// SellNow requests an immediate full exit of the position. Exactly one
// of a concurrent manual sell and a rule-triggered exit wins; the loser
// returns without selling.
func (s *Service) SellNow(id string) error {
	mon, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("position %s: %w", id, position.ErrNotFound)
	}
	if !s.registry.BeginClose(id) {
		return fmt.Errorf("position %s: %w", id, position.ErrNotRunning)
	}
	mon.ForceExit(position.ReasonManualSell)

	pos := mon.Position()
	s.log.WithPosition(id, pos.Wallet, pos.TokenMint).Info("manual sell requested")
	return nil
}

// CancelPosition stops a position without selling. Only positions that
// have not begun closing can be canceled; tokens already bought stay in
// the wallet untouched.
func (s *Service) CancelPosition(id string) error {
	if !s.registry.Cancel(id) {
		return fmt.Errorf("position %s: %w", id, position.ErrNotFound)
	}
	return nil
}

// PositionStatus reports the live status of a position. Terminal
// positions are gone from the registry and report ErrNotFound.
func (s *Service) PositionStatus(id string) (position.Status, error) {
	st, ok := s.registry.StatusOf(id)
	if !ok {
		return "", fmt.Errorf("position %s: %w", id, position.ErrNotFound)
	}
	return st, nil
}

// ActivePositions snapshots all currently open positions.
func (s *Service) ActivePositions() []*position.Position {
	monitors := s.registry.Active()
	out := make([]*position.Position, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.Position())
	}
	return out
}

// Balance returns a wallet's custodial balances.
func (s *Service) Balance(ctx context.Context, walletAddr string) (*ledger.CustodyAccount, error) {
	return s.ledger.Account(ctx, walletAddr)
}

// TradeHistory lists a wallet's closed trades, newest first.
func (s *Service) TradeHistory(ctx context.Context, walletAddr string, limit, offset int) ([]*ledger.TradeRecord, error) {
	return s.ledger.Store().ListTrades(ctx, walletAddr, limit, offset)
}

// CreditDeposit credits a detected on-chain deposit exactly once per
// transaction signature.
func (s *Service) CreditDeposit(ctx context.Context, txSignature, walletAddr string, amountSol float64) error {
	return s.deposits.Credit(ctx, txSignature, walletAddr, amountSol)
}

// ProcessDetectedDeposits sweeps the detected-deposit backlog, for
// startup recovery after a crash between detection and credit.
func (s *Service) ProcessDetectedDeposits(ctx context.Context, batchSize int) (credited, unresolved int, err error) {
	return s.deposits.ProcessDetected(ctx, batchSize)
}

// RequestWithdrawal pays out from a wallet's custodial balance to an
// external destination address.
func (s *Service) RequestWithdrawal(ctx context.Context, walletAddr, destination string, amountSol float64) (*ledger.WithdrawalReceipt, error) {
	signer, ok := s.wallets[walletAddr]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", walletAddr, ledger.ErrUnknownWallet)
	}

	send := ledger.TransferFunc(func(ctx context.Context, _ string, netSol float64) (string, error) {
		return s.gw.Transfer(ctx, signer, destination, netSol)
	})

	opLog := s.log.WithOperation("withdrawal")
	receipt, err := s.ledger.RequestWithdrawal(ctx, walletAddr, amountSol, s.policy, send)
	if err != nil {
		opLog.Warn("withdrawal rejected",
			zap.String("wallet", walletAddr),
			zap.Float64("amount_sol", amountSol),
			zap.Error(err))
		return nil, err
	}
	s.log.WithTransaction(receipt.TxSignature).Info("withdrawal paid out",
		zap.String("wallet", walletAddr),
		zap.String("destination", destination),
		zap.Float64("net_sol", receipt.NetSol))
	return receipt, nil
}

// Shutdown stops all monitors and waits for them to finish to avoid
// cutting off an in-flight swap. Open positions are left open on-chain;
// their in-memory state is simply dropped.
func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down, stopping monitors")
	s.rootCancel()

	s.mu.Lock()
	monitors := make([]*position.Monitor, len(s.monitors))
	copy(monitors, s.monitors)
	s.mu.Unlock()

	deadline := time.After(30 * time.Second)
	for _, mon := range monitors {
		select {
		case <-mon.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			s.log.Warn("shutdown deadline reached with monitors still running")
			return nil
		}
	}
	s.log.Info("all monitors stopped")
	return nil
}
