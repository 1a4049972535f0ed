// internal/position/monitor.go
package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/emirhasanov/soltrail/internal/gateway"
	"github.com/emirhasanov/soltrail/internal/ledger"
	"github.com/emirhasanov/soltrail/internal/wallet"
)

// MonitorConfig tunes the monitor loop.
type MonitorConfig struct {
	Interval          time.Duration
	FillWaitAttempts  int
	FillWaitDelay     time.Duration
	BuyFeePercent     float64
	SellFeePercent    float64
	ReferenceLamports uint64 // base amount quoted each tick to derive the metric
}

// DefaultReferenceLamports prices one whole SOL per tick.
const DefaultReferenceLamports = gateway.LamportsPerSOL

func (c *MonitorConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.FillWaitAttempts <= 0 {
		c.FillWaitAttempts = 10
	}
	if c.FillWaitDelay <= 0 {
		c.FillWaitDelay = 2 * time.Second
	}
	if c.ReferenceLamports == 0 {
		c.ReferenceLamports = DefaultReferenceLamports
	}
}

// Monitor drives one position from entry to exit. It runs on its own
// goroutine and is the single writer of its position's trade state; a
// stalled gateway call delays only this position.
type Monitor struct {
	pos    *Position
	signer *wallet.Wallet
	gw     gateway.Gateway
	ledger *ledger.Service
	reg    *Registry
	cfg    MonitorConfig
	logger *zap.Logger

	forceExit chan string
	cancel    context.CancelFunc
	done      chan struct{}

	netSpentLamports uint64
}

// NewMonitor builds a monitor for the given parameters. Register it with
// the Registry before calling Run.
func NewMonitor(params Params, signer *wallet.Wallet, gw gateway.Gateway, ledgerSvc *ledger.Service, reg *Registry, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	cfg.withDefaults()
	if params.Interval > 0 {
		cfg.Interval = params.Interval
	}

	return &Monitor{
		pos:       newPosition(params),
		signer:    signer,
		gw:        gw,
		ledger:    ledgerSvc,
		reg:       reg,
		cfg:       cfg,
		logger:    logger,
		forceExit: make(chan string, 1),
		done:      make(chan struct{}),
	}
}

// Position returns the monitor's position state. While the position is
// open only Status and the registry-arbitrated fields are safe to read
// from other goroutines.
func (m *Monitor) Position() *Position {
	return m.pos
}

// Done is closed when the monitor goroutine has fully stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// ForceExit requests an immediate full exit. The caller must have won
// the BeginClose transition first.
func (m *Monitor) ForceExit(reason string) {
	select {
	case m.forceExit <- reason:
	default:
	}
}

// stop cancels the monitor's context, stopping the timer immediately.
func (m *Monitor) stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Run executes the entry and then the polling loop. It returns when the
// position reaches a terminal status.
func (m *Monitor) Run(parentCtx context.Context) {
	defer close(m.done)

	ctx, cancel := context.WithCancel(parentCtx)
	m.cancel = cancel
	defer cancel()

	m.logger = m.logger.With(
		zap.String("position_id", m.pos.ID),
		zap.String("wallet", m.pos.Wallet),
		zap.String("token_mint", m.pos.TokenMint))

	if err := m.open(ctx); err != nil {
		m.logger.Error("position entry failed", zap.Error(err))
		m.reg.Complete(m.pos.ID, StatusError, fmt.Sprintf("entry: %v", err))
		return
	}

	if !m.reg.markRunning(m.pos.ID) {
		// Canceled while the entry was in flight.
		m.logger.Info("position not running after entry, loop not started")
		return
	}

	m.loop(ctx)
}

// open debits the trade size, buys, and waits for the fill.
func (m *Monitor) open(ctx context.Context) error {
	p := m.pos

	if err := m.ledger.DebitForTrade(ctx, p.Wallet, p.TradeSizeSol); err != nil {
		return fmt.Errorf("debit trade size: %w", err)
	}

	buyFee := p.TradeSizeSol * m.cfg.BuyFeePercent / 100
	netSol := p.TradeSizeSol - buyFee
	m.netSpentLamports = gateway.SolToLamports(netSol)

	quote, err := m.gw.Quote(ctx, gateway.WSOLMint, p.TokenMint, m.netSpentLamports, nil)
	if err != nil {
		m.refundEntry(ctx, err)
		return fmt.Errorf("entry quote: %w", err)
	}

	txSig, err := m.gw.Execute(ctx, quote, m.signer)
	if err != nil && !errors.Is(err, gateway.ErrConfirmTimeout) {
		m.refundEntry(ctx, err)
		return fmt.Errorf("entry swap: %w", err)
	}
	if errors.Is(err, gateway.ErrConfirmTimeout) {
		// The buy may still have landed; the fill wait below decides.
		m.logger.Warn("buy confirmation timed out, outcome unknown",
			zap.String("tx_signature", txSig))
	}
	p.BuyTxSig = txSig
	m.logger.Info("buy submitted",
		zap.String("tx_signature", txSig),
		zap.Float64("net_sol", netSol))

	if err := m.waitForFill(ctx); err != nil {
		m.logger.Warn("no tokens observed after fill wait, monitoring opportunistically",
			zap.Error(err))
	}

	// The fee is charged only once the buy is durably observed.
	if p.Remaining != nil && buyFee > 0 {
		if err := m.ledger.RecordFee(ctx, &ledger.FeeLedgerEntry{
			Type:      ledger.FeeBuy,
			AmountSol: buyFee,
			TradeID:   p.ID,
		}); err != nil {
			m.logger.Error("failed to record buy fee", zap.Error(err))
		}
	}

	return nil
}

// refundEntry returns the debited trade size when the entry failed
// before any swap was submitted.
func (m *Monitor) refundEntry(ctx context.Context, cause error) {
	// The refund must land even when the entry failed because the
	// context was canceled.
	ctx = context.WithoutCancel(ctx)
	if err := m.ledger.RefundTrade(ctx, m.pos.Wallet, m.pos.TradeSizeSol); err != nil {
		m.logger.Error("failed to refund trade debit",
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

// waitForFill polls the token balance a fixed number of times. On
// success it pins the entry metric from what was actually spent and
// received.
func (m *Monitor) waitForFill(ctx context.Context) error {
	p := m.pos

	type fill struct {
		raw      uint64
		decimals uint8
	}

	op := func() (fill, error) {
		raw, decimals, err := m.gw.TokenBalance(ctx, m.signer, p.TokenMint)
		if err != nil {
			if errors.Is(err, gateway.ErrMintNotTradable) {
				return fill{}, backoff.Permanent(err)
			}
			return fill{}, err
		}
		if raw == 0 {
			return fill{}, fmt.Errorf("no tokens yet")
		}
		return fill{raw: raw, decimals: decimals}, nil
	}

	got, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.FillWaitDelay)),
		backoff.WithMaxTries(uint(m.cfg.FillWaitAttempts)),
	)
	if err != nil {
		return err
	}

	m.applyFill(got.raw, got.decimals)
	return nil
}

// applyFill records the observed fill and derives the entry metric.
func (m *Monitor) applyFill(raw uint64, decimals uint8) {
	p := m.pos
	p.Remaining = &raw
	p.Decimals = decimals
	p.EntryMetric = float64(m.netSpentLamports) / float64(raw)

	m.logger.Info("fill observed",
		zap.Uint64("raw_tokens", raw),
		zap.Uint8("decimals", decimals),
		zap.Float64("entry_metric", p.EntryMetric))
}

// loop polls the metric until an exit rule fires, a manual exit arrives,
// or the position is canceled.
func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("monitor loop started", zap.Duration("interval", m.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("monitor loop stopped")
			return

		case reason := <-m.forceExit:
			m.executeExit(ctx, reason)
			return

		case <-ticker.C:
			reason, exit := m.safeTick(ctx)
			if !exit {
				continue
			}
			if m.reg.BeginClose(m.pos.ID) {
				m.executeExit(ctx, reason)
				return
			}
			// Lost the close race: a manual request is in flight and
			// will arrive on forceExit.
		}
	}
}

// safeTick runs one polling cycle. A failed or panicking tick never
// kills the loop.
func (m *Monitor) safeTick(ctx context.Context) (reason string, exit bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked", zap.Any("panic", r))
			reason, exit = "", false
		}
	}()

	return m.tick(ctx)
}

// tick is one polling cycle of the state machine.
func (m *Monitor) tick(ctx context.Context) (string, bool) {
	p := m.pos

	// An entry that never observed its fill keeps trying each tick.
	if p.Remaining == nil {
		raw, decimals, err := m.gw.TokenBalance(ctx, m.signer, p.TokenMint)
		if err != nil || raw == 0 {
			return "", false
		}
		m.applyFill(raw, decimals)
	}

	current, ok := m.fetchMetric(ctx)
	if !ok {
		return "", false
	}

	if reason, exit := checkStop(p, current); exit {
		m.logger.Info("protective stop hit",
			zap.String("rule", reason),
			zap.Float64("metric", current),
			zap.Float64("change_pct", p.ChangePercent(current)))
		return reason, true
	}

	if updateTrailing(p, current) {
		m.logger.Info("trailing stop hit",
			zap.Float64("metric", current),
			zap.Float64("peak_metric", p.PeakMetric))
		return ReasonTrailing, true
	}

	for _, idx := range dueStages(p, current) {
		if err := m.executeStage(ctx, idx); err != nil {
			m.logger.Error("take-profit stage failed",
				zap.Int("stage", idx),
				zap.Error(err))
			// Not fatal: the stage stays armed for the next tick.
			break
		}
	}

	return "", false
}

// fetchMetric quotes the reference base amount and derives the metric.
// A missing quote is "no data this tick", not an error.
func (m *Monitor) fetchMetric(ctx context.Context) (float64, bool) {
	quote, err := m.gw.Quote(ctx, gateway.WSOLMint, m.pos.TokenMint, m.cfg.ReferenceLamports, nil)
	if err != nil {
		if errors.Is(err, gateway.ErrQuoteUnavailable) || errors.Is(err, gateway.ErrNoRoute) {
			m.logger.Debug("no quote this tick", zap.Error(err))
		} else {
			m.logger.Warn("metric fetch failed", zap.Error(err))
		}
		return 0, false
	}
	if quote.OutAmount == 0 {
		return 0, false
	}
	return float64(m.cfg.ReferenceLamports) / float64(quote.OutAmount), true
}

// executeStage sells the stage's fraction of the current remaining
// balance, then arms the break-even ratchet if this is the first stage
// to fire.
func (m *Monitor) executeStage(ctx context.Context, idx int) error {
	p := m.pos
	stage := &p.Ladder[idx]

	remaining := uint64(0)
	if p.Remaining != nil {
		remaining = *p.Remaining
	}
	sellRaw := uint64(float64(remaining) * stage.SellFraction / 100)

	if sellRaw > 0 {
		proceeds, txSig, err := m.sellSwap(ctx, sellRaw)
		if err != nil {
			return err
		}
		left := remaining - sellRaw
		p.Remaining = &left

		if err := m.routeProceeds(ctx, proceeds); err != nil {
			m.logger.Error("failed to credit stage proceeds", zap.Error(err))
		}

		m.logger.Info("take-profit stage executed",
			zap.Int("stage", idx),
			zap.Float64("trigger_pct", stage.TriggerPercent),
			zap.Uint64("raw_sold", sellRaw),
			zap.Uint64("raw_left", left),
			zap.String("tx_signature", txSig))
	} else {
		m.logger.Info("take-profit stage had nothing to sell, marked executed",
			zap.Int("stage", idx))
	}

	stage.Executed = true
	stage.Metric = stageMetric(p, idx)
	if p.BreakEvenMetric == nil {
		be := stage.Metric
		p.BreakEvenMetric = &be
		m.logger.Info("break-even ratchet armed", zap.Float64("metric", be))
	}
	return nil
}

// sellSwap sells raw tokens back to SOL. A route-size failure is retried
// exactly once with a direct-route quote.
func (m *Monitor) sellSwap(ctx context.Context, raw uint64) (proceeds uint64, txSig string, err error) {
	quote, err := m.gw.Quote(ctx, m.pos.TokenMint, gateway.WSOLMint, raw, nil)
	if gateway.IsRouteTooLarge(err) {
		m.logger.Warn("route too large, retrying with direct route", zap.Error(err))
		quote, err = m.gw.Quote(ctx, m.pos.TokenMint, gateway.WSOLMint, raw,
			&gateway.QuoteOptions{DirectRouteOnly: true})
	}
	if err != nil {
		return 0, "", fmt.Errorf("sell quote: %w", err)
	}

	txSig, err = m.gw.Execute(ctx, quote, m.signer)
	if err != nil {
		if errors.Is(err, gateway.ErrConfirmTimeout) {
			// Unknown outcome; assume the quote filled and let audit
			// reconcile. Not retried.
			m.logger.Warn("sell confirmation timed out, outcome unknown",
				zap.String("tx_signature", txSig))
			return quote.OutAmount, txSig, nil
		}
		return 0, "", fmt.Errorf("sell swap: %w", err)
	}

	return quote.OutAmount, txSig, nil
}

// routeProceeds credits sell proceeds minus the proportional exit fee
// and records the fee entry.
func (m *Monitor) routeProceeds(ctx context.Context, proceedsLamports uint64) error {
	proceedsSol := gateway.LamportsToSol(proceedsLamports)
	fee := proceedsSol * m.cfg.SellFeePercent / 100

	if err := m.ledger.CreditProceeds(ctx, m.pos.Wallet, proceedsSol-fee); err != nil {
		return err
	}
	if fee > 0 {
		if err := m.ledger.RecordFee(ctx, &ledger.FeeLedgerEntry{
			Type:      ledger.FeeSell,
			AmountSol: fee,
			TradeID:   m.pos.ID,
		}); err != nil {
			m.logger.Error("failed to record sell fee", zap.Error(err))
		}
	}
	return nil
}

// executeExit performs the full exit. The caller must already hold the
// closing status; when this returns the position is terminal and removed
// from the registry.
func (m *Monitor) executeExit(ctx context.Context, reason string) {
	p := m.pos
	m.logger.Info("executing full exit", zap.String("reason", reason))

	raw, _, err := m.gw.TokenBalance(ctx, m.signer, p.TokenMint)
	if err != nil {
		m.logger.Warn("live balance read failed, using tracked remaining", zap.Error(err))
		if p.Remaining != nil {
			raw = *p.Remaining
		}
	}
	if raw == 0 {
		m.logger.Error("nothing to sell on exit")
		m.reg.Complete(p.ID, StatusError, reason+": nothing to sell")
		return
	}

	proceeds, sellSig, err := m.sellSwap(ctx, raw)
	if err != nil {
		m.logger.Error("exit sell failed", zap.Error(err))
		m.reg.Complete(p.ID, StatusError, reason+": sell failed")
		return
	}

	if err := m.routeProceeds(ctx, proceeds); err != nil {
		m.logger.Error("failed to credit exit proceeds", zap.Error(err))
	}

	zero := uint64(0)
	p.Remaining = &zero

	exitMetric := float64(proceeds) / float64(raw)
	pnlSol := gateway.LamportsToSol(proceeds) - p.EntryMetric*float64(raw)/1e9

	rec := &ledger.TradeRecord{
		PositionID:    p.ID,
		WalletAddress: p.Wallet,
		TokenMint:     p.TokenMint,
		TradeSizeSol:  p.TradeSizeSol,
		EntryMetric:   p.EntryMetric,
		ExitMetric:    exitMetric,
		RawSold:       raw,
		ProceedsSol:   gateway.LamportsToSol(proceeds),
		PnlSol:        pnlSol,
		BuyTxSig:      p.BuyTxSig,
		SellTxSig:     sellSig,
		CloseReason:   reason,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      time.Now().UTC(),
	}
	if err := m.ledger.SaveTrade(ctx, rec); err != nil {
		m.logger.Error("failed to persist trade record", zap.Error(err))
	}

	m.reg.Complete(p.ID, StatusFinished, reason)

	m.logger.Info("position exited",
		zap.String("reason", reason),
		zap.Uint64("raw_sold", raw),
		zap.Float64("proceeds_sol", rec.ProceedsSol),
		zap.Float64("pnl_sol", pnlSol),
		zap.String("sell_tx", sellSig))
}
