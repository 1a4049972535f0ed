// internal/position/position.go
//
// Package position owns the lifecycle of open positions: the registry
// that arbitrates status transitions and the per-position monitor loop
// that buys, watches the price metric and sells.
package position

import (
	"fmt"
	"sort"
	"time"
)

// Status is the position lifecycle state. Transitions are arbitrated by
// the Registry; the monitor loop is the only writer of everything else.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusClosing  Status = "closing"
	StatusFinished Status = "finished"
	StatusCanceled Status = "canceled"
	StatusError    Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled || s == StatusError
}

// Close reasons recorded on the trade history row.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonBreakEven  = "break_even"
	ReasonTrailing   = "trailing_stop"
	ReasonManualSell = "manual_sell"
)

// TakeProfitStage is one rung of the take-profit ladder. SellFraction is
// applied to the balance remaining at execution time, not the original
// position size.
type TakeProfitStage struct {
	TriggerPercent float64
	SellFraction   float64
	Executed       bool
	Metric         float64 // entry metric scaled by the trigger, set when the stage fires
}

// Params are the user-supplied rules for a new position.
type Params struct {
	Wallet       string
	TokenMint    string
	TradeSizeSol float64

	StopLossPercent         float64
	TrailingTriggerPercent  float64
	TrailingDistancePercent float64
	Ladder                  []TakeProfitStage

	Interval time.Duration
}

// Validate checks the parameters and normalizes the ladder into
// ascending trigger order.
func (p *Params) Validate() error {
	if p.Wallet == "" {
		return fmt.Errorf("wallet address is required")
	}
	if p.TokenMint == "" {
		return fmt.Errorf("token mint is required")
	}
	if p.TradeSizeSol <= 0 {
		return fmt.Errorf("trade size must be positive")
	}
	if p.StopLossPercent == 0 {
		return fmt.Errorf("stop loss is required")
	}
	if p.TrailingTriggerPercent < 0 || p.TrailingDistancePercent < 0 {
		return fmt.Errorf("trailing parameters must not be negative")
	}
	for i, stage := range p.Ladder {
		if stage.TriggerPercent <= 0 {
			return fmt.Errorf("take-profit stage %d: trigger must be positive", i)
		}
		if stage.SellFraction <= 0 || stage.SellFraction > 100 {
			return fmt.Errorf("take-profit stage %d: sell fraction must be in (0,100]", i)
		}
	}
	sort.SliceStable(p.Ladder, func(i, j int) bool {
		return p.Ladder[i].TriggerPercent < p.Ladder[j].TriggerPercent
	})
	return nil
}

// Position is the in-memory state of one open trade. While open it is
// owned exclusively by its monitor loop; only Status is shared, and that
// only through the Registry.
type Position struct {
	ID        string
	Wallet    string
	TokenMint string

	TradeSizeSol float64
	EntryMetric  float64 // lamports per raw token unit at fill
	Remaining    *uint64 // raw tokens; nil until a fill is observed
	Decimals     uint8

	StopLossPercent         float64
	TrailingTriggerPercent  float64
	TrailingDistancePercent float64
	Ladder                  []TakeProfitStage

	TrailingActive  bool
	PeakMetric      float64
	BreakEvenMetric *float64

	Status      Status
	BuyTxSig    string
	CloseReason string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

func newPosition(params Params) *Position {
	ladder := make([]TakeProfitStage, len(params.Ladder))
	copy(ladder, params.Ladder)

	return &Position{
		Wallet:                  params.Wallet,
		TokenMint:               params.TokenMint,
		TradeSizeSol:            params.TradeSizeSol,
		StopLossPercent:         params.StopLossPercent,
		TrailingTriggerPercent:  params.TrailingTriggerPercent,
		TrailingDistancePercent: params.TrailingDistancePercent,
		Ladder:                  ladder,
		Status:                  StatusStarting,
		OpenedAt:                time.Now().UTC(),
	}
}

// ChangePercent returns the metric move relative to entry, in percent.
func (p *Position) ChangePercent(current float64) float64 {
	if p.EntryMetric <= 0 {
		return 0
	}
	return (current - p.EntryMetric) / p.EntryMetric * 100
}

// PnL returns unrealized profit in SOL for the remaining balance at the
// given metric.
func (p *Position) PnL(current float64) float64 {
	if p.Remaining == nil || p.EntryMetric <= 0 {
		return 0
	}
	return (current - p.EntryMetric) * float64(*p.Remaining) / 1e9
}
