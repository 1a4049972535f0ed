// internal/position/rules_test.go
package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPosition(entry float64) *Position {
	remaining := uint64(1_000_000)
	return &Position{
		ID:              "pos-test",
		Wallet:          "wallet-a",
		TokenMint:       "mint-a",
		EntryMetric:     entry,
		Remaining:       &remaining,
		StopLossPercent: 20,
		Status:          StatusRunning,
	}
}

func TestCheckStop_StopLoss(t *testing.T) {
	p := testPosition(100)

	reason, exit := checkStop(p, 85)
	assert.False(t, exit, "15 percent drop must not trigger a 20 percent stop")
	assert.Empty(t, reason)

	reason, exit = checkStop(p, 80)
	assert.True(t, exit, "20 percent drop must trigger the stop")
	assert.Equal(t, ReasonStopLoss, reason)
}

func TestCheckStop_NegativeStopLossNormalized(t *testing.T) {
	// -20 and 20 mean the same rule.
	p := testPosition(100)
	p.StopLossPercent = -20

	_, exit := checkStop(p, 79)
	assert.True(t, exit)
}

func TestCheckStop_BreakEvenReplacesStopLoss(t *testing.T) {
	p := testPosition(100)
	floor := 120.0
	p.BreakEvenMetric = &floor

	// Above the floor nothing fires, even though the original stop-loss
	// threshold (80) is long irrelevant.
	reason, exit := checkStop(p, 121)
	assert.False(t, exit)
	assert.Empty(t, reason)

	// At or below the floor the break-even stop fires, never stop-loss.
	reason, exit = checkStop(p, 120)
	assert.True(t, exit)
	assert.Equal(t, ReasonBreakEven, reason)

	reason, exit = checkStop(p, 50)
	assert.True(t, exit)
	assert.Equal(t, ReasonBreakEven, reason)
}

func TestUpdateTrailing_ArmsAtTrigger(t *testing.T) {
	p := testPosition(100)
	p.TrailingTriggerPercent = 10
	p.TrailingDistancePercent = 5

	assert.False(t, updateTrailing(p, 105))
	assert.False(t, p.TrailingActive, "below trigger must not arm")

	assert.False(t, updateTrailing(p, 110))
	assert.True(t, p.TrailingActive, "reaching the trigger arms the trail")
	assert.Equal(t, 110.0, p.PeakMetric)
}

func TestUpdateTrailing_PeakRatchetsAndExitsOnRetracement(t *testing.T) {
	p := testPosition(100)
	p.TrailingTriggerPercent = 5
	p.TrailingDistancePercent = 5

	// Series: 105 arms, 112 and 120 raise the peak, 115 holds (4.17%
	// retracement), 110 exits (8.3% off the 120 peak).
	assert.False(t, updateTrailing(p, 105))
	assert.False(t, updateTrailing(p, 112))
	assert.Equal(t, 112.0, p.PeakMetric)
	assert.False(t, updateTrailing(p, 120))
	assert.Equal(t, 120.0, p.PeakMetric)

	assert.False(t, updateTrailing(p, 115))
	assert.Equal(t, 120.0, p.PeakMetric, "peak never moves down")

	assert.True(t, updateTrailing(p, 110))
}

func TestUpdateTrailing_DisabledWithoutBothParameters(t *testing.T) {
	p := testPosition(100)
	p.TrailingTriggerPercent = 10
	p.TrailingDistancePercent = 0

	assert.False(t, updateTrailing(p, 200))
	assert.False(t, p.TrailingActive)
}

func TestDueStages_AscendingAndOnlyUnexecuted(t *testing.T) {
	p := testPosition(100)
	p.Ladder = []TakeProfitStage{
		{TriggerPercent: 10, SellFraction: 25},
		{TriggerPercent: 30, SellFraction: 50},
		{TriggerPercent: 80, SellFraction: 100},
	}

	assert.Empty(t, dueStages(p, 105))

	// A gap candle past two triggers makes both due, in ladder order.
	due := dueStages(p, 135)
	require.Equal(t, []int{0, 1}, due)

	p.Ladder[0].Executed = true
	due = dueStages(p, 135)
	assert.Equal(t, []int{1}, due, "executed stages never fire again")
}

func TestStageMetric(t *testing.T) {
	p := testPosition(200)
	p.Ladder = []TakeProfitStage{{TriggerPercent: 25, SellFraction: 50}}

	assert.InDelta(t, 250.0, stageMetric(p, 0), 1e-9)
}

func TestParamsValidate(t *testing.T) {
	valid := Params{
		Wallet:          "wallet-a",
		TokenMint:       "mint-a",
		TradeSizeSol:    0.5,
		StopLossPercent: 20,
		Ladder: []TakeProfitStage{
			{TriggerPercent: 50, SellFraction: 50},
			{TriggerPercent: 20, SellFraction: 25},
		},
	}
	require.NoError(t, valid.Validate())
	assert.Equal(t, 20.0, valid.Ladder[0].TriggerPercent, "ladder sorted ascending")

	bad := valid
	bad.TradeSizeSol = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.StopLossPercent = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Ladder = []TakeProfitStage{{TriggerPercent: 10, SellFraction: 101}}
	assert.Error(t, bad.Validate())
}

func TestPositionPnL(t *testing.T) {
	p := testPosition(100)
	remaining := uint64(2_000_000)
	p.Remaining = &remaining

	// (150-100) lamports/raw * 2e6 raw = 1e8 lamports = 0.1 SOL.
	assert.InDelta(t, 0.1, p.PnL(150), 1e-9)
	assert.InDelta(t, -0.1, p.PnL(50), 1e-9)
}
