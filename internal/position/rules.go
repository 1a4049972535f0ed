// internal/position/rules.go
package position

import "math"

// checkStop evaluates the protective stop for the current metric.
// Precedence: once the break-even ratchet is armed it replaces the
// original stop-loss entirely.
func checkStop(p *Position, current float64) (reason string, exit bool) {
	if p.BreakEvenMetric != nil {
		if current <= *p.BreakEvenMetric {
			return ReasonBreakEven, true
		}
		return "", false
	}

	if p.ChangePercent(current) <= -math.Abs(p.StopLossPercent) {
		return ReasonStopLoss, true
	}
	return "", false
}

// updateTrailing arms and maintains the trailing stop. While active the
// peak only ratchets upward; a retracement of the configured distance
// from the peak exits.
func updateTrailing(p *Position, current float64) (exit bool) {
	if p.TrailingTriggerPercent <= 0 || p.TrailingDistancePercent <= 0 {
		return false
	}

	if !p.TrailingActive {
		if p.ChangePercent(current) >= math.Abs(p.TrailingTriggerPercent) {
			p.TrailingActive = true
			p.PeakMetric = current
		}
		return false
	}

	if current > p.PeakMetric {
		p.PeakMetric = current
	}

	drop := (p.PeakMetric - current) / p.PeakMetric * 100
	return drop >= math.Abs(p.TrailingDistancePercent)
}

// dueStages returns the indexes of un-executed take-profit stages whose
// trigger is met by the current metric, in ascending trigger order. The
// ladder is kept sorted by Params.Validate.
func dueStages(p *Position, current float64) []int {
	var due []int
	for i := range p.Ladder {
		stage := &p.Ladder[i]
		if stage.Executed {
			continue
		}
		if current >= p.EntryMetric*(1+stage.TriggerPercent/100) {
			due = append(due, i)
		}
	}
	return due
}

// stageMetric is the metric threshold a stage fires at; the first fired
// stage's metric becomes the break-even floor.
func stageMetric(p *Position, idx int) float64 {
	return p.EntryMetric * (1 + p.Ladder[idx].TriggerPercent/100)
}
