package strategy

import (
	"fmt"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// ExitEvaluator decides, for one minute's leg prices, whether the short
// straddle should be bought back. Implementations are bound to the entry
// premiums at construction and have no side effects.
type ExitEvaluator interface {
	// Evaluate returns the fired reason, or false when nothing fired.
	// Stop-loss is checked first and wins a tie with take-profit.
	Evaluate(callPrice, putPrice float64) (models.ExitReason, bool)
}

// NewExitEvaluator picks the combined or per-leg rule once, up front.
func NewExitEvaluator(cfg Config, callEntry, putEntry float64) (ExitEvaluator, error) {
	if callEntry <= 0 || putEntry <= 0 {
		return nil, fmt.Errorf("%w: entry premiums must be positive (call %.2f, put %.2f)",
			models.ErrConfigInvalid, callEntry, putEntry)
	}
	tp, hasTP := cfg.TakeProfit()
	thresholds := thresholds{stopLoss: cfg.StopLossPct, takeProfit: tp, hasTakeProfit: hasTP}

	switch cfg.Mode {
	case ModePerLeg:
		return &perLegEvaluator{thresholds: thresholds, callEntry: callEntry, putEntry: putEntry}, nil
	case ModeCombined:
		return &combinedEvaluator{thresholds: thresholds, entryTotal: callEntry + putEntry}, nil
	default:
		return nil, fmt.Errorf("%w: unknown exit mode %d", models.ErrConfigInvalid, cfg.Mode)
	}
}

type thresholds struct {
	stopLoss      float64
	takeProfit    float64
	hasTakeProfit bool
}

// changePct is the percentage move of price relative to entry. For a short
// leg a positive value is a loss.
func changePct(price, entry float64) float64 {
	return (price - entry) / entry * 100
}

type combinedEvaluator struct {
	thresholds
	entryTotal float64
}

func (e *combinedEvaluator) Evaluate(callPrice, putPrice float64) (models.ExitReason, bool) {
	lossPct := changePct(callPrice+putPrice, e.entryTotal)
	if lossPct >= e.stopLoss {
		return models.ExitStopLoss, true
	}
	if e.hasTakeProfit && -lossPct >= e.takeProfit {
		return models.ExitTakeProfit, true
	}
	return "", false
}

type perLegEvaluator struct {
	thresholds
	callEntry float64
	putEntry  float64
}

func (e *perLegEvaluator) Evaluate(callPrice, putPrice float64) (models.ExitReason, bool) {
	callLoss := changePct(callPrice, e.callEntry)
	putLoss := changePct(putPrice, e.putEntry)
	if callLoss >= e.stopLoss || putLoss >= e.stopLoss {
		return models.ExitStopLoss, true
	}
	if e.hasTakeProfit && (-callLoss >= e.takeProfit || -putLoss >= e.takeProfit) {
		return models.ExitTakeProfit, true
	}
	return "", false
}
