// Package decider is the policy engine: it maps threat assessments to
// protective actions through a fixed, ordered rule table.
//
// The rules are deliberately hard-coded rather than learned or prompted.
// The LLM may classify, but only this table decides what touches the
// chain, and the first matching rule wins:
//
//  1. flash loan attack at pause confidence     → PAUSE_PROTOCOL (on-chain)
//  2. oracle manipulation at block confidence   → BLOCK_LIQUIDATIONS (on-chain)
//  3. flash loan attack at block confidence     → BLOCK_LIQUIDATIONS (on-chain)
//  4. any threat at monitor confidence          → MONITOR
//  5. oracle manipulation below all thresholds  → FLAG_ORACLE
//  6. otherwise                                 → NONE
//
// Decisions are pure functions of the assessment and thresholds, so the
// same verdict always yields the same decision.
package decider

import (
	"fmt"
	"log/slog"

	"amen-agent/internal/config"
	"amen-agent/pkg/types"
)

// monitorThreshold is fixed: enhanced monitoring costs nothing, so it is
// not worth a config knob.
const monitorThreshold = 0.50

// Engine applies the security policy to threat assessments.
type Engine struct {
	pauseThreshold float64
	blockThreshold float64
	logger         *slog.Logger
}

// New builds the policy engine from the configured confidence thresholds.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		pauseThreshold: cfg.PauseConfidenceThreshold,
		blockThreshold: cfg.BlockLiquidationThreshold,
		logger:         logger.With("component", "decider"),
	}
	e.logger.Info("policy engine initialized",
		"pause_threshold", e.pauseThreshold,
		"block_threshold", e.blockThreshold)
	return e
}

// Decide runs the rule table against one assessment.
func (e *Engine) Decide(assessment types.ThreatAssessment) types.PolicyDecision {
	class := assessment.Classification
	conf := assessment.Confidence

	decision := types.PolicyDecision{
		Action:         types.ActionNone,
		Confidence:     conf,
		Classification: class,
		Evidence:       assessment.Evidence,
	}

	switch {
	case class == types.FlashLoanAttack && conf >= e.pauseThreshold:
		e.logger.Warn("flash loan attack detected, pausing protocol",
			"confidence", conf, "threshold", e.pauseThreshold)
		decision.Action = types.ActionPauseProtocol
		decision.ExecuteOnChain = true
		decision.Reason = fmt.Sprintf(
			"Flash loan attack detected with %s confidence. Threshold: %s. Pausing protocol to prevent exploitation.",
			pct(conf), pct(e.pauseThreshold))

	case class == types.OracleManipulation && conf >= e.blockThreshold:
		e.logger.Warn("oracle manipulation detected, blocking liquidations",
			"confidence", conf, "threshold", e.blockThreshold)
		decision.Action = types.ActionBlockLiquidations
		decision.ExecuteOnChain = true
		decision.Reason = fmt.Sprintf(
			"Oracle manipulation detected with %s confidence. Threshold: %s. Blocking liquidations to protect users.",
			pct(conf), pct(e.blockThreshold))

	case class == types.FlashLoanAttack && conf >= e.blockThreshold:
		e.logger.Warn("potential flash loan attack, blocking liquidations",
			"confidence", conf)
		decision.Action = types.ActionBlockLiquidations
		decision.ExecuteOnChain = true
		decision.Reason = fmt.Sprintf(
			"Potential flash loan attack with %s confidence. Below pause threshold but blocking liquidations as precaution.",
			pct(conf))

	case class != types.Natural && conf >= monitorThreshold:
		e.logger.Info("suspicious activity, enhanced monitoring",
			"classification", class, "confidence", conf)
		decision.Action = types.ActionMonitor
		decision.Reason = fmt.Sprintf(
			"Suspicious activity (%s) with %s confidence. Enhanced monitoring active.",
			class, pct(conf))

	case class == types.OracleManipulation:
		e.logger.Info("low-confidence oracle anomaly", "confidence", conf)
		decision.Action = types.ActionFlagOracle
		decision.Reason = fmt.Sprintf(
			"Oracle anomaly detected with %s confidence. Below action threshold. Flagging for review.",
			pct(conf))

	default:
		e.logger.Debug("market activity normal",
			"classification", class, "confidence", conf)
		decision.Reason = "Market activity within normal parameters."
	}

	return decision
}

// Override downgrades a decision that would repeat a protection already
// engaged on-chain. Rerunning pause on a paused vault would just burn gas
// and revert.
func (e *Engine) Override(decision types.PolicyDecision, vaultPaused, liquidationsBlocked bool) types.PolicyDecision {
	if decision.Action == types.ActionPauseProtocol && vaultPaused {
		e.logger.Info("protocol already paused, downgrading to monitoring")
		return monitorInstead(decision, "Protocol already paused. Continuing monitoring.")
	}
	if decision.Action == types.ActionBlockLiquidations && liquidationsBlocked {
		e.logger.Info("liquidations already blocked, downgrading to monitoring")
		return monitorInstead(decision, "Liquidations already blocked. Continuing monitoring.")
	}
	return decision
}

func monitorInstead(decision types.PolicyDecision, reason string) types.PolicyDecision {
	return types.PolicyDecision{
		Action:         types.ActionMonitor,
		Reason:         reason,
		ExecuteOnChain: false,
		Confidence:     decision.Confidence,
		Classification: decision.Classification,
		Evidence:       decision.Evidence,
	}
}

// pct renders a confidence fraction the way operators read it, "65%".
func pct(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
