// Package reasoner decides whether a market snapshot warrants LLM analysis
// and, when it does, turns the model's answer into a typed threat
// assessment.
//
// The deterministic gate (QuickCheck) is the gatekeeper for every LLM
// call: model calls cost money and seconds, so the gate suppresses static
// testnet states, deduplicates events, and fires only on concrete anomaly
// rules. Analyze adds block-level and content-level deduplication on top,
// guaranteeing at most one model call per block.
package reasoner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"amen-agent/internal/config"
	"amen-agent/pkg/types"
)

const (
	stateSigWindow      = 10
	staticMinSamples    = 5
	staticMaxUnique     = 2
	analyzedEventsLimit = 1000
)

// Reasoner is the LLM-backed threat analysis engine.
type Reasoner struct {
	cfg    *config.Config
	llm    llmClient
	budget *TokenBucket
	logger *slog.Logger

	mu              sync.Mutex
	lastLLMBlock    uint64
	lastContextHash string
	llmCalls        int
	blocksProcessed int

	// static-state detection over recent ticks
	stateSigs           []string
	staticStateWarnings int

	// per-event dedup, cleared wholesale past the size bound
	analyzedEvents map[string]struct{}
}

// New builds a Reasoner backed by the configured Gemini model.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Reasoner, error) {
	llm, err := newGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	logger.Info("gemini client initialized", "model", cfg.GeminiModel)
	return newReasoner(cfg, llm, logger), nil
}

func newReasoner(cfg *config.Config, llm llmClient, logger *slog.Logger) *Reasoner {
	perMin := cfg.LLMMaxCallsPerMin
	return &Reasoner{
		cfg:            cfg,
		llm:            llm,
		budget:         NewTokenBucket(float64(perMin), float64(perMin)/60),
		logger:         logger.With("component", "reasoner"),
		analyzedEvents: make(map[string]struct{}),
	}
}

// QuickCheck reports whether the context warrants LLM analysis. It is the
// only place blocksProcessed advances, so llmCalls can never outrun it.
func (r *Reasoner) QuickCheck(actx types.AnalysisContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blocksProcessed++

	state := actx.CurrentState
	activity := actx.ActivityMetrics
	anomalies := actx.AnomalyIndicators

	// Fingerprint the tick to catch an idle chain repeating itself. The
	// AMM price keeps full precision here so a sub-cent drift still reads
	// as a new state.
	stateSig := fmt.Sprintf("%.2f_%.10f_%d_%d",
		state.OraclePriceUSD, state.AMMSpotPriceUSD,
		activity.RecentLiquidationsCount, activity.AMMSwapsThisBlock)
	r.stateSigs = append(r.stateSigs, stateSig)
	if len(r.stateSigs) > stateSigWindow {
		r.stateSigs = r.stateSigs[1:]
	}

	if len(r.stateSigs) >= staticMinSamples {
		unique := make(map[string]struct{}, len(r.stateSigs))
		for _, sig := range r.stateSigs {
			unique[sig] = struct{}{}
		}
		if len(unique) <= staticMaxUnique {
			if r.staticStateWarnings%10 == 0 {
				r.logger.Info("static market state, suppressing LLM analysis",
					"unique_states", len(unique),
					"deviation_pct", state.PriceDeviationPct)
			}
			r.staticStateWarnings++
			return false
		}
	}

	hasActivity := activity.RecentLiquidationsCount > 0 ||
		activity.RecentLargeSwapsCount > 0 ||
		activity.AMMSwapsThisBlock > 0 ||
		activity.OracleUpdatesThisBlock > 0

	if !hasActivity {
		switch {
		case state.PriceDeviationPct < 5:
			r.logger.Debug("no activity and minor deviation, skipping LLM",
				"deviation", fmt.Sprintf("%.2f%%", state.PriceDeviationPct))
			return false
		case state.PriceDeviationPct >= 30:
			// a silent chain cannot legitimately move this far
			r.logger.Warn("high price deviation without activity, attack likely",
				"deviation_pct", state.PriceDeviationPct)
			return true
		default:
			r.logger.Warn("price deviation without market activity, monitoring",
				"deviation_pct", state.PriceDeviationPct)
		}
	}

	for _, liq := range actx.RecentLiquidations {
		key := fmt.Sprintf("liq_%s_%d", liq.User, liq.Block)
		if _, seen := r.analyzedEvents[key]; seen {
			r.logger.Debug("liquidation already analyzed", "event", key)
			return false
		}
		r.analyzedEvents[key] = struct{}{}
		if len(r.analyzedEvents) > analyzedEventsLimit {
			r.analyzedEvents = make(map[string]struct{})
		}
	}

	if state.PriceDeviationPct > 50 {
		r.logger.Info("anomaly: critical price deviation",
			"deviation", fmt.Sprintf("%.2f%%", state.PriceDeviationPct))
		return true
	}
	if anomalies.MultipleOracleUpdatesSameBlock && activity.OracleUpdatesThisBlock > 1 {
		r.logger.Info("anomaly: multiple oracle updates in one block",
			"count", activity.OracleUpdatesThisBlock)
		return true
	}
	if activity.AMMSwapsThisBlock > 3 && activity.RecentLargeSwapsCount > 0 {
		r.logger.Info("anomaly: burst of large swaps",
			"swaps", activity.AMMSwapsThisBlock,
			"large", activity.RecentLargeSwapsCount)
		return true
	}
	if anomalies.SameBlockPriceRecoveryPattern {
		r.logger.Info("anomaly: same-block price recovery")
		return true
	}
	if anomalies.LiquidationAfterPriceDrop && activity.RecentLiquidationsCount > 0 {
		r.logger.Info("anomaly: liquidation after price drop",
			"count", activity.RecentLiquidationsCount)
		return true
	}
	for _, change := range actx.RecentPriceChanges {
		if math.Abs(change.ChangePct) > 10 {
			r.logger.Info("anomaly: extreme price movement",
				"change", fmt.Sprintf("%.2f%%", change.ChangePct))
			return true
		}
	}

	r.logger.Debug("no anomalies, skipping LLM",
		"block", state.BlockNumber,
		"deviation", fmt.Sprintf("%.2f%%", state.PriceDeviationPct),
		"swaps", activity.AMMSwapsThisBlock)
	return false
}

// Analyze asks the model for a verdict on the context. It never returns an
// error: any failure degrades to the NATURAL/0.0 assessment so a broken
// model cannot stall the loop. Call only after QuickCheck approves.
func (r *Reasoner) Analyze(ctx context.Context, actx types.AnalysisContext) types.ThreatAssessment {
	block := actx.CurrentState.BlockNumber

	r.mu.Lock()
	if block == r.lastLLMBlock {
		r.mu.Unlock()
		r.logger.Warn("skipping LLM call, block already analyzed", "block", block)
		return types.ThreatAssessment{
			Classification: types.Natural,
			Explanation:    "Block already analyzed (deduplication)",
		}
	}
	digest, err := contextDigest(actx)
	if err != nil {
		r.logger.Debug("context digest failed", "error", err)
		digest = ""
	}
	if digest != "" && digest == r.lastContextHash {
		r.mu.Unlock()
		r.logger.Warn("skipping LLM call, identical context", "block", block, "hash", digest)
		return types.ThreatAssessment{
			Classification: types.Natural,
			Explanation:    "Identical context already analyzed",
		}
	}

	// The call is committed: count it and arm the dedup caches before any
	// network activity so retries of a failed call still dedup.
	r.llmCalls++
	r.lastLLMBlock = block
	r.lastContextHash = digest
	llmCalls, blocks := r.llmCalls, r.blocksProcessed
	r.mu.Unlock()

	r.logger.Info("calling gemini",
		"block", block,
		"total_llm_calls", llmCalls,
		"blocks_processed", blocks)

	if err := r.budget.Wait(ctx); err != nil {
		r.logger.Error("llm budget wait interrupted", "error", err)
		return types.ThreatAssessment{
			Classification: types.Natural,
			Explanation:    "Analysis error: " + err.Error(),
		}
	}

	prompt, err := buildPrompt(actx)
	if err != nil {
		r.logger.Error("prompt build failed", "error", err)
		return types.ThreatAssessment{
			Classification: types.Natural,
			Explanation:    "Analysis error: " + err.Error(),
		}
	}

	text, err := r.llm.generate(ctx, prompt)
	if err != nil {
		r.logger.Error("gemini analysis failed", "error", err)
		return types.ThreatAssessment{
			Classification: types.Natural,
			Explanation:    "Analysis error: " + err.Error(),
		}
	}
	if text == "" {
		r.logger.Error("empty response from gemini")
		return types.ThreatAssessment{
			Classification: types.Natural,
			Explanation:    "Empty LLM response",
		}
	}

	assessment := r.parseResponse(text)
	r.logger.Info("threat assessment completed",
		"classification", assessment.Classification,
		"confidence", assessment.Confidence,
		"evidence_count", len(assessment.Evidence),
		"llm_efficiency", fmt.Sprintf("%d/%d blocks per call", blocks, llmCalls))
	return assessment
}

// Stats returns lifetime model-call and tick counters.
func (r *Reasoner) Stats() (llmCalls, blocksProcessed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.llmCalls, r.blocksProcessed
}
