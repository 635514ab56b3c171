// Package agent is the central orchestrator of the defense system.
//
// Each tick walks five stages:
//
//  1. Observer snapshots oracle, AMM pool, and lending vault state.
//  2. Reasoner screens the snapshot with deterministic checks and, only
//     when those flag an anomaly, asks Gemini for a threat assessment.
//  3. Decider maps the assessment to a policy action.
//  4. Actor executes protective transactions on-chain.
//  5. Reporter pushes security events to the dashboard backend.
//
// A rapid-response shortcut runs between stages 1 and 2: when the
// oracle/AMM price deviation alone is overwhelming evidence of an attack,
// the agent pauses the AMM immediately instead of waiting seconds for an
// LLM round trip.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"amen-agent/internal/actor"
	"amen-agent/internal/chain"
	"amen-agent/internal/config"
	"amen-agent/internal/decider"
	"amen-agent/internal/observer"
	"amen-agent/internal/reasoner"
	"amen-agent/internal/reporter"
	"amen-agent/internal/store"
	"amen-agent/pkg/types"
)

// Loop states reported through Status and the health endpoints.
const (
	StateStarting     = "starting"
	StateRunning      = "running"
	StateShuttingDown = "shutting_down"
)

const (
	// errorBackoff replaces the poll interval after a failed tick.
	errorBackoff = 5 * time.Second
	// renderDelay holds the paused state on screen before the price is
	// restored, so the dashboard shows the attack being neutralized.
	renderDelay = 5 * time.Second
	// restoreTimeout bounds the restore-price call, which waits for the
	// backend's counter-swap transaction to mine.
	restoreTimeout = 180 * time.Second
)

// marketObserver is the snapshot surface the loop consumes.
type marketObserver interface {
	Observe(ctx context.Context) (*types.MarketSnapshot, error)
	BuildContext(snapshot *types.MarketSnapshot) types.AnalysisContext
}

// threatAnalyzer is the reasoning surface: a free deterministic screen
// plus the metered LLM analysis behind it.
type threatAnalyzer interface {
	QuickCheck(actx types.AnalysisContext) bool
	Analyze(ctx context.Context, actx types.AnalysisContext) types.ThreatAssessment
	Stats() (llmCalls, blocksProcessed int)
}

// Status is a point-in-time copy of the loop counters for the health API.
// The last_* fields are null until the loop has produced them.
type Status struct {
	State              string  `json:"state"`
	Running            bool    `json:"running"`
	Cycles             int     `json:"cycles"`
	ThreatsDetected    int     `json:"threats_detected"`
	ActionsTaken       int     `json:"actions_taken"`
	LastSnapshot       *string `json:"last_snapshot"`
	LastClassification *string `json:"last_classification"`
	LastDecision       *string `json:"last_decision"`
	LastError          *string `json:"last_error"`
}

// Agent drives the observe → reason → decide → act → report loop.
// It owns the loop goroutine and all per-session counters.
type Agent struct {
	cfg      *config.Config
	observer marketObserver
	reasoner threatAnalyzer
	decider  *decider.Engine
	actor    *actor.Actor
	reporter *reporter.Reporter
	store    *store.Store
	backend  *resty.Client
	logger   *slog.Logger

	// overridable in tests; production keeps the package defaults
	renderDelay  time.Duration
	errorBackoff time.Duration

	mu                 sync.Mutex
	state              string
	cycles             int
	threatsDetected    int
	actionsTaken       int
	lastSnapshot       *types.MarketSnapshot
	lastClassification types.Classification
	lastDecision       types.Action
	lastErr            string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all agent components on top of an already-dialed
// chain gateway.
func New(ctx context.Context, cfg *config.Config, gateway *chain.Client, logger *slog.Logger) (*Agent, error) {
	obs := observer.New(gateway, cfg, logger)

	analyzer, err := reasoner.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init reasoner: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return newAgent(cfg, obs, analyzer,
		decider.New(cfg, logger),
		actor.New(gateway, logger),
		reporter.New(cfg, logger),
		st, logger), nil
}

func newAgent(
	cfg *config.Config,
	obs marketObserver,
	analyzer threatAnalyzer,
	policy *decider.Engine,
	act *actor.Actor,
	rep *reporter.Reporter,
	st *store.Store,
	logger *slog.Logger,
) *Agent {
	ctx, cancel := context.WithCancel(context.Background())

	return &Agent{
		cfg:      cfg,
		observer: obs,
		reasoner: analyzer,
		decider:  policy,
		actor:    act,
		reporter: rep,
		store:    st,
		backend: resty.New().
			SetBaseURL(cfg.BackendURL).
			SetTimeout(restoreTimeout).
			SetHeader("Content-Type", "application/json"),
		logger:       logger.With("component", "agent"),
		renderDelay:  renderDelay,
		errorBackoff: errorBackoff,
		state:        StateStarting,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Reporter exposes the event reporter so the API server can serve the
// event history and attach its WebSocket hub.
func (a *Agent) Reporter() *reporter.Reporter {
	return a.reporter
}

// Start restores persisted session counters and launches the loop
// goroutine.
func (a *Agent) Start() error {
	session, err := a.store.LoadSession()
	switch {
	case err != nil:
		a.logger.Warn("could not load previous session", "error", err)
	case session != nil:
		a.mu.Lock()
		a.cycles = session.Cycles
		a.threatsDetected = session.ThreatsDetected
		a.actionsTaken = session.ActionsTaken
		a.mu.Unlock()
		a.logger.Info("session restored",
			"cycles", session.Cycles,
			"threats_detected", session.ThreatsDetected,
			"actions_taken", session.ActionsTaken)
	}

	a.logger.Info("agent starting",
		"chain_id", a.cfg.ChainID,
		"poll_interval", a.cfg.PollInterval,
		"pause_threshold", fmt.Sprintf("%.0f%%", a.cfg.PauseConfidenceThreshold*100),
		"rapid_response", a.cfg.RapidResponseMode)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runLoop()
	}()

	return nil
}

// Stop asks the loop to exit after its current stage, waits for it,
// persists the session, and logs the summary. In-flight transactions run
// to completion; the agent only stops polling.
func (a *Agent) Stop() {
	a.logger.Info("shutting down...")

	a.mu.Lock()
	a.state = StateShuttingDown
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	a.saveSession()
	a.store.Close()

	llmCalls, blocks := a.reasoner.Stats()
	efficiency := "N/A"
	if llmCalls > 0 {
		efficiency = fmt.Sprintf("%.1f blocks/call", float64(blocks)/float64(llmCalls))
	}

	a.mu.Lock()
	a.logger.Info("session summary",
		"cycles", a.cycles,
		"threats_detected", a.threatsDetected,
		"actions_taken", a.actionsTaken,
		"llm_calls", llmCalls,
		"blocks_processed", blocks,
		"llm_efficiency", efficiency)
	a.mu.Unlock()

	a.logger.Info("shutdown complete")
}

// Status returns a copy of the loop counters. Safe to call concurrently
// with the running loop.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		State:           a.state,
		Running:         a.state == StateRunning,
		Cycles:          a.cycles,
		ThreatsDetected: a.threatsDetected,
		ActionsTaken:    a.actionsTaken,
	}
	if a.lastSnapshot != nil {
		ts := a.lastSnapshot.Timestamp.Format(time.RFC3339Nano)
		s.LastSnapshot = &ts
	}
	if a.lastClassification != "" {
		c := string(a.lastClassification)
		s.LastClassification = &c
	}
	if a.lastDecision != "" {
		d := string(a.lastDecision)
		s.LastDecision = &d
	}
	if a.lastErr != "" {
		e := a.lastErr
		s.LastError = &e
	}
	return s
}

// runLoop drives ticks until the context is cancelled. Ticks never
// overlap; a failed tick backs off harder than the poll interval.
func (a *Agent) runLoop() {
	a.mu.Lock()
	a.state = StateRunning
	a.mu.Unlock()

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		delay := a.cfg.PollInterval
		if err := a.runTick(a.ctx); err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.logger.Error("cycle failed", "error", err)
			a.mu.Lock()
			a.lastErr = err.Error()
			a.mu.Unlock()
			delay = a.errorBackoff
		} else {
			a.mu.Lock()
			a.lastErr = ""
			a.mu.Unlock()
		}

		a.saveSession()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-a.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// runTick runs one observe → reason → decide → act → report cycle.
// Errors abort the remainder of the tick; the loop logs them and retries
// after the backoff.
func (a *Agent) runTick(ctx context.Context) error {
	a.mu.Lock()
	a.cycles++
	a.mu.Unlock()

	snapshot, err := a.observer.Observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}

	a.mu.Lock()
	a.lastSnapshot = snapshot
	a.mu.Unlock()

	if a.proactiveTriggered(snapshot) {
		a.runProactiveDefense(ctx, snapshot)
		return nil
	}

	a.reporter.ReportObservation(ctx, snapshot)

	actx := a.observer.BuildContext(snapshot)

	var assessment types.ThreatAssessment
	if a.reasoner.QuickCheck(actx) {
		a.logger.Warn("anomaly detected, invoking LLM analysis", "block", snapshot.Block)
		assessment = a.reasoner.Analyze(ctx, actx)
		a.logger.Info("threat assessment",
			"classification", assessment.Classification,
			"confidence", fmt.Sprintf("%.0f%%", assessment.Confidence*100))
	} else {
		assessment = types.ThreatAssessment{
			Classification: types.Natural,
			Confidence:     0.95,
			Explanation:    "No anomalies detected",
		}
	}

	a.mu.Lock()
	a.lastClassification = assessment.Classification
	a.mu.Unlock()

	if assessment.Classification != types.Natural {
		a.reporter.ReportAssessment(ctx, snapshot, assessment)
		a.mu.Lock()
		a.threatsDetected++
		a.mu.Unlock()
	}

	decision := a.decider.Decide(assessment)
	decision = a.decider.Override(decision, snapshot.VaultPaused, snapshot.LiquidationsBlocked)

	a.mu.Lock()
	a.lastDecision = decision.Action
	a.mu.Unlock()

	if decision.Action != types.ActionNone {
		a.reporter.ReportDecision(ctx, snapshot, assessment, decision)
	}

	if decision.ExecuteOnChain {
		tx, err := a.actor.Execute(context.WithoutCancel(ctx), decision)
		if err != nil {
			return fmt.Errorf("act: %w", err)
		}
		a.mu.Lock()
		a.actionsTaken++
		a.mu.Unlock()
		a.reporter.ReportAction(ctx, snapshot, decision, tx)
	}

	a.secondaryAMMPause(ctx, snapshot, assessment)
	return nil
}

// proactiveTriggered applies the rapid-response gate: deviation strictly
// above the proactive threshold while both protections are still down.
func (a *Agent) proactiveTriggered(snapshot *types.MarketSnapshot) bool {
	if !a.cfg.RapidResponseMode {
		return false
	}
	return snapshot.PriceDeviationPct > a.proactiveThresholdPct() &&
		!snapshot.AMMPaused &&
		!snapshot.VaultPaused
}

// proactiveThresholdPct is the one place the configured fraction meets the
// snapshot's percent scale.
func (a *Agent) proactiveThresholdPct() float64 {
	return a.cfg.ProactivePauseDeviation * 100
}

// runProactiveDefense pauses the AMM without waiting for LLM analysis.
// An LLM round trip takes seconds, longer than a block time; a deviation
// this large cannot wait for it. The tick ends here either way.
func (a *Agent) runProactiveDefense(ctx context.Context, snapshot *types.MarketSnapshot) {
	a.logger.Warn("critical deviation, activating proactive defense",
		"deviation", fmt.Sprintf("%.1f%%", snapshot.PriceDeviationPct),
		"threshold", fmt.Sprintf("%.1f%%", a.proactiveThresholdPct()),
		"block", snapshot.Block)

	defer func() {
		a.mu.Lock()
		a.threatsDetected++
		a.mu.Unlock()
	}()

	// Defensive writes survive a shutdown signal; the agent only stops
	// polling, never abandons a pause mid-flight.
	wctx := context.WithoutCancel(ctx)

	ammTx, err := a.actor.PauseAMM(wctx)
	if err != nil {
		a.logger.Error("proactive AMM pause failed", "error", err)
		return
	}
	a.mu.Lock()
	a.actionsTaken++
	a.mu.Unlock()

	if _, err := a.actor.BlockLiquidations(wctx); err != nil {
		if chain.IsRevertWith(err, "already blocked") {
			a.logger.Info("liquidations already blocked, protection active")
		} else {
			a.logger.Warn("could not block liquidations", "error", err)
		}
	} else {
		a.mu.Lock()
		a.actionsTaken++
		a.mu.Unlock()
	}

	a.reporter.ReportProactiveDefense(wctx, snapshot, snapshot.PriceDeviationPct, ammTx)

	// Hold the paused state on screen before countering, so the dashboard
	// renders the attack. A shutdown signal skips the wait but still
	// restores the price.
	timer := time.NewTimer(a.renderDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	a.restorePrice(wctx)
	a.logger.Info("defense complete, attack neutralized")
}

// secondaryAMMPause backstops the policy table: any high-confidence attack
// classification stops the pool even when the decision itself targeted the
// vault. Failures here never fail the tick.
func (a *Agent) secondaryAMMPause(ctx context.Context, snapshot *types.MarketSnapshot, assessment types.ThreatAssessment) {
	attack := assessment.Classification == types.FlashLoanAttack ||
		assessment.Classification == types.OracleManipulation
	if !attack || assessment.Confidence <= 0.7 || snapshot.AMMPaused {
		return
	}

	a.logger.Warn("high threat, pausing AMM",
		"classification", assessment.Classification,
		"confidence", fmt.Sprintf("%.0f%%", assessment.Confidence*100))

	tx, err := a.actor.PauseAMM(context.WithoutCancel(ctx))
	if err != nil {
		a.logger.Error("could not pause AMM", "error", err)
		return
	}
	a.reporter.ReportAMMPause(ctx, snapshot, assessment, tx)
	a.mu.Lock()
	a.actionsTaken++
	a.mu.Unlock()
}

// restorePrice asks the backend to arbitrage the pool back toward the
// oracle price. The backend owns the swap math and the capital; this call
// deliberately waits for its transaction.
func (a *Agent) restorePrice(ctx context.Context) {
	a.logger.Info("initiating automatic price restoration")

	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	resp, err := a.backend.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/api/admin/restore-price")
	if err != nil {
		a.logger.Warn("could not auto-restore price", "error", err)
		return
	}
	if !resp.IsSuccess() || !result.Success {
		a.logger.Warn("price restore declined",
			"status", resp.StatusCode(), "message", result.Message)
		return
	}

	a.logger.Info("price restored", "message", result.Message)
	a.mu.Lock()
	a.actionsTaken++
	a.mu.Unlock()
}

func (a *Agent) saveSession() {
	a.mu.Lock()
	session := store.Session{
		Cycles:          a.cycles,
		ThreatsDetected: a.threatsDetected,
		ActionsTaken:    a.actionsTaken,
	}
	a.mu.Unlock()

	if err := a.store.SaveSession(session); err != nil {
		a.logger.Warn("could not persist session", "error", err)
	}
}
