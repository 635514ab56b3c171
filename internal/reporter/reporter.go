// Package reporter records security events and ships them to the dashboard
// backend.
//
// Every stage of the loop reports through here: observations, assessments,
// decisions, executed actions, and the fast-path AMM pauses. Events are
// kept in a bounded in-memory ring for the status API, pushed to live
// websocket clients, and POSTed to the backend. Reporting is fire-and-
// forget: a dead backend degrades to debug logs and never blocks defense.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"amen-agent/internal/config"
	"amen-agent/pkg/types"
)

const eventHistoryLimit = 1000

// Broadcaster pushes an event to live dashboard connections. The websocket
// hub implements it; the reporter works fine with none attached.
type Broadcaster interface {
	BroadcastEvent(event types.SecurityEvent)
}

// Reporter logs, retains, and forwards security events.
type Reporter struct {
	http   *resty.Client
	logger *slog.Logger

	mu          sync.Mutex
	history     []types.SecurityEvent
	broadcaster Broadcaster
}

// New builds a Reporter targeting the configured backend.
func New(cfg *config.Config, logger *slog.Logger) *Reporter {
	httpClient := resty.New().
		SetBaseURL(cfg.BackendURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	r := &Reporter{
		http:   httpClient,
		logger: logger.With("component", "reporter"),
	}
	r.logger.Info("reporter initialized", "backend_url", cfg.BackendURL)
	return r
}

// SetBroadcaster attaches a live event sink. Safe to call before or after
// reporting starts.
func (r *Reporter) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// ReportObservation records one market observation. This is the only event
// stamped with the snapshot's own timestamp: the observation happened when
// the chain was read, not when the report goes out.
func (r *Reporter) ReportObservation(ctx context.Context, snapshot *types.MarketSnapshot) types.SecurityEvent {
	event := types.SecurityEvent{
		Timestamp:      snapshot.Timestamp.Format(time.RFC3339Nano),
		BlockNumber:    snapshot.Block,
		EventType:      types.EventObservation,
		OraclePrice:    snapshot.OraclePrice,
		AMMPrice:       snapshot.AMMSpotPrice,
		PriceDeviation: snapshot.PriceDeviationPct,
	}
	r.record(ctx, event)
	return event
}

// ReportAssessment records a threat assessment against its snapshot.
func (r *Reporter) ReportAssessment(ctx context.Context, snapshot *types.MarketSnapshot, assessment types.ThreatAssessment) types.SecurityEvent {
	event := types.SecurityEvent{
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		BlockNumber:    snapshot.Block,
		EventType:      types.EventAssessment,
		OraclePrice:    snapshot.OraclePrice,
		AMMPrice:       snapshot.AMMSpotPrice,
		PriceDeviation: snapshot.PriceDeviationPct,
		Classification: assessment.Classification,
		Confidence:     ptr(assessment.Confidence),
		Explanation:    assessment.Explanation,
		Evidence:       assessment.Evidence,
	}
	r.record(ctx, event)
	return event
}

// ReportDecision records a policy decision alongside the assessment that
// produced it.
func (r *Reporter) ReportDecision(ctx context.Context, snapshot *types.MarketSnapshot, assessment types.ThreatAssessment, decision types.PolicyDecision) types.SecurityEvent {
	event := types.SecurityEvent{
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		BlockNumber:    snapshot.Block,
		EventType:      types.EventDecision,
		OraclePrice:    snapshot.OraclePrice,
		AMMPrice:       snapshot.AMMSpotPrice,
		PriceDeviation: snapshot.PriceDeviationPct,
		Classification: assessment.Classification,
		Confidence:     ptr(assessment.Confidence),
		Explanation:    assessment.Explanation,
		Evidence:       assessment.Evidence,
		Action:         decision.Action,
		ActionReason:   decision.Reason,
		ExecuteOnChain: ptr(decision.ExecuteOnChain),
	}
	r.record(ctx, event)
	return event
}

// ReportAction records an executed on-chain action and its transaction.
func (r *Reporter) ReportAction(ctx context.Context, snapshot *types.MarketSnapshot, decision types.PolicyDecision, txHash string) types.SecurityEvent {
	event := types.SecurityEvent{
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		BlockNumber:    snapshot.Block,
		EventType:      types.EventAction,
		OraclePrice:    snapshot.OraclePrice,
		AMMPrice:       snapshot.AMMSpotPrice,
		PriceDeviation: snapshot.PriceDeviationPct,
		Classification: decision.Classification,
		Confidence:     ptr(decision.Confidence),
		Action:         decision.Action,
		ActionReason:   decision.Reason,
		ExecuteOnChain: ptr(true),
		TxHash:         txHash,
	}
	r.record(ctx, event)
	return event
}

// ReportAMMPause records the secondary AMM pause taken after a
// high-confidence attack verdict.
func (r *Reporter) ReportAMMPause(ctx context.Context, snapshot *types.MarketSnapshot, assessment types.ThreatAssessment, txHash string) types.SecurityEvent {
	event := types.SecurityEvent{
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		BlockNumber:    snapshot.Block,
		EventType:      types.EventAMMPaused,
		OraclePrice:    snapshot.OraclePrice,
		AMMPrice:       snapshot.AMMSpotPrice,
		PriceDeviation: snapshot.PriceDeviationPct,
		Classification: assessment.Classification,
		Confidence:     ptr(assessment.Confidence),
		Explanation:    "ATTACK BLOCKED! AMM paused to prevent manipulation. " + assessment.Explanation,
		Evidence:       assessment.Evidence,
		Action:         types.ActionPauseAMM,
		ActionReason:   "Emergency AMM pause - blocking price manipulation attack",
		ExecuteOnChain: ptr(true),
		TxHash:         txHash,
	}

	r.logger.Warn("AMM paused, attack blocked",
		"tx_hash", txHash,
		"threat", assessment.Classification,
		"confidence", fmt.Sprintf("%.0f%%", assessment.Confidence*100))

	r.record(ctx, event)
	return event
}

// ReportProactiveDefense records a fast-path AMM pause triggered by raw
// deviation before any model analysis. The classification and confidence
// are synthesized: a deviation that large is a flash loan signature.
func (r *Reporter) ReportProactiveDefense(ctx context.Context, snapshot *types.MarketSnapshot, deviationPct float64, txHash string) types.SecurityEvent {
	event := types.SecurityEvent{
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		BlockNumber:    snapshot.Block,
		EventType:      types.EventProactiveDefense,
		OraclePrice:    snapshot.OraclePrice,
		AMMPrice:       snapshot.AMMSpotPrice,
		PriceDeviation: snapshot.PriceDeviationPct,
		Classification: types.FlashLoanAttack,
		Confidence:     ptr(0.95),
		Explanation: fmt.Sprintf(
			"PROACTIVE DEFENSE! Detected %.1f%% price deviation - immediate AMM pause triggered without waiting for LLM analysis.",
			deviationPct),
		Evidence: []string{
			fmt.Sprintf("Price deviation: %.1f%%", deviationPct),
			fmt.Sprintf("Oracle price: $%.2f", snapshot.OraclePrice),
			fmt.Sprintf("AMM price: $%.2f", snapshot.AMMSpotPrice),
			"Large deviation indicates flash loan attack in progress",
		},
		Action:         types.ActionProactivePauseAMM,
		ActionReason:   fmt.Sprintf("Immediate defense - %.1f%% deviation exceeds proactive threshold", deviationPct),
		ExecuteOnChain: ptr(true),
		TxHash:         txHash,
	}

	r.logger.Warn("proactive defense activated",
		"tx_hash", txHash,
		"deviation", fmt.Sprintf("%.1f%%", deviationPct),
		"oracle_price", fmt.Sprintf("$%.2f", snapshot.OraclePrice),
		"amm_price", fmt.Sprintf("$%.2f", snapshot.AMMSpotPrice))

	r.record(ctx, event)
	return event
}

// RecentEvents returns up to count most recent events, oldest first.
func (r *Reporter) RecentEvents(count int) []types.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if count <= 0 || count > len(r.history) {
		count = len(r.history)
	}
	out := make([]types.SecurityEvent, count)
	copy(out, r.history[len(r.history)-count:])
	return out
}

// record retains, logs, broadcasts, and forwards one event.
func (r *Reporter) record(ctx context.Context, event types.SecurityEvent) {
	r.mu.Lock()
	r.history = append(r.history, event)
	if len(r.history) > eventHistoryLimit {
		r.history = r.history[len(r.history)-eventHistoryLimit:]
	}
	b := r.broadcaster
	r.mu.Unlock()

	r.logEvent(event)

	if b != nil {
		b.BroadcastEvent(event)
	}
	r.send(ctx, event)
}

// logEvent picks log severity by event weight: executed actions are loud,
// routine observations stay at debug.
func (r *Reporter) logEvent(event types.SecurityEvent) {
	switch {
	case event.EventType == types.EventAction:
		r.logger.Warn("security action executed",
			"action", event.Action,
			"tx_hash", event.TxHash,
			"block", event.BlockNumber)
	case event.EventType == types.EventDecision && event.ExecuteOnChain != nil && *event.ExecuteOnChain:
		r.logger.Warn("security decision",
			"action", event.Action,
			"confidence", event.Confidence,
			"reason", truncate(event.ActionReason, 100))
	case event.EventType == types.EventAssessment && event.Classification != types.Natural:
		r.logger.Info("threat assessment",
			"classification", event.Classification,
			"confidence", event.Confidence)
	default:
		r.logger.Debug("security event",
			"event_type", event.EventType,
			"block", event.BlockNumber)
	}
}

// send POSTs the event to the backend. Failures are logged, never returned:
// the dashboard is an observer of the defense loop, not a dependency.
func (r *Reporter) send(ctx context.Context, event types.SecurityEvent) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(event).
		Post("/api/events")
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			r.logger.Debug("backend not available, skipping send")
			return
		}
		r.logger.Warn("failed to send event to backend", "error", err)
		return
	}
	if resp.StatusCode() != http.StatusOK {
		r.logger.Warn("backend API returned non-200", "status", resp.StatusCode())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func ptr[T any](v T) *T { return &v }
