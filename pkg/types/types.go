// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the agent — chain observations,
// threat assessments, policy decisions, and the security events shipped to
// the dashboard backend. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"math"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Classification is the reasoner's verdict on observed market activity.
type Classification string

const (
	Natural            Classification = "NATURAL"
	OracleManipulation Classification = "ORACLE_MANIPULATION"
	FlashLoanAttack    Classification = "FLASH_LOAN_ATTACK"
)

// ParseClassification maps a raw string to a Classification. Unknown values
// coerce to Natural: the LLM is untrusted input and an unrecognized label
// must never escalate.
func ParseClassification(s string) Classification {
	switch Classification(s) {
	case Natural, OracleManipulation, FlashLoanAttack:
		return Classification(s)
	default:
		return Natural
	}
}

// Action enumerates the protective actions the policy engine can select.
type Action string

const (
	ActionNone              Action = "NONE"
	ActionMonitor           Action = "MONITOR"            // enhanced monitoring, no on-chain action
	ActionBlockLiquidations Action = "BLOCK_LIQUIDATIONS" // block liquidations only
	ActionPauseProtocol     Action = "PAUSE_PROTOCOL"     // full vault pause
	ActionFlagOracle        Action = "FLAG_ORACLE"        // flag oracle manipulation on-chain record

	// Fast-path labels. Never produced by the policy table; they appear only
	// as the action field on events emitted by the proactive defense path.
	ActionPauseAMM          Action = "PAUSE_AMM"
	ActionProactivePauseAMM Action = "PROACTIVE_PAUSE_AMM"
)

// EventType identifies the variant of a SecurityEvent.
type EventType string

const (
	EventObservation      EventType = "OBSERVATION"
	EventAssessment       EventType = "ASSESSMENT"
	EventDecision         EventType = "DECISION"
	EventAction           EventType = "ACTION"
	EventAMMPaused        EventType = "AMM_PAUSED"
	EventProactiveDefense EventType = "PROACTIVE_DEFENSE"
)

// ————————————————————————————————————————————————————————————————————————
// Chain observations
// ————————————————————————————————————————————————————————————————————————

// PriceData is one oracle price point, normalized from the raw 8-decimal
// on-chain value.
type PriceData struct {
	PriceUSD  float64 `json:"price_usd"`
	Timestamp int64   `json:"timestamp"`
	Block     uint64  `json:"block_number"`
}

// Liquidation is a decoded Liquidation event from the lending vault.
// DebtRepaid is in USDC, CollateralSeized in WETH, OraclePrice in USD.
type Liquidation struct {
	Liquidator       string  `json:"liquidator"`
	User             string  `json:"user"`
	DebtRepaid       float64 `json:"debt_repaid"`
	CollateralSeized float64 `json:"collateral_seized"`
	OraclePrice      float64 `json:"oracle_price"`
	Block            uint64  `json:"block"`
	Timestamp        int64   `json:"timestamp"`
}

// Swap is a decoded Swap event from the AMM pool. AmountIn is denominated
// in the input asset (WETH for weth→usdc swaps, USDC otherwise) and
// AmountOut in the output asset.
type Swap struct {
	Sender         string  `json:"sender"`
	AmountIn       float64 `json:"amount_in"`
	AmountOut      float64 `json:"amount_out"`
	IsWethToUsdc   bool    `json:"is_weth_to_usdc"`
	EffectivePrice float64 `json:"effective_price"`
	Block          uint64  `json:"block"`
}

// MarketSnapshot is the complete observation taken at one tick of the agent
// loop. All monetary fields are normalized to human units (USD, WETH, USDC).
type MarketSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Block     uint64    `json:"block_number"`

	// Oracle
	OraclePrice            float64 `json:"oracle_price"`
	OracleTWAP             float64 `json:"oracle_twap"`
	OracleUpdatesThisBlock int     `json:"oracle_updates_this_block"`

	// AMM
	AMMSpotPrice      float64 `json:"amm_spot_price"`
	WethReserve       float64 `json:"weth_reserve"`
	UsdcReserve       float64 `json:"usdc_reserve"`
	AMMSwapsThisBlock int     `json:"amm_swaps_this_block"`
	AMMPaused         bool    `json:"amm_paused"`

	// Derived: |oracle − amm| / oracle × 100, zero when oracle price is zero
	PriceDeviationPct float64 `json:"price_deviation_pct"`

	// Vault
	VaultTotalCollateral       float64 `json:"vault_total_collateral"`
	VaultTotalLoans            float64 `json:"vault_total_loans"`
	VaultPaused                bool    `json:"vault_paused"`
	LiquidationsBlocked        bool    `json:"liquidations_blocked"`
	VaultLiquidationsThisBlock int     `json:"vault_liquidations_this_block"`

	// Recent activity, bounded by the observer
	RecentLiquidations []Liquidation `json:"recent_liquidations"`
	RecentLargeSwaps   []Swap        `json:"recent_large_swaps"`
	PriceHistory       []PriceData   `json:"price_history"`
}

// ————————————————————————————————————————————————————————————————————————
// Analysis context
// ————————————————————————————————————————————————————————————————————————
// The flattened snapshot view handed to the reasoner. Field names are the
// wire contract for the LLM prompt, so renames here change model behavior.

// CurrentState carries the headline prices for the analysis context.
type CurrentState struct {
	BlockNumber       uint64  `json:"block_number"`
	Timestamp         string  `json:"timestamp"`
	OraclePriceUSD    float64 `json:"oracle_price_usd"`
	AMMSpotPriceUSD   float64 `json:"amm_spot_price_usd"`
	OracleTWAPUSD     float64 `json:"oracle_twap_usd"`
	PriceDeviationPct float64 `json:"price_deviation_pct"`
}

// ActivityMetrics counts the block-scoped and recent activity.
type ActivityMetrics struct {
	OracleUpdatesThisBlock  int `json:"oracle_updates_this_block"`
	AMMSwapsThisBlock       int `json:"amm_swaps_this_block"`
	RecentLargeSwapsCount   int `json:"recent_large_swaps_count"`
	RecentLiquidationsCount int `json:"recent_liquidations_count"`
}

// PoolHealth summarizes reserve and vault balances.
type PoolHealth struct {
	WethReserve              float64 `json:"weth_reserve"`
	UsdcReserve              float64 `json:"usdc_reserve"`
	TotalVaultCollateralWeth float64 `json:"total_vault_collateral_weth"`
	TotalVaultLoansUsdc      float64 `json:"total_vault_loans_usdc"`
}

// SecurityStatus carries the protective flags already engaged on-chain.
type SecurityStatus struct {
	VaultPaused         bool `json:"vault_paused"`
	LiquidationsBlocked bool `json:"liquidations_blocked"`
}

// AnomalyIndicators are the independently computed boolean signals the
// deterministic gate and the LLM both consume.
type AnomalyIndicators struct {
	PriceDeviationAboveThreshold   bool `json:"price_deviation_above_threshold"`
	MultipleOracleUpdatesSameBlock bool `json:"multiple_oracle_updates_same_block"`
	MultipleSwapsSameBlock         bool `json:"multiple_swaps_same_block"`
	SameBlockPriceRecoveryPattern  bool `json:"same_block_price_recovery_pattern"`
	LiquidationAfterPriceDrop      bool `json:"liquidation_after_price_drop"`
}

// PriceChange is the percent change between two consecutive history points.
type PriceChange struct {
	FromBlock uint64  `json:"from_block"`
	ToBlock   uint64  `json:"to_block"`
	ChangePct float64 `json:"change_pct"`
}

// AnalysisContext is the structured market view sent to the reasoner.
type AnalysisContext struct {
	CurrentState       CurrentState      `json:"current_state"`
	ActivityMetrics    ActivityMetrics   `json:"activity_metrics"`
	PoolHealth         PoolHealth        `json:"pool_health"`
	SecurityStatus     SecurityStatus    `json:"security_status"`
	AnomalyIndicators  AnomalyIndicators `json:"anomaly_indicators"`
	RecentPriceChanges []PriceChange     `json:"recent_price_changes"`
	RecentLargeSwaps   []Swap            `json:"recent_large_swaps"`
	RecentLiquidations []Liquidation     `json:"recent_liquidations"`
}

// ————————————————————————————————————————————————————————————————————————
// Threat assessment
// ————————————————————————————————————————————————————————————————————————

// ThreatAssessment is the structured verdict produced for one observation,
// either synthesized by the deterministic gate or parsed from the LLM.
type ThreatAssessment struct {
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"` // always within [0, 1]
	Explanation    string         `json:"explanation"`
	Evidence       []string       `json:"evidence"`
	RawResponse    string         `json:"raw_response,omitempty"`
}

// ClampConfidence forces Confidence into [0, 1]. Out-of-range values are
// clamped, never rejected.
func (a *ThreatAssessment) ClampConfidence() {
	a.Confidence = math.Max(0, math.Min(1, a.Confidence))
}

// ————————————————————————————————————————————————————————————————————————
// Policy decisions
// ————————————————————————————————————————————————————————————————————————

// PolicyDecision is the policy engine's output for one assessment.
// When Action is ActionNone, ExecuteOnChain is always false.
type PolicyDecision struct {
	Action         Action         `json:"action"`
	Reason         string         `json:"reason"`
	ExecuteOnChain bool           `json:"execute_on_chain"`
	Confidence     float64        `json:"confidence"`
	Classification Classification `json:"threat_classification"`
	Evidence       []string       `json:"evidence"`
}

// ————————————————————————————————————————————————————————————————————————
// Security events
// ————————————————————————————————————————————————————————————————————————

// SecurityEvent is the record shipped to the dashboard backend and retained
// in the reporter's in-memory ring. Timestamp is RFC 3339; the pointer
// fields distinguish "not applicable to this variant" from a real zero.
type SecurityEvent struct {
	Timestamp   string    `json:"timestamp"`
	BlockNumber uint64    `json:"block_number"`
	EventType   EventType `json:"event_type"`

	// Market data at the time of the event
	OraclePrice    float64 `json:"oracle_price"`
	AMMPrice       float64 `json:"amm_price"`
	PriceDeviation float64 `json:"price_deviation"`

	// Assessment data (if applicable)
	Classification Classification `json:"classification,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Explanation    string         `json:"explanation,omitempty"`
	Evidence       []string       `json:"evidence,omitempty"`

	// Decision data (if applicable)
	Action         Action `json:"action,omitempty"`
	ActionReason   string `json:"action_reason,omitempty"`
	ExecuteOnChain *bool  `json:"execute_on_chain,omitempty"`

	// Execution data (if applicable)
	TxHash string `json:"tx_hash,omitempty"`
}
