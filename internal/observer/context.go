package observer

import (
	"math"
	"time"

	"amen-agent/pkg/types"
)

// contextListLimit bounds the swap/liquidation lists handed to the LLM
// so prompt size stays flat regardless of chain activity.
const contextListLimit = 5

// BuildContext flattens a snapshot into the structured view the reasoner
// analyzes. The numeric rounding here is deliberate: the deterministic
// gate fingerprints these exact values, so they must be stable across
// float formatting.
func (o *Observer) BuildContext(snapshot *types.MarketSnapshot) types.AnalysisContext {
	changes := priceChanges(snapshot.PriceHistory)

	liquidationAfterDrop := false
	if len(snapshot.RecentLiquidations) > 0 && len(changes) > 0 {
		for _, c := range changes {
			if c.ChangePct < -5 {
				liquidationAfterDrop = true
				break
			}
		}
	}

	largeSwaps := snapshot.RecentLargeSwaps
	if len(largeSwaps) > contextListLimit {
		largeSwaps = largeSwaps[:contextListLimit]
	}
	liquidations := snapshot.RecentLiquidations
	if len(liquidations) > contextListLimit {
		liquidations = liquidations[:contextListLimit]
	}

	return types.AnalysisContext{
		CurrentState: types.CurrentState{
			BlockNumber:       snapshot.Block,
			Timestamp:         snapshot.Timestamp.Format(time.RFC3339Nano),
			OraclePriceUSD:    round2(snapshot.OraclePrice),
			AMMSpotPriceUSD:   round2(snapshot.AMMSpotPrice),
			OracleTWAPUSD:     round2(snapshot.OracleTWAP),
			PriceDeviationPct: round2(snapshot.PriceDeviationPct),
		},
		ActivityMetrics: types.ActivityMetrics{
			OracleUpdatesThisBlock:  snapshot.OracleUpdatesThisBlock,
			AMMSwapsThisBlock:       snapshot.AMMSwapsThisBlock,
			RecentLargeSwapsCount:   len(snapshot.RecentLargeSwaps),
			RecentLiquidationsCount: len(snapshot.RecentLiquidations),
		},
		PoolHealth: types.PoolHealth{
			WethReserve:              round4(snapshot.WethReserve),
			UsdcReserve:              round2(snapshot.UsdcReserve),
			TotalVaultCollateralWeth: round4(snapshot.VaultTotalCollateral),
			TotalVaultLoansUsdc:      round2(snapshot.VaultTotalLoans),
		},
		SecurityStatus: types.SecurityStatus{
			VaultPaused:         snapshot.VaultPaused,
			LiquidationsBlocked: snapshot.LiquidationsBlocked,
		},
		AnomalyIndicators: types.AnomalyIndicators{
			PriceDeviationAboveThreshold:   snapshot.PriceDeviationPct > o.cfg.PriceDeviationThreshold*100,
			MultipleOracleUpdatesSameBlock: snapshot.OracleUpdatesThisBlock > 1,
			MultipleSwapsSameBlock:         snapshot.AMMSwapsThisBlock > 2,
			SameBlockPriceRecoveryPattern:  recoveryPattern(snapshot.PriceHistory),
			LiquidationAfterPriceDrop:      liquidationAfterDrop,
		},
		RecentPriceChanges: changes,
		RecentLargeSwaps:   largeSwaps,
		RecentLiquidations: liquidations,
	}
}

// priceChanges derives percent moves between up to four consecutive pairs
// of history points. History is newest first, so each entry runs from the
// older point toward the newer one.
func priceChanges(history []types.PriceData) []types.PriceChange {
	if len(history) < 2 {
		return nil
	}
	n := len(history)
	if n > contextListLimit {
		n = contextListLimit
	}

	changes := make([]types.PriceChange, 0, n-1)
	for i := 1; i < n; i++ {
		prev := history[i].PriceUSD
		curr := history[i-1].PriceUSD
		changePct := 0.0
		if prev > 0 {
			changePct = (curr - prev) / prev * 100
		}
		changes = append(changes, types.PriceChange{
			FromBlock: history[i].Block,
			ToBlock:   history[i-1].Block,
			ChangePct: round2(changePct),
		})
	}
	return changes
}

// recoveryPattern reports whether the three newest history points span at
// most two distinct blocks while moving more than 10% peak to trough. That
// shape is the signature of a swap-manipulate-restore sequence inside one
// transaction bundle.
func recoveryPattern(history []types.PriceData) bool {
	if len(history) < 3 {
		return false
	}

	blocks := make(map[uint64]struct{}, 3)
	maxPrice, minPrice := history[0].PriceUSD, history[0].PriceUSD
	for _, p := range history[:3] {
		blocks[p.Block] = struct{}{}
		if p.PriceUSD > maxPrice {
			maxPrice = p.PriceUSD
		}
		if p.PriceUSD < minPrice {
			minPrice = p.PriceUSD
		}
	}
	if len(blocks) > 2 {
		return false
	}
	return maxPrice > 0 && (maxPrice-minPrice)/maxPrice > 0.1
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
