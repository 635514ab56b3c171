// Package observer assembles per-tick market snapshots from the chain
// gateway and derives the structured analysis context the reasoner
// consumes.
//
// Essential reads (block number, oracle price, AMM reserves and swap
// stats, vault totals and flags) abort the tick on failure; everything
// else degrades to an empty or zero value so one flaky RPC field never
// blinds the whole agent.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"amen-agent/internal/config"
	"amen-agent/pkg/types"
)

const (
	snapshotHistoryLimit = 100
	eventLookbackBlocks  = 10
	largeSwapMinAmount   = 10.0 // input-asset units
)

// ChainReader is the read surface the observer needs from the gateway.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	OraclePrice(ctx context.Context) (types.PriceData, error)
	OracleTWAP(ctx context.Context) (twap float64, samples int, err error)
	OraclePriceHistory(ctx context.Context, count int) ([]types.PriceData, error)
	OracleUpdatesThisBlock(ctx context.Context) (int, error)
	AMMReserves(ctx context.Context) (weth, usdc, spot float64, err error)
	AMMBlockSwapStats(ctx context.Context) (count int, block uint64, err error)
	AMMPaused(ctx context.Context) (bool, error)
	VaultTotalCollateral(ctx context.Context) (float64, error)
	VaultTotalLoans(ctx context.Context) (float64, error)
	VaultPaused(ctx context.Context) (bool, error)
	LiquidationsBlocked(ctx context.Context) (bool, error)
	VaultLiquidationsThisBlock(ctx context.Context) (int, error)
	SwapEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.Swap, error)
	LiquidationEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.Liquidation, error)
}

// Observer takes market snapshots and keeps a bounded history of them.
type Observer struct {
	chain  ChainReader
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	snapshots []types.MarketSnapshot
}

// New creates an Observer reading through the given gateway.
func New(chain ChainReader, cfg *config.Config, logger *slog.Logger) *Observer {
	return &Observer{
		chain:  chain,
		cfg:    cfg,
		logger: logger.With("component", "observer"),
	}
}

// Observe takes a complete market snapshot. Called once per agent cycle.
func (o *Observer) Observe(ctx context.Context) (*types.MarketSnapshot, error) {
	block, err := o.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe block number: %w", err)
	}

	oracle, err := o.chain.OraclePrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe oracle price: %w", err)
	}
	twap := o.oracleTWAP(ctx, oracle.PriceUSD)

	weth, usdc, spot, err := o.chain.AMMReserves(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe amm reserves: %w", err)
	}
	swapsThisBlock, _, err := o.chain.AMMBlockSwapStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe swap stats: %w", err)
	}

	collateral, err := o.chain.VaultTotalCollateral(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe vault collateral: %w", err)
	}
	loans, err := o.chain.VaultTotalLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe vault loans: %w", err)
	}
	vaultPaused, err := o.chain.VaultPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe vault pause flag: %w", err)
	}
	liqBlocked, err := o.chain.LiquidationsBlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe liquidation flag: %w", err)
	}

	deviation := PriceDeviation(oracle.PriceUSD, spot)

	swaps := o.recentSwaps(ctx, block)
	var largeSwaps []types.Swap
	for _, s := range swaps {
		if s.AmountIn > largeSwapMinAmount {
			largeSwaps = append(largeSwaps, s)
		}
	}

	snapshot := &types.MarketSnapshot{
		Timestamp: time.Now(),
		Block:     block,

		OraclePrice:            oracle.PriceUSD,
		OracleTWAP:             twap,
		OracleUpdatesThisBlock: o.oracleUpdates(ctx),

		AMMSpotPrice:      spot,
		WethReserve:       weth,
		UsdcReserve:       usdc,
		AMMSwapsThisBlock: swapsThisBlock,
		AMMPaused:         o.ammPaused(ctx),

		PriceDeviationPct: deviation,

		VaultTotalCollateral:       collateral,
		VaultTotalLoans:            loans,
		VaultPaused:                vaultPaused,
		LiquidationsBlocked:        liqBlocked,
		VaultLiquidationsThisBlock: o.liquidationsThisBlock(ctx),

		RecentLiquidations: o.recentLiquidations(ctx, block),
		RecentLargeSwaps:   largeSwaps,
		PriceHistory:       o.priceHistory(ctx),
	}

	o.mu.Lock()
	o.snapshots = append(o.snapshots, *snapshot)
	if len(o.snapshots) > snapshotHistoryLimit {
		o.snapshots = o.snapshots[1:]
	}
	o.mu.Unlock()

	o.logger.Info("market snapshot",
		"block", block,
		"oracle_price", fmt.Sprintf("$%.2f", oracle.PriceUSD),
		"amm_price", fmt.Sprintf("$%.2f", spot),
		"deviation", fmt.Sprintf("%.2f%%", deviation),
		"swaps_this_block", swapsThisBlock)

	return snapshot, nil
}

// Latest returns the most recent snapshot, or nil before the first
// successful observation.
func (o *Observer) Latest() *types.MarketSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.snapshots) == 0 {
		return nil
	}
	last := o.snapshots[len(o.snapshots)-1]
	return &last
}

// PriceDeviation returns |oracle − amm| / oracle × 100. A zero oracle
// price yields zero rather than dividing by it.
func PriceDeviation(oraclePrice, ammPrice float64) float64 {
	if oraclePrice == 0 {
		return 0
	}
	return math.Abs(oraclePrice-ammPrice) / oraclePrice * 100
}

// ————————————————————————————————————————————————————————————————————————
// Degrading reads
// ————————————————————————————————————————————————————————————————————————

// oracleTWAP falls back to the already-fetched spot price when the TWAP
// window is empty or unreadable.
func (o *Observer) oracleTWAP(ctx context.Context, fallback float64) float64 {
	twap, samples, err := o.chain.OracleTWAP(ctx)
	if err != nil {
		o.logger.Warn("could not read TWAP, using spot price", "error", err)
		return fallback
	}
	if samples == 0 {
		return fallback
	}
	return twap
}

func (o *Observer) ammPaused(ctx context.Context) bool {
	paused, err := o.chain.AMMPaused(ctx)
	if err != nil {
		o.logger.Debug("could not read amm pause flag", "error", err)
		return false
	}
	return paused
}

func (o *Observer) oracleUpdates(ctx context.Context) int {
	n, err := o.chain.OracleUpdatesThisBlock(ctx)
	if err != nil {
		o.logger.Debug("could not read oracle update count", "error", err)
		return 0
	}
	return n
}

func (o *Observer) liquidationsThisBlock(ctx context.Context) int {
	n, err := o.chain.VaultLiquidationsThisBlock(ctx)
	if err != nil {
		o.logger.Debug("could not read liquidation count", "error", err)
		return 0
	}
	return n
}

func (o *Observer) priceHistory(ctx context.Context) []types.PriceData {
	history, err := o.chain.OraclePriceHistory(ctx, o.cfg.PriceHistoryWindow)
	if err != nil {
		// a fresh oracle reverts with an arithmetic error until its ring fills
		if strings.Contains(err.Error(), "underflow or overflow") {
			o.logger.Debug("price history unavailable, oracle needs more data points")
		} else {
			o.logger.Warn("could not read price history", "error", err)
		}
		return nil
	}
	return history
}

func (o *Observer) recentLiquidations(ctx context.Context, current uint64) []types.Liquidation {
	liqs, err := o.chain.LiquidationEvents(ctx, lookbackFrom(current), current)
	if err != nil {
		o.logEventError("liquidation", err)
		return nil
	}
	return liqs
}

func (o *Observer) recentSwaps(ctx context.Context, current uint64) []types.Swap {
	swaps, err := o.chain.SwapEvents(ctx, lookbackFrom(current), current)
	if err != nil {
		o.logEventError("swap", err)
		return nil
	}
	return swaps
}

// logEventError treats provider rate-limit style failures as routine.
func (o *Observer) logEventError(kind string, err error) {
	if strings.Contains(err.Error(), "400") || strings.Contains(err.Error(), "Bad Request") {
		o.logger.Debug("no "+kind+" events available", "error", err)
	} else {
		o.logger.Warn("could not read "+kind+" events", "error", err)
	}
}

func lookbackFrom(current uint64) uint64 {
	if current > eventLookbackBlocks {
		return current - eventLookbackBlocks
	}
	return 0
}
