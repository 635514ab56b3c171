// Package actor executes policy decisions on-chain. It is the only place
// where a PolicyDecision turns into a signed transaction, so the mapping
// from action to contract call stays in one auditable spot.
package actor

import (
	"context"
	"fmt"
	"log/slog"

	"amen-agent/internal/chain"
	"amen-agent/pkg/types"
)

// reasonMaxLen bounds the human-readable reason stored on-chain. Longer
// strings only add calldata gas without adding information.
const reasonMaxLen = 200

// AlreadyPaused is returned instead of a transaction hash when the AMM
// pause raced another pauser and lost. The protection is active either
// way, so callers treat it as success without a transaction.
const AlreadyPaused = "already_paused"

// ChainWriter is the transaction surface the actor needs from the chain
// gateway.
type ChainWriter interface {
	PauseVault(ctx context.Context, reason string) (string, error)
	UnpauseVault(ctx context.Context) (string, error)
	BlockLiquidations(ctx context.Context) (string, error)
	UnblockLiquidations(ctx context.Context) (string, error)
	FlagManipulation(ctx context.Context, reason string) (string, error)
	PauseAMM(ctx context.Context) (string, error)
	UnpauseAMM(ctx context.Context) (string, error)
}

// Actor maps policy decisions to signed defensive transactions.
type Actor struct {
	chain  ChainWriter
	logger *slog.Logger
}

// New builds an Actor on top of a chain gateway.
func New(chain ChainWriter, logger *slog.Logger) *Actor {
	return &Actor{
		chain:  chain,
		logger: logger.With("component", "actor"),
	}
}

// Execute carries out a decision's on-chain action. It returns the
// transaction hash, or "" when the decision needs no transaction. Errors
// propagate so the agent loop can count and report failures.
func (a *Actor) Execute(ctx context.Context, decision types.PolicyDecision) (string, error) {
	if !decision.ExecuteOnChain {
		a.logger.Debug("no on-chain action required", "action", decision.Action)
		return "", nil
	}
	if decision.Action == types.ActionNone {
		return "", nil
	}

	a.logger.Info("executing on-chain action",
		"action", decision.Action,
		"reason", truncate(decision.Reason, 100))

	var (
		hash string
		err  error
	)
	switch decision.Action {
	case types.ActionPauseProtocol:
		a.logger.Warn("executing emergency vault pause")
		hash, err = a.chain.PauseVault(ctx, truncate(decision.Reason, reasonMaxLen))
	case types.ActionBlockLiquidations:
		a.logger.Warn("blocking liquidations")
		hash, err = a.chain.BlockLiquidations(ctx)
	case types.ActionFlagOracle:
		a.logger.Info("flagging oracle manipulation")
		hash, err = a.chain.FlagManipulation(ctx, truncate(decision.Reason, reasonMaxLen))
	default:
		a.logger.Debug("action not executable", "action", decision.Action)
		return "", nil
	}

	if err != nil {
		a.logger.Error("on-chain action failed",
			"action", decision.Action, "error", err)
		return "", fmt.Errorf("execute %s: %w", decision.Action, err)
	}
	a.logger.Info("on-chain action confirmed",
		"action", decision.Action, "tx_hash", hash)
	return hash, nil
}

// PauseAMM halts all swaps immediately. A revert because another
// transaction paused first is success: the pool is stopped either way, and
// the AlreadyPaused sentinel tells the caller no new transaction exists.
func (a *Actor) PauseAMM(ctx context.Context) (string, error) {
	a.logger.Warn("emergency AMM pause, blocking attack")

	hash, err := a.chain.PauseAMM(ctx)
	if err != nil {
		if chain.IsRevertWith(err, "Already paused") {
			a.logger.Info("AMM already paused, protection active")
			return AlreadyPaused, nil
		}
		a.logger.Error("AMM pause failed", "error", err)
		return "", fmt.Errorf("pause amm: %w", err)
	}
	a.logger.Info("AMM paused, attack blocked", "tx_hash", hash)
	return hash, nil
}

// BlockLiquidations freezes the vault's liquidation path without touching
// deposits or borrows. The rapid-response path calls this directly, outside
// any policy decision. A revert because the guard is already up propagates
// so the caller can decide how loudly to treat it.
func (a *Actor) BlockLiquidations(ctx context.Context) (string, error) {
	a.logger.Warn("blocking liquidations")

	hash, err := a.chain.BlockLiquidations(ctx)
	if err != nil {
		return "", fmt.Errorf("block liquidations: %w", err)
	}
	a.logger.Info("liquidations blocked", "tx_hash", hash)
	return hash, nil
}

// ————————————————————————————————————————————————————————————————————————
// Recovery operations. The loop never calls these; they exist for operator
// tooling once a flagged incident has been reviewed.
// ————————————————————————————————————————————————————————————————————————

// UnpauseAMM resumes swaps after a security review.
func (a *Actor) UnpauseAMM(ctx context.Context) (string, error) {
	a.logger.Info("unpausing AMM")

	hash, err := a.chain.UnpauseAMM(ctx)
	if err != nil {
		a.logger.Error("AMM unpause failed", "error", err)
		return "", fmt.Errorf("unpause amm: %w", err)
	}
	a.logger.Info("AMM unpaused", "tx_hash", hash)
	return hash, nil
}

// UnpauseVault lifts a protocol-wide pause.
func (a *Actor) UnpauseVault(ctx context.Context) (string, error) {
	a.logger.Info("unpausing vault")

	hash, err := a.chain.UnpauseVault(ctx)
	if err != nil {
		a.logger.Error("vault unpause failed", "error", err)
		return "", fmt.Errorf("unpause vault: %w", err)
	}
	a.logger.Info("vault unpaused", "tx_hash", hash)
	return hash, nil
}

// UnblockLiquidations re-enables the liquidation path.
func (a *Actor) UnblockLiquidations(ctx context.Context) (string, error) {
	a.logger.Info("unblocking liquidations")

	hash, err := a.chain.UnblockLiquidations(ctx)
	if err != nil {
		a.logger.Error("liquidation unblock failed", "error", err)
		return "", fmt.Errorf("unblock liquidations: %w", err)
	}
	a.logger.Info("liquidations unblocked", "tx_hash", hash)
	return hash, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
