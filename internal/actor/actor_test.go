package actor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"amen-agent/internal/chain"
	"amen-agent/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeChain struct {
	pauseVaultCalls   int
	pauseVaultReason  string
	unpauseVaultCalls int
	blockCalls        int
	unblockCalls      int
	flagCalls         int
	flagReason        string
	pauseAMMCalls     int
	unpauseAMMCalls   int

	err         error
	pauseAMMErr error
}

func (f *fakeChain) PauseVault(_ context.Context, reason string) (string, error) {
	f.pauseVaultCalls++
	f.pauseVaultReason = reason
	return "0xpause", f.err
}

func (f *fakeChain) UnpauseVault(_ context.Context) (string, error) {
	f.unpauseVaultCalls++
	return "0xunpausevault", f.err
}

func (f *fakeChain) BlockLiquidations(_ context.Context) (string, error) {
	f.blockCalls++
	return "0xblock", f.err
}

func (f *fakeChain) UnblockLiquidations(_ context.Context) (string, error) {
	f.unblockCalls++
	return "0xunblock", f.err
}

func (f *fakeChain) FlagManipulation(_ context.Context, reason string) (string, error) {
	f.flagCalls++
	f.flagReason = reason
	return "0xflag", f.err
}

func (f *fakeChain) PauseAMM(_ context.Context) (string, error) {
	f.pauseAMMCalls++
	return "0xamm", f.pauseAMMErr
}

func (f *fakeChain) UnpauseAMM(_ context.Context) (string, error) {
	f.unpauseAMMCalls++
	return "0xunpause", f.err
}

func TestExecuteRoutesActions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		action   types.Action
		execute  bool
		wantHash string
		check    func(*fakeChain) int
	}{
		{"pause protocol", types.ActionPauseProtocol, true, "0xpause",
			func(f *fakeChain) int { return f.pauseVaultCalls }},
		{"block liquidations", types.ActionBlockLiquidations, true, "0xblock",
			func(f *fakeChain) int { return f.blockCalls }},
		{"flag oracle", types.ActionFlagOracle, true, "0xflag",
			func(f *fakeChain) int { return f.flagCalls }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeChain{}
			a := New(f, testLogger())

			hash, err := a.Execute(context.Background(), types.PolicyDecision{
				Action:         tt.action,
				Reason:         "threat detected",
				ExecuteOnChain: tt.execute,
			})
			if err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			if hash != tt.wantHash {
				t.Errorf("hash = %q, want %q", hash, tt.wantHash)
			}
			if got := tt.check(f); got != 1 {
				t.Errorf("chain calls = %d, want 1", got)
			}
		})
	}
}

func TestExecuteSkips(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		decision types.PolicyDecision
	}{
		{"not on chain", types.PolicyDecision{Action: types.ActionPauseProtocol, ExecuteOnChain: false}},
		{"action none", types.PolicyDecision{Action: types.ActionNone, ExecuteOnChain: true}},
		{"monitor is never executable", types.PolicyDecision{Action: types.ActionMonitor, ExecuteOnChain: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeChain{}
			a := New(f, testLogger())

			hash, err := a.Execute(context.Background(), tt.decision)
			if err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			if hash != "" {
				t.Errorf("hash = %q, want empty", hash)
			}
			if f.pauseVaultCalls+f.blockCalls+f.flagCalls != 0 {
				t.Error("chain was called, want no calls")
			}
		})
	}
}

func TestExecuteTruncatesReason(t *testing.T) {
	t.Parallel()
	f := &fakeChain{}
	a := New(f, testLogger())

	long := strings.Repeat("x", 300)
	_, err := a.Execute(context.Background(), types.PolicyDecision{
		Action:         types.ActionPauseProtocol,
		Reason:         long,
		ExecuteOnChain: true,
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(f.pauseVaultReason) != reasonMaxLen {
		t.Errorf("stored reason length = %d, want %d", len(f.pauseVaultReason), reasonMaxLen)
	}
}

func TestExecutePropagatesError(t *testing.T) {
	t.Parallel()
	f := &fakeChain{err: errors.New("insufficient funds")}
	a := New(f, testLogger())

	hash, err := a.Execute(context.Background(), types.PolicyDecision{
		Action:         types.ActionBlockLiquidations,
		ExecuteOnChain: true,
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty on error", hash)
	}
	if !strings.Contains(err.Error(), "BLOCK_LIQUIDATIONS") {
		t.Errorf("error = %v, want action named", err)
	}
}

func TestPauseAMM(t *testing.T) {
	t.Parallel()
	f := &fakeChain{}
	a := New(f, testLogger())

	hash, err := a.PauseAMM(context.Background())
	if err != nil {
		t.Fatalf("PauseAMM() error: %v", err)
	}
	if hash != "0xamm" {
		t.Errorf("hash = %q, want 0xamm", hash)
	}
}

func TestPauseAMMAlreadyPaused(t *testing.T) {
	t.Parallel()
	f := &fakeChain{pauseAMMErr: &chain.RevertError{Reason: "Already paused"}}
	a := New(f, testLogger())

	hash, err := a.PauseAMM(context.Background())
	if err != nil {
		t.Fatalf("PauseAMM() error: %v, want tolerated", err)
	}
	if hash != AlreadyPaused {
		t.Errorf("hash = %q, want %q", hash, AlreadyPaused)
	}
}

func TestPauseAMMOtherRevert(t *testing.T) {
	t.Parallel()
	f := &fakeChain{pauseAMMErr: &chain.RevertError{Reason: "Not authorized"}}
	a := New(f, testLogger())

	_, err := a.PauseAMM(context.Background())
	if err == nil {
		t.Fatal("PauseAMM() error = nil, want revert propagated")
	}
}

func TestBlockLiquidationsDirect(t *testing.T) {
	t.Parallel()
	f := &fakeChain{}
	a := New(f, testLogger())

	hash, err := a.BlockLiquidations(context.Background())
	if err != nil {
		t.Fatalf("BlockLiquidations() error: %v", err)
	}
	if hash != "0xblock" {
		t.Errorf("hash = %q, want 0xblock", hash)
	}
	if f.blockCalls != 1 {
		t.Errorf("block calls = %d, want 1", f.blockCalls)
	}
}

func TestBlockLiquidationsPropagatesRevert(t *testing.T) {
	t.Parallel()
	f := &fakeChain{err: &chain.RevertError{Reason: "Liquidations already blocked"}}
	a := New(f, testLogger())

	_, err := a.BlockLiquidations(context.Background())
	if err == nil {
		t.Fatal("BlockLiquidations() error = nil, want revert propagated")
	}
	if !chain.IsRevertWith(err, "already blocked") {
		t.Errorf("error = %v, want revert reason preserved through wrap", err)
	}
}

func TestRecoveryOperations(t *testing.T) {
	t.Parallel()
	f := &fakeChain{}
	a := New(f, testLogger())

	tests := []struct {
		name     string
		call     func() (string, error)
		wantHash string
		calls    func() int
	}{
		{"unpause amm", func() (string, error) { return a.UnpauseAMM(context.Background()) },
			"0xunpause", func() int { return f.unpauseAMMCalls }},
		{"unpause vault", func() (string, error) { return a.UnpauseVault(context.Background()) },
			"0xunpausevault", func() int { return f.unpauseVaultCalls }},
		{"unblock liquidations", func() (string, error) { return a.UnblockLiquidations(context.Background()) },
			"0xunblock", func() int { return f.unblockCalls }},
	}
	for _, tt := range tests {
		hash, err := tt.call()
		if err != nil {
			t.Fatalf("%s: error: %v", tt.name, err)
		}
		if hash != tt.wantHash {
			t.Errorf("%s: hash = %q, want %q", tt.name, hash, tt.wantHash)
		}
		if tt.calls() != 1 {
			t.Errorf("%s: calls = %d, want 1", tt.name, tt.calls())
		}
	}
}
