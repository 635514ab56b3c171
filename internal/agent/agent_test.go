package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"amen-agent/internal/actor"
	"amen-agent/internal/chain"
	"amen-agent/internal/config"
	"amen-agent/internal/decider"
	"amen-agent/internal/reporter"
	"amen-agent/internal/store"
	"amen-agent/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(backendURL, dataDir string) *config.Config {
	return &config.Config{
		ChainID:                   11155111,
		PollInterval:              5 * time.Millisecond,
		PriceDeviationThreshold:   0.03,
		PauseConfidenceThreshold:  0.65,
		BlockLiquidationThreshold: 0.50,
		ProactivePauseDeviation:   0.30,
		RapidResponseMode:         true,
		PriceHistoryWindow:        20,
		BackendURL:                backendURL,
		DataDir:                   dataDir,
	}
}

// testSnapshot builds a snapshot with the given oracle/AMM deviation in
// percent. Protection flags default to down.
func testSnapshot(deviation float64) *types.MarketSnapshot {
	oracle := 2000.0
	return &types.MarketSnapshot{
		Timestamp:            time.Now(),
		Block:                4242,
		OraclePrice:          oracle,
		OracleTWAP:           oracle,
		AMMSpotPrice:         oracle * (1 - deviation/100),
		WethReserve:          100,
		UsdcReserve:          190000,
		PriceDeviationPct:    deviation,
		VaultTotalCollateral: 250,
		VaultTotalLoans:      180000,
	}
}

type fakeObserver struct {
	snapshot *types.MarketSnapshot
	err      error
	observes int
}

func (f *fakeObserver) Observe(context.Context) (*types.MarketSnapshot, error) {
	f.observes++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeObserver) BuildContext(*types.MarketSnapshot) types.AnalysisContext {
	return types.AnalysisContext{}
}

type fakeAnalyzer struct {
	anomaly    bool
	assessment types.ThreatAssessment

	quickCalls   int
	analyzeCalls int
}

func (f *fakeAnalyzer) QuickCheck(types.AnalysisContext) bool {
	f.quickCalls++
	return f.anomaly
}

func (f *fakeAnalyzer) Analyze(context.Context, types.AnalysisContext) types.ThreatAssessment {
	f.analyzeCalls++
	return f.assessment
}

func (f *fakeAnalyzer) Stats() (int, int) {
	return f.analyzeCalls, f.quickCalls
}

type fakeWriter struct {
	pauseVaultCalls   int
	unpauseVaultCalls int
	blockCalls        int
	unblockCalls      int
	flagCalls         int
	pauseAMMCalls     int
	unpauseAMMCalls   int

	pauseAMMErr error
	blockErr    error
}

func (f *fakeWriter) PauseVault(context.Context, string) (string, error) {
	f.pauseVaultCalls++
	return "0xvault", nil
}

func (f *fakeWriter) UnpauseVault(context.Context) (string, error) {
	f.unpauseVaultCalls++
	return "0xunpausevault", nil
}

func (f *fakeWriter) BlockLiquidations(context.Context) (string, error) {
	f.blockCalls++
	return "0xblock", f.blockErr
}

func (f *fakeWriter) UnblockLiquidations(context.Context) (string, error) {
	f.unblockCalls++
	return "0xunblock", nil
}

func (f *fakeWriter) FlagManipulation(context.Context, string) (string, error) {
	f.flagCalls++
	return "0xflag", nil
}

func (f *fakeWriter) PauseAMM(context.Context) (string, error) {
	f.pauseAMMCalls++
	return "0xamm", f.pauseAMMErr
}

func (f *fakeWriter) UnpauseAMM(context.Context) (string, error) {
	f.unpauseAMMCalls++
	return "0xunpauseamm", nil
}

// fakeBackend accepts event posts and answers restore-price calls.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	restores int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/admin/restore-price", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.restores++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success": true, "message": "pool rebalanced"}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) restoreCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restores
}

func newTestAgent(t *testing.T, cfg *config.Config, obs *fakeObserver, analyzer *fakeAnalyzer, writer *fakeWriter) *Agent {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}

	a := newAgent(cfg, obs, analyzer,
		decider.New(cfg, logger),
		actor.New(writer, logger),
		reporter.New(cfg, logger),
		st, logger)
	a.renderDelay = time.Millisecond
	a.errorBackoff = time.Millisecond
	return a
}

func eventTypes(events []types.SecurityEvent) []types.EventType {
	kinds := make([]types.EventType, len(events))
	for i, ev := range events {
		kinds[i] = ev.EventType
	}
	return kinds
}

func TestProactiveDefenseFires(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(35.0)}
	analyzer := &fakeAnalyzer{}
	writer := &fakeWriter{}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	if writer.pauseAMMCalls != 1 {
		t.Errorf("pauseAMM calls = %d, want 1", writer.pauseAMMCalls)
	}
	if writer.blockCalls != 1 {
		t.Errorf("blockLiquidations calls = %d, want 1", writer.blockCalls)
	}
	if analyzer.quickCalls != 0 || analyzer.analyzeCalls != 0 {
		t.Errorf("reasoner consulted (quick=%d, analyze=%d), want none",
			analyzer.quickCalls, analyzer.analyzeCalls)
	}
	if backend.restoreCalls() != 1 {
		t.Errorf("restore-price calls = %d, want 1", backend.restoreCalls())
	}

	events := a.reporter.RecentEvents(0)
	want := []types.EventType{types.EventProactiveDefense}
	if got := eventTypes(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	ev := events[0]
	if ev.Confidence == nil || *ev.Confidence != 0.95 {
		t.Errorf("event confidence = %v, want 0.95", ev.Confidence)
	}
	if ev.TxHash != "0xamm" {
		t.Errorf("event tx_hash = %q, want 0xamm", ev.TxHash)
	}
	if ev.Classification != types.FlashLoanAttack {
		t.Errorf("event classification = %q, want %q", ev.Classification, types.FlashLoanAttack)
	}

	status := a.Status()
	if status.Cycles != 1 {
		t.Errorf("cycles = %d, want 1", status.Cycles)
	}
	if status.ThreatsDetected != 1 {
		t.Errorf("threats detected = %d, want 1", status.ThreatsDetected)
	}
	// pause + liquidation block + successful restore
	if status.ActionsTaken != 3 {
		t.Errorf("actions taken = %d, want 3", status.ActionsTaken)
	}
}

func TestProactiveSkippedWhenProtected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		setup func(*types.MarketSnapshot)
	}{
		{"amm already paused", func(s *types.MarketSnapshot) { s.AMMPaused = true }},
		{"vault already paused", func(s *types.MarketSnapshot) { s.VaultPaused = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend := newFakeBackend(t)
			snapshot := testSnapshot(35.0)
			tt.setup(snapshot)
			obs := &fakeObserver{snapshot: snapshot}
			analyzer := &fakeAnalyzer{}
			writer := &fakeWriter{}
			a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

			if err := a.runTick(context.Background()); err != nil {
				t.Fatalf("runTick() error: %v", err)
			}

			if writer.pauseAMMCalls != 0 {
				t.Errorf("pauseAMM calls = %d, want 0", writer.pauseAMMCalls)
			}
			if analyzer.quickCalls != 1 {
				t.Errorf("quickCheck calls = %d, want pipeline to proceed", analyzer.quickCalls)
			}
			want := []types.EventType{types.EventObservation}
			if got := eventTypes(a.reporter.RecentEvents(0)); !reflect.DeepEqual(got, want) {
				t.Errorf("events = %v, want %v", got, want)
			}
		})
	}
}

func TestProactiveThresholdIsStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		deviation float64
		wantFire  bool
	}{
		{"exactly at threshold", 20.0, false},
		{"just above threshold", 20.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend := newFakeBackend(t)
			cfg := testConfig(backend.srv.URL, t.TempDir())
			cfg.ProactivePauseDeviation = 0.20
			obs := &fakeObserver{snapshot: testSnapshot(tt.deviation)}
			writer := &fakeWriter{}
			a := newTestAgent(t, cfg, obs, &fakeAnalyzer{}, writer)

			if err := a.runTick(context.Background()); err != nil {
				t.Fatalf("runTick() error: %v", err)
			}

			fired := writer.pauseAMMCalls > 0
			if fired != tt.wantFire {
				t.Errorf("proactive fired = %v, want %v", fired, tt.wantFire)
			}
		})
	}
}

func TestRapidResponseModeDisabled(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	cfg := testConfig(backend.srv.URL, t.TempDir())
	cfg.RapidResponseMode = false
	obs := &fakeObserver{snapshot: testSnapshot(50.0)}
	analyzer := &fakeAnalyzer{}
	writer := &fakeWriter{}
	a := newTestAgent(t, cfg, obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	if writer.pauseAMMCalls != 0 {
		t.Errorf("pauseAMM calls = %d, want 0 with rapid response off", writer.pauseAMMCalls)
	}
	if analyzer.quickCalls != 1 {
		t.Errorf("quickCheck calls = %d, want 1", analyzer.quickCalls)
	}
}

func TestProactiveToleratesAlreadyPaused(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(35.0)}
	writer := &fakeWriter{pauseAMMErr: &chain.RevertError{Reason: "Already paused"}}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, &fakeAnalyzer{}, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	// The sentinel counts as success: the defense sequence carries on.
	if writer.blockCalls != 1 {
		t.Errorf("blockLiquidations calls = %d, want 1", writer.blockCalls)
	}
	if backend.restoreCalls() != 1 {
		t.Errorf("restore-price calls = %d, want 1", backend.restoreCalls())
	}
	events := a.reporter.RecentEvents(0)
	if len(events) != 1 || events[0].TxHash != actor.AlreadyPaused {
		t.Errorf("events = %+v, want one proactive event carrying the sentinel", events)
	}
}

func TestProactivePauseFailureAbortsDefense(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(35.0)}
	writer := &fakeWriter{pauseAMMErr: errors.New("insufficient funds")}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, &fakeAnalyzer{}, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v, want failure contained in tick", err)
	}

	if writer.blockCalls != 0 {
		t.Errorf("blockLiquidations calls = %d, want 0 after failed pause", writer.blockCalls)
	}
	if backend.restoreCalls() != 0 {
		t.Errorf("restore-price calls = %d, want 0 after failed pause", backend.restoreCalls())
	}
	if got := len(a.reporter.RecentEvents(0)); got != 0 {
		t.Errorf("events = %d, want none after failed pause", got)
	}
	if status := a.Status(); status.ThreatsDetected != 1 {
		t.Errorf("threats detected = %d, want 1 even when defense failed", status.ThreatsDetected)
	}
}

func TestBlockLiquidationsFlow(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(5.0)}
	analyzer := &fakeAnalyzer{
		anomaly: true,
		assessment: types.ThreatAssessment{
			Classification: types.OracleManipulation,
			Confidence:     0.60,
			Explanation:    "TWAP diverges from spot while update frequency spiked",
		},
	}
	writer := &fakeWriter{}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	if analyzer.analyzeCalls != 1 {
		t.Errorf("analyze calls = %d, want 1", analyzer.analyzeCalls)
	}
	if writer.blockCalls != 1 {
		t.Errorf("blockLiquidations calls = %d, want 1", writer.blockCalls)
	}
	if writer.pauseAMMCalls != 0 {
		t.Errorf("pauseAMM calls = %d, want 0 at 60%% confidence", writer.pauseAMMCalls)
	}

	want := []types.EventType{
		types.EventObservation,
		types.EventAssessment,
		types.EventDecision,
		types.EventAction,
	}
	if got := eventTypes(a.reporter.RecentEvents(0)); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	status := a.Status()
	if status.ActionsTaken != 1 {
		t.Errorf("actions taken = %d, want 1", status.ActionsTaken)
	}
	if status.ThreatsDetected != 1 {
		t.Errorf("threats detected = %d, want 1", status.ThreatsDetected)
	}
	if status.LastDecision == nil || *status.LastDecision != string(types.ActionBlockLiquidations) {
		t.Errorf("last decision = %v, want BLOCK_LIQUIDATIONS", status.LastDecision)
	}
	if status.LastClassification == nil || *status.LastClassification != string(types.OracleManipulation) {
		t.Errorf("last classification = %v, want ORACLE_MANIPULATION", status.LastClassification)
	}
}

func TestOverrideSkipsRedundantBlock(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	snapshot := testSnapshot(5.0)
	snapshot.LiquidationsBlocked = true
	obs := &fakeObserver{snapshot: snapshot}
	analyzer := &fakeAnalyzer{
		anomaly: true,
		assessment: types.ThreatAssessment{
			Classification: types.OracleManipulation,
			Confidence:     0.60,
			Explanation:    "TWAP diverges from spot",
		},
	}
	writer := &fakeWriter{}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	if writer.blockCalls != 0 {
		t.Errorf("blockLiquidations calls = %d, want 0 when already blocked", writer.blockCalls)
	}

	want := []types.EventType{
		types.EventObservation,
		types.EventAssessment,
		types.EventDecision,
	}
	if got := eventTypes(a.reporter.RecentEvents(0)); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	status := a.Status()
	if status.ActionsTaken != 0 {
		t.Errorf("actions taken = %d, want 0", status.ActionsTaken)
	}
	if status.LastDecision == nil || *status.LastDecision != string(types.ActionMonitor) {
		t.Errorf("last decision = %v, want MONITOR after override", status.LastDecision)
	}
}

func TestSecondaryAMMPause(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(5.0)}
	analyzer := &fakeAnalyzer{
		anomaly: true,
		assessment: types.ThreatAssessment{
			Classification: types.FlashLoanAttack,
			Confidence:     0.72,
			Explanation:    "same-block swap pair with price recovery",
		},
	}
	writer := &fakeWriter{}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	if writer.pauseVaultCalls != 1 {
		t.Errorf("pauseVault calls = %d, want 1", writer.pauseVaultCalls)
	}
	if writer.pauseAMMCalls != 1 {
		t.Errorf("pauseAMM calls = %d, want 1 (secondary pause)", writer.pauseAMMCalls)
	}

	want := []types.EventType{
		types.EventObservation,
		types.EventAssessment,
		types.EventDecision,
		types.EventAction,
		types.EventAMMPaused,
	}
	if got := eventTypes(a.reporter.RecentEvents(0)); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	if status := a.Status(); status.ActionsTaken != 2 {
		t.Errorf("actions taken = %d, want 2", status.ActionsTaken)
	}
}

func TestSecondaryPauseSkippedBelowConfidence(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(5.0)}
	analyzer := &fakeAnalyzer{
		anomaly: true,
		assessment: types.ThreatAssessment{
			Classification: types.FlashLoanAttack,
			Confidence:     0.68,
			Explanation:    "suspicious swap pattern",
		},
	}
	writer := &fakeWriter{}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	// 0.68 clears the vault pause threshold but not the strict 0.7
	// secondary gate.
	if writer.pauseVaultCalls != 1 {
		t.Errorf("pauseVault calls = %d, want 1", writer.pauseVaultCalls)
	}
	if writer.pauseAMMCalls != 0 {
		t.Errorf("pauseAMM calls = %d, want 0 at 68%% confidence", writer.pauseAMMCalls)
	}
}

func TestQuietTick(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{snapshot: testSnapshot(1.0)}
	analyzer := &fakeAnalyzer{}
	writer := &fakeWriter{}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, analyzer, writer)

	if err := a.runTick(context.Background()); err != nil {
		t.Fatalf("runTick() error: %v", err)
	}

	if analyzer.analyzeCalls != 0 {
		t.Errorf("analyze calls = %d, want 0 on quiet tick", analyzer.analyzeCalls)
	}
	want := []types.EventType{types.EventObservation}
	if got := eventTypes(a.reporter.RecentEvents(0)); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	status := a.Status()
	if status.ThreatsDetected != 0 || status.ActionsTaken != 0 {
		t.Errorf("threats = %d, actions = %d, want 0, 0",
			status.ThreatsDetected, status.ActionsTaken)
	}
	if status.LastClassification == nil || *status.LastClassification != string(types.Natural) {
		t.Errorf("last classification = %v, want NATURAL", status.LastClassification)
	}
	if status.LastDecision == nil || *status.LastDecision != string(types.ActionNone) {
		t.Errorf("last decision = %v, want NONE", status.LastDecision)
	}
}

func TestTickObserveError(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	obs := &fakeObserver{err: errors.New("connection refused")}
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()), obs, &fakeAnalyzer{}, &fakeWriter{})

	err := a.runTick(context.Background())
	if err == nil {
		t.Fatal("runTick() error = nil, want observe failure propagated")
	}
	if !strings.Contains(err.Error(), "observe") {
		t.Errorf("error = %v, want observe stage named", err)
	}
	if status := a.Status(); status.Cycles != 1 {
		t.Errorf("cycles = %d, want attempt counted", status.Cycles)
	}
}

func TestStatusBeforeFirstTick(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	a := newTestAgent(t, testConfig(backend.srv.URL, t.TempDir()),
		&fakeObserver{snapshot: testSnapshot(1.0)}, &fakeAnalyzer{}, &fakeWriter{})

	status := a.Status()
	if status.State != StateStarting {
		t.Errorf("state = %q, want %q", status.State, StateStarting)
	}
	if status.Running {
		t.Error("running = true before Start")
	}
	if status.LastSnapshot != nil || status.LastClassification != nil || status.LastDecision != nil {
		t.Errorf("last_* fields = %v/%v/%v, want all nil",
			status.LastSnapshot, status.LastClassification, status.LastDecision)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	cfg := testConfig(backend.srv.URL, t.TempDir())
	obs := &fakeObserver{snapshot: testSnapshot(1.0)}
	a := newTestAgent(t, cfg, obs, &fakeAnalyzer{}, &fakeWriter{})

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Status().Cycles < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if status := a.Status(); !status.Running {
		t.Errorf("state = %q, want running while loop is up", status.State)
	}

	a.Stop()

	status := a.Status()
	if status.State != StateShuttingDown {
		t.Errorf("state = %q, want %q after Stop", status.State, StateShuttingDown)
	}
	if status.Cycles < 2 {
		t.Errorf("cycles = %d, want at least 2", status.Cycles)
	}

	// Counters survive in the session store.
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	session, err := st.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession() error: %v", err)
	}
	if session == nil {
		t.Fatal("LoadSession() = nil, want persisted session")
	}
	if session.Cycles != status.Cycles {
		t.Errorf("persisted cycles = %d, want %d", session.Cycles, status.Cycles)
	}
}

func TestSessionRestoredAcrossRestart(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t)
	cfg := testConfig(backend.srv.URL, t.TempDir())

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	if err := st.SaveSession(store.Session{Cycles: 40, ThreatsDetected: 3, ActionsTaken: 2}); err != nil {
		t.Fatalf("SaveSession() error: %v", err)
	}

	obs := &fakeObserver{snapshot: testSnapshot(1.0)}
	a := newTestAgent(t, cfg, obs, &fakeAnalyzer{}, &fakeWriter{})
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	a.Stop()

	status := a.Status()
	if status.Cycles < 40 {
		t.Errorf("cycles = %d, want counters restored from previous session", status.Cycles)
	}
	if status.ThreatsDetected < 3 {
		t.Errorf("threats detected = %d, want at least 3", status.ThreatsDetected)
	}
}
