package watchdog

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/harouter"
	"github.com/gaia-project/gaia-core/internal/ledger"
	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
)

type fakeChecker struct{ ok bool }

func (f *fakeChecker) Check(ctx context.Context) types.HealthSnapshot {
	return types.HealthSnapshot{OK: f.ok, ObservedAt: time.Now()}
}

type fakeSyncer struct {
	calls   int
	running bool
}

func (f *fakeSyncer) Running() bool { return f.running }
func (f *fakeSyncer) Incremental() error {
	f.calls++
	return nil
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(ledger.Config{
		NodeID:   "test-node",
		BindAddr: freeLoopbackAddr(t),
		DataDir:  t.TempDir(),
	}, storage.NewMemStore())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Shutdown() })
	return l
}

func TestWatchdog_TicksAccumulateToFailThreshold(t *testing.T) {
	table, err := harouter.New(openTestLedger(t), "")
	require.NoError(t, err)

	checker := &fakeChecker{ok: false}
	roles := []Role{{
		Name:              "core",
		PrimaryEndpoint:   "http://primary",
		CandidateEndpoint: "http://fallback",
		PrimaryChecker:    checker,
	}}
	w := New(roles, table, nil, config.WatchdogConfig{FailThreshold: 2, RecoverThreshold: 3})

	w.Tick()
	assert.Equal(t, types.Endpoint("http://primary"), table.Route("core"))

	w.Tick()
	assert.Equal(t, types.Endpoint("http://fallback"), table.Route("core"))
}

func TestWatchdog_RunsSyncWhenHAActiveAndNoMaintenance(t *testing.T) {
	led := openTestLedger(t)
	table, err := harouter.New(led, "")
	require.NoError(t, err)

	syncer := &fakeSyncer{}
	roles := []Role{{
		Name:              "core",
		PrimaryEndpoint:   "http://primary",
		CandidateEndpoint: "http://fallback",
		PrimaryChecker:    &fakeChecker{ok: true},
		CandidateChecker:  &fakeChecker{ok: true},
	}}
	w := New(roles, table, syncer, config.WatchdogConfig{FailThreshold: 2, RecoverThreshold: 1})

	w.Tick()
	assert.Equal(t, 1, syncer.calls, "HA active and no maintenance: sync should run")
}

func TestWatchdog_SkipsSyncWhenNoCandidateConfigured(t *testing.T) {
	table, err := harouter.New(openTestLedger(t), "")
	require.NoError(t, err)

	syncer := &fakeSyncer{}
	roles := []Role{{
		Name:            "core",
		PrimaryEndpoint: "http://primary",
		PrimaryChecker:  &fakeChecker{ok: true},
	}}
	w := New(roles, table, syncer, config.WatchdogConfig{FailThreshold: 2, RecoverThreshold: 1})

	w.Tick()
	assert.Equal(t, 0, syncer.calls, "no role is HA-active: sync must not run")
}

func TestWatchdog_SkipsSyncWhilePreviousSyncStillRunning(t *testing.T) {
	table, err := harouter.New(openTestLedger(t), "")
	require.NoError(t, err)

	syncer := &fakeSyncer{running: true}
	roles := []Role{{
		Name:              "core",
		PrimaryEndpoint:   "http://primary",
		CandidateEndpoint: "http://fallback",
		PrimaryChecker:    &fakeChecker{ok: true},
	}}
	w := New(roles, table, syncer, config.WatchdogConfig{FailThreshold: 2, RecoverThreshold: 1})

	w.Tick()
	assert.Equal(t, 0, syncer.calls)
}

func TestWatchdog_StartStopRunsTicksOnInterval(t *testing.T) {
	table, err := harouter.New(openTestLedger(t), "")
	require.NoError(t, err)

	checker := &fakeChecker{ok: true}
	roles := []Role{{Name: "core", PrimaryEndpoint: "http://primary", PrimaryChecker: checker}}
	w := New(roles, table, nil, config.WatchdogConfig{Interval: 10 * time.Millisecond, FailThreshold: 2, RecoverThreshold: 1})

	w.Start()
	require.Eventually(t, func() bool {
		_, ok := table.Entry("core")
		return ok
	}, 1*time.Second, 5*time.Millisecond)
	w.Stop()
}
