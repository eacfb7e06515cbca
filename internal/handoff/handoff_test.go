package handoff

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/ledger"
	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
)

type fakeChecker struct {
	healthy bool
}

func (f *fakeChecker) Check(ctx context.Context) types.HealthSnapshot {
	return types.HealthSnapshot{Target: "fake", OK: f.healthy, ObservedAt: time.Now()}
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

func fastDeadlines() config.HandoffDeadlines {
	return config.HandoffDeadlines{
		Outer:   2 * time.Second,
		Drain:   500 * time.Millisecond,
		Release: 500 * time.Millisecond,
		Start:   500 * time.Millisecond,
		Verify:  500 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, backend container.Backend, checkers map[types.WorkerName]fakeHealthy) *Coordinator {
	t.Helper()
	l := openTestLedger(t)

	healthCheckers := make(map[types.WorkerName]health.Checker, len(checkers))
	for w, h := range checkers {
		healthCheckers[w] = &fakeChecker{healthy: bool(h)}
	}

	c := New(Config{
		DeviceID:  "gpu0",
		Workers:   []types.WorkerName{types.WorkerPrime, types.WorkerStudy},
		Backend:   backend,
		Checkers:  healthCheckers,
		Deadlines: fastDeadlines(),
		Ledger:    l,
	})
	require.NoError(t, l.PutDeviceOwner("gpu0", types.WorkerPrime))
	return c
}

type fakeHealthy bool

func mustCompleted(t *testing.T, c *Coordinator, id string) *types.HandoffRecord {
	t.Helper()
	var record *types.HandoffRecord
	require.Eventually(t, func() bool {
		r, err := c.Status(id)
		require.NoError(t, err)
		record = r
		return r.Phase.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func TestCoordinator_HappyPathCompletesAndFlipsOwner(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	c := newTestCoordinator(t, backend, map[types.WorkerName]fakeHealthy{types.WorkerStudy: true})

	id, err := c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "test", 0)
	require.NoError(t, err)

	record := mustCompleted(t, c, id)
	assert.Equal(t, types.PhaseCompleted, record.Phase)
	assert.Equal(t, types.ResultCompleted, record.Result)
	assert.Equal(t, types.WorkerStudy, c.CurrentOwner())
}

func TestCoordinator_SecondRequestWhileInFlightReturnsBusy(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	backend.StartDelay[types.WorkerStudy] = 1 * time.Second
	c := newTestCoordinator(t, backend, map[types.WorkerName]fakeHealthy{types.WorkerStudy: true})

	_, err := c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "first", 0)
	require.NoError(t, err)

	_, err = c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "second", 0)
	assert.ErrorIs(t, err, gaiaerr.ErrBusy)
}

func TestCoordinator_RequestFromNonOwnerFailsWithNotOwner(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	c := newTestCoordinator(t, backend, nil)

	_, err := c.RequestHandoff(types.WorkerStudy, types.WorkerPrime, "bad", 0)
	assert.ErrorIs(t, err, gaiaerr.ErrNotOwner)
}

func TestCoordinator_UnknownWorkerRejected(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	c := newTestCoordinator(t, backend, nil)

	_, err := c.RequestHandoff(types.WorkerPrime, types.WorkerName("ghost"), "bad", 0)
	assert.ErrorIs(t, err, gaiaerr.ErrUnknownWorker)
}

func TestCoordinator_TargetStartFailureReturnsDeviceToSource(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	backend.FailStart[types.WorkerStudy] = true
	c := newTestCoordinator(t, backend, map[types.WorkerName]fakeHealthy{types.WorkerStudy: true})

	id, err := c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "test", 0)
	require.NoError(t, err)

	record := mustCompleted(t, c, id)
	assert.Equal(t, types.PhaseFailed, record.Phase)
	assert.Equal(t, types.ResultFailed, record.Result)
	assert.NotEmpty(t, record.Error)
	assert.Equal(t, types.WorkerPrime, c.CurrentOwner())
}

func TestCoordinator_CancelBeforeVerifyingHealthSucceeds(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	backend.StartDelay[types.WorkerStudy] = 2 * time.Second
	c := newTestCoordinator(t, backend, map[types.WorkerName]fakeHealthy{types.WorkerStudy: true})

	id, err := c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "test", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, _ := c.Status(id)
		return r.Phase == types.PhaseStartingTarget
	}, 1*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Cancel(id))

	record := mustCompleted(t, c, id)
	assert.Equal(t, types.PhaseCancelled, record.Phase)
	assert.Equal(t, types.ResultCancelled, record.Result)
}

func TestCoordinator_CancelDuringVerifyingHealthIsRefused(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	c := newTestCoordinator(t, backend, map[types.WorkerName]fakeHealthy{types.WorkerStudy: false})

	id, err := c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "test", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, _ := c.Status(id)
		return r.Phase == types.PhaseVerifyingHealth
	}, 1*time.Second, 5*time.Millisecond)

	err = c.Cancel(id)
	assert.ErrorIs(t, err, gaiaerr.ErrCancelRefused)

	mustCompleted(t, c, id)
}

func TestCoordinator_CancelOfUnknownIDFails(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	c := newTestCoordinator(t, backend, nil)

	err := c.Cancel("no-such-id")
	assert.ErrorIs(t, err, gaiaerr.ErrUnknownHandoff)
}

type terminalRecorder struct {
	records []types.HandoffRecord
}

func (r *terminalRecorder) OnHandoffTerminal(record types.HandoffRecord) {
	r.records = append(r.records, record)
}

func TestCoordinator_NotifiesListenerOnTerminal(t *testing.T) {
	backend := container.NewFakeBackend(map[types.WorkerName]string{
		types.WorkerPrime: "http://prime", types.WorkerStudy: "http://study",
	})
	c := newTestCoordinator(t, backend, map[types.WorkerName]fakeHealthy{types.WorkerStudy: true})

	recorder := &terminalRecorder{}
	c.OnTerminal(recorder)

	id, err := c.RequestHandoff(types.WorkerPrime, types.WorkerStudy, "test", 0)
	require.NoError(t, err)
	mustCompleted(t, c, id)

	require.Eventually(t, func() bool {
		return len(recorder.records) == 1
	}, 1*time.Second, 5*time.Millisecond)
	assert.Equal(t, id, recorder.records[0].ID)
}
