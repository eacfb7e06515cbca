package ledger

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
)

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store := storage.NewMemStore()
	l, err := Open(Config{
		NodeID:   "test-node",
		BindAddr: freeLoopbackAddr(t),
		DataDir:  t.TempDir(),
	}, store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Shutdown() })

	require.Eventually(t, func() bool {
		return l.raft.Leader() != ""
	}, 5*time.Second, 10*time.Millisecond, "single-node cluster must self-elect leader")

	return l
}

func TestLedger_PutHandoffRecordIsImmediatelyObservable(t *testing.T) {
	l := openTestLedger(t)

	record := &types.HandoffRecord{
		ID:    "h1",
		From:  types.WorkerPrime,
		To:    types.WorkerStudy,
		Phase: types.PhaseRequested,
	}
	require.NoError(t, l.PutHandoffRecord(record))

	got, err := l.GetHandoffRecord("h1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseRequested, got.Phase)

	record.Phase = types.PhaseCompleted
	require.NoError(t, l.PutHandoffRecord(record))

	got, err = l.GetHandoffRecord("h1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, got.Phase)
}

func TestLedger_DeviceOwnerRoundTrips(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.PutDeviceOwner("gpu0", types.WorkerStudy))

	owner, err := l.GetDeviceOwner("gpu0")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStudy, owner)
}

func TestLedger_WorkerRoundTrips(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.PutWorker(&types.Worker{Name: types.WorkerPrime, DesiredRunning: true}))

	w, err := l.GetWorker(types.WorkerPrime)
	require.NoError(t, err)
	assert.True(t, w.DesiredRunning)
}

func TestLedger_RouteEntryRoundTrips(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.PutRouteEntry(&types.RouteEntry{Role: "core", Primary: "http://live"}))
	entries, err := l.ListRouteEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.Endpoint("http://live"), entries[0].Primary)
}
