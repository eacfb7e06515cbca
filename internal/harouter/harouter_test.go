package harouter

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/ledger"
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

func TestTable_UnknownRoleRoutesEmpty(t *testing.T) {
	table, err := New(openTestLedger(t), "")
	require.NoError(t, err)
	assert.Equal(t, types.Endpoint(""), table.Route("core"))
}

func TestTable_TripsToFallbackAfterFailThreshold(t *testing.T) {
	table, err := New(openTestLedger(t), "")
	require.NoError(t, err)

	table.Observe("core", "http://primary", "http://fallback", false, 2, 3)
	assert.Equal(t, types.Endpoint("http://primary"), table.Route("core"))

	flipped := table.Observe("core", "http://primary", "http://fallback", false, 2, 3)
	assert.True(t, flipped)
	assert.Equal(t, types.Endpoint("http://fallback"), table.Route("core"))
}

func TestTable_RestoresToPrimaryAfterRecoverThreshold(t *testing.T) {
	table, err := New(openTestLedger(t), "")
	require.NoError(t, err)

	table.Observe("core", "http://primary", "http://fallback", false, 1, 3)
	table.Observe("core", "http://primary", "http://fallback", false, 1, 3)
	require.Equal(t, types.Endpoint("http://fallback"), table.Route("core"))

	table.Observe("core", "http://primary", "http://fallback", true, 1, 3)
	table.Observe("core", "http://primary", "http://fallback", true, 1, 3)
	require.Equal(t, types.Endpoint("http://fallback"), table.Route("core"), "must not restore before recover threshold")

	table.Observe("core", "http://primary", "http://fallback", true, 1, 3)
	assert.Equal(t, types.Endpoint("http://primary"), table.Route("core"))
}

func TestTable_MaintenanceFreezesRouteAtPrimary(t *testing.T) {
	flagPath := filepath.Join(t.TempDir(), "maintenance")
	table, err := New(openTestLedger(t), flagPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(flagPath, []byte("1"), 0o644))

	table.Observe("core", "http://primary", "http://fallback", false, 1, 3)
	table.Observe("core", "http://primary", "http://fallback", false, 1, 3)

	assert.Equal(t, types.Endpoint("http://primary"), table.Route("core"))
	entry, ok := table.Entry("core")
	require.True(t, ok)
	assert.Equal(t, 2, entry.ConsecutiveFailures, "streaks still tracked during maintenance")
}

func TestTable_LoadsPersistedEntriesFromLedger(t *testing.T) {
	led := openTestLedger(t)
	require.NoError(t, led.PutRouteEntry(&types.RouteEntry{Role: "mcp", Primary: "http://p", Route: "http://p"}))

	table, err := New(led, "")
	require.NoError(t, err)
	assert.Equal(t, types.Endpoint("http://p"), table.Route("mcp"))
}
