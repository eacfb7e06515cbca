package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/sleepwake"
	"github.com/gaia-project/gaia-core/internal/types"
)

type fakeResponder struct{}

func (fakeResponder) Respond(ctx context.Context, reviewContext string, msg types.QueuedMessage) error {
	return nil
}

func newTestManager(t *testing.T) *sleepwake.Manager {
	t.Helper()
	return sleepwake.New(sleepwake.Config{
		Service:       "cognition",
		PrimaryWorker: types.WorkerPrime,
		Responder:     fakeResponder{},
	})
}

// newAsleepTestManager builds a manager with a zero idle threshold and
// drives it to ASLEEP via one synchronous Tick, the only exported path
// into that state.
func newAsleepTestManager(t *testing.T) *sleepwake.Manager {
	t.Helper()
	m := sleepwake.New(sleepwake.Config{
		Service:       "cognition",
		PrimaryWorker: types.WorkerPrime,
		Responder:     fakeResponder{},
		Sleep:         config.SleepConfig{IdleThreshold: 0},
	})
	m.Tick()
	require.Eventually(t, func() bool {
		state, _ := m.State()
		return state == types.StateAsleep
	}, 2*time.Second, 5*time.Millisecond)
	return m
}

func TestCognition_ForceCheckpointReportsBytesWritten(t *testing.T) {
	deps := CognitionDeps{
		Manager: newTestManager(t),
		WriteCheckpoint: func() (int, error) { return 42, nil },
	}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/cognition/checkpoint", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp checkpointResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.OK)
	require.Equal(t, 42, resp.BytesWritten)
}

func TestCognition_WakeReturnsCurrentState(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/sleep/wake", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp wakeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, types.StateActive, resp.State)
}

func TestCognition_StatusReportsSnapshot(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/sleep/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, types.StateActive, resp.State)
	require.False(t, resp.WakePending)
}

func TestCognition_StudyHandoffToStudyEntersDreaming(t *testing.T) {
	deps := CognitionDeps{Manager: newAsleepTestManager(t)}
	r := NewCognitionRouter(deps)

	body, err := json.Marshal(studyHandoffRequest{Direction: "to_study", HandoffID: "h1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/sleep/study-handoff", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp studyHandoffResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, types.StateDreaming, resp.State)
}

func TestCognition_StudyHandoffRejectsUnknownDirection(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	body, err := json.Marshal(studyHandoffRequest{Direction: "sideways", HandoffID: "h1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/sleep/study-handoff", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCognition_StudyHandoffRejectsToStudyWhenNotAsleep(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	body, err := json.Marshal(studyHandoffRequest{Direction: "to_study", HandoffID: "h1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/sleep/study-handoff", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCognition_CannedCheckNullOutsideDreamingOrDistracted(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/sleep/canned-check", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp cannedCheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, types.StateActive, resp.State)
	require.Nil(t, resp.CannedResponse)
}

func TestCognition_CannedCheckReturnsTextWhileDreaming(t *testing.T) {
	mgr := newAsleepTestManager(t)
	mgr.OnHandoffTerminal(types.HandoffRecord{
		From: types.WorkerPrime, To: types.WorkerStudy,
		Phase: types.PhaseCompleted, Result: types.ResultCompleted,
	})
	deps := CognitionDeps{Manager: mgr}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/sleep/canned-check", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp cannedCheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, types.StateDreaming, resp.State)
	require.NotNil(t, resp.CannedResponse)
}

func TestCognition_ShutdownReachesOffline(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/sleep/shutdown", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp shutdownResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, types.StateOffline, resp.State)
}

func TestCognition_HealthReportsServiceUnavailableWhenNotReady(t *testing.T) {
	deps := CognitionDeps{
		Manager: newTestManager(t),
		Ready:   func() bool { return false },
	}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCognition_HealthReportsOKByDefault(t *testing.T) {
	deps := CognitionDeps{Manager: newTestManager(t)}
	r := NewCognitionRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
