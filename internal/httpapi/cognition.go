package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gaia-project/gaia-core/internal/sleepwake"
	"github.com/gaia-project/gaia-core/internal/types"
)

// CognitionDeps wires the cognition service's own HTTP surface to its
// SleepWakeManager and checkpoint collaborators.
type CognitionDeps struct {
	Manager     *sleepwake.Manager
	Producer    sleepwake.CheckpointProducer
	WriteCheckpoint func() (int, error) // produces + writes one checkpoint, returns bytes written
	Ready       func() bool            // nil means always ready
}

// NewCognitionRouter builds the mux.Router serving one cognitive
// service's endpoints.
func NewCognitionRouter(deps CognitionDeps) *mux.Router {
	r := mux.NewRouter()
	h := &cognitionHandler{deps: deps}

	r.HandleFunc("/cognition/checkpoint", h.forceCheckpoint).Methods(http.MethodPost)
	r.HandleFunc("/sleep/wake", h.wake).Methods(http.MethodPost)
	r.HandleFunc("/sleep/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/sleep/study-handoff", h.studyHandoff).Methods(http.MethodPost)
	r.HandleFunc("/sleep/canned-check", h.cannedCheck).Methods(http.MethodGet)
	r.HandleFunc("/sleep/shutdown", h.shutdown).Methods(http.MethodPost)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	return r
}

type cognitionHandler struct {
	deps CognitionDeps
}

type checkpointResponse struct {
	OK           bool `json:"ok"`
	BytesWritten int  `json:"bytes_written"`
}

func (h *cognitionHandler) forceCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.deps.WriteCheckpoint == nil {
		writeJSON(w, http.StatusServiceUnavailable, checkpointResponse{OK: false})
		return
	}
	n, err := h.deps.WriteCheckpoint()
	if err != nil {
		writeJSON(w, http.StatusOK, checkpointResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusOK, checkpointResponse{OK: true, BytesWritten: n})
}

type wakeResponse struct {
	State     types.GaiaState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

func (h *cognitionHandler) wake(w http.ResponseWriter, r *http.Request) {
	h.deps.Manager.WakeSignal()
	state, _ := h.deps.Manager.State()
	writeJSON(w, http.StatusOK, wakeResponse{State: state, Timestamp: time.Now()})
}

type statusResponse struct {
	State          types.GaiaState `json:"state"`
	WakePending    bool            `json:"wake_pending"`
	CurrentTask    string          `json:"current_task,omitempty"`
	LastChangeAt   time.Time       `json:"last_change_at"`
	SecondsInState float64         `json:"seconds_in_state"`
}

func (h *cognitionHandler) status(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Manager.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:          snap.State,
		WakePending:    snap.WakePending,
		CurrentTask:    snap.CurrentTask,
		LastChangeAt:   snap.LastChangeAt,
		SecondsInState: snap.SecondsInState,
	})
}

type studyHandoffRequest struct {
	Direction string `json:"direction"`
	HandoffID string `json:"handoff_id"`
}

type studyHandoffResponse struct {
	State types.GaiaState `json:"state"`
}

// studyHandoff notifies the SleepWakeManager of a GPU handoff's terminal
// completion, standing in for the in-process OwnerChangeListener
// callback when the orchestrator and the cognitive service run as
// separate processes.
func (h *cognitionHandler) studyHandoff(w http.ResponseWriter, r *http.Request) {
	var req studyHandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	var from, to types.WorkerName
	switch req.Direction {
	case "to_study":
		from, to = types.WorkerPrime, types.WorkerStudy
	case "to_prime":
		from, to = types.WorkerStudy, types.WorkerPrime
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "direction must be to_study or to_prime"})
		return
	}

	if err := h.deps.Manager.HandoffTerminal(types.HandoffRecord{
		ID:     req.HandoffID,
		From:   from,
		To:     to,
		Phase:  types.PhaseCompleted,
		Result: types.ResultCompleted,
	}); err != nil {
		writeError(w, err)
		return
	}

	state, _ := h.deps.Manager.State()
	writeJSON(w, http.StatusOK, studyHandoffResponse{State: state})
}

type cannedCheckResponse struct {
	State          types.GaiaState `json:"state"`
	CannedResponse *string         `json:"canned_response"`
}

func (h *cognitionHandler) cannedCheck(w http.ResponseWriter, r *http.Request) {
	state, _ := h.deps.Manager.State()
	resp := cannedCheckResponse{State: state}
	if text, ok := h.deps.Manager.CannedResponse(); ok {
		resp.CannedResponse = &text
	}
	writeJSON(w, http.StatusOK, resp)
}

type shutdownResponse struct {
	State types.GaiaState `json:"state"`
}

func (h *cognitionHandler) shutdown(w http.ResponseWriter, r *http.Request) {
	h.deps.Manager.Shutdown()
	writeJSON(w, http.StatusOK, shutdownResponse{State: types.StateOffline})
}

func (h *cognitionHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil && !h.deps.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
