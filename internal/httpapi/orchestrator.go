package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/handoff"
	"github.com/gaia-project/gaia-core/internal/types"
	"github.com/gaia-project/gaia-core/internal/watchdog"
)

// OrchestratorDeps wires the orchestrator's own HTTP surface to the
// GPUHandoffCoordinator and HealthWatchdog.
type OrchestratorDeps struct {
	Handoff   *handoff.Coordinator
	Watchdog  *watchdog.Watchdog
	GPUPool   types.WorkerName // the worker /gpu/release hands the device back to
}

// NewOrchestratorRouter builds the mux.Router serving the orchestrator's
// endpoints.
func NewOrchestratorRouter(deps OrchestratorDeps) *mux.Router {
	r := mux.NewRouter()
	h := &orchestratorHandler{deps: deps}

	r.HandleFunc("/gpu/status", h.gpuStatus).Methods(http.MethodGet)
	r.HandleFunc("/handoff/{direction}", h.requestHandoff).Methods(http.MethodPost)
	r.HandleFunc("/handoff/{id}/status", h.handoffStatus).Methods(http.MethodGet)
	r.HandleFunc("/gpu/release", h.gpuRelease).Methods(http.MethodPost)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	return r
}

type orchestratorHandler struct {
	deps OrchestratorDeps
}

type gpuStatusResponse struct {
	Owner string `json:"owner"`
}

func (h *orchestratorHandler) gpuStatus(w http.ResponseWriter, r *http.Request) {
	owner := h.deps.Handoff.CurrentOwner()
	if owner == "" {
		writeJSON(w, http.StatusOK, gpuStatusResponse{Owner: "none"})
		return
	}
	writeJSON(w, http.StatusOK, gpuStatusResponse{Owner: string(owner)})
}

type requestHandoffBody struct {
	Reason         string `json:"reason"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type requestHandoffResponse struct {
	HandoffID string `json:"handoff_id"`
}

// requestHandoff implements POST /handoff/{prime-to-study|study-to-prime}.
func (h *orchestratorHandler) requestHandoff(w http.ResponseWriter, r *http.Request) {
	direction := mux.Vars(r)["direction"]
	var from, to types.WorkerName
	switch direction {
	case "prime-to-study":
		from, to = types.WorkerPrime, types.WorkerStudy
	case "study-to-prime":
		from, to = types.WorkerStudy, types.WorkerPrime
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "direction must be prime-to-study or study-to-prime"})
		return
	}

	var body requestHandoffBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
			return
		}
	}

	var deadline time.Duration
	if body.TimeoutSeconds > 0 {
		deadline = time.Duration(body.TimeoutSeconds) * time.Second
	}

	id, err := h.deps.Handoff.RequestHandoff(from, to, body.Reason, deadline)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestHandoffResponse{HandoffID: id})
}

func (h *orchestratorHandler) handoffStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := h.deps.Handoff.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type gpuReleaseResponse struct {
	OK bool `json:"ok"`
}

// gpuRelease implements POST /gpu/release: the candidate currently
// holding the device requests a handoff back to the configured pool
// worker. A release while the pool worker already owns the device is a
// no-op success.
func (h *orchestratorHandler) gpuRelease(w http.ResponseWriter, r *http.Request) {
	current := h.deps.Handoff.CurrentOwner()
	if current == "" || current == h.deps.GPUPool {
		writeJSON(w, http.StatusOK, gpuReleaseResponse{OK: true})
		return
	}

	_, err := h.deps.Handoff.RequestHandoff(current, h.deps.GPUPool, "candidate release", 0)
	if err != nil && !errors.Is(err, gaiaerr.ErrBusy) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gpuReleaseResponse{OK: true})
}

type healthWatchdogStatus struct {
	HAStatus string `json:"ha_status"`
}

type statusResponseOrchestrator struct {
	HealthWatchdog healthWatchdogStatus `json:"health_watchdog"`
}

func (h *orchestratorHandler) status(w http.ResponseWriter, r *http.Request) {
	status := "active"
	if h.deps.Watchdog != nil {
		status = h.deps.Watchdog.HAStatus()
	}
	writeJSON(w, http.StatusOK, statusResponseOrchestrator{
		HealthWatchdog: healthWatchdogStatus{HAStatus: status},
	})
}
