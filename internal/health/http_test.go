package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gaia-project/gaia-core/internal/types"
)

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker("primary", server.URL)
	snap := checker.Check(context.Background())

	assert.True(t, snap.OK)
	assert.Equal(t, http.StatusOK, snap.HTTPCode)
}

func TestHTTPChecker_ServerErrorIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewHTTPChecker("primary", server.URL)
	snap := checker.Check(context.Background())

	assert.False(t, snap.OK)
}

func TestHTTPChecker_OtherClientErrorIsSuccess(t *testing.T) {
	// Other 4xx responses count as successes (the endpoint is reachable).
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	checker := NewHTTPChecker("primary", server.URL)
	snap := checker.Check(context.Background())

	assert.True(t, snap.OK)
	assert.Equal(t, http.StatusNotFound, snap.HTTPCode)
}

func TestStatus_HysteresisRequiresThresholdCrossing(t *testing.T) {
	s := NewStatus()
	cfg := Config{FailThreshold: 2, RecoverThreshold: 3}

	s.Update(types.HealthSnapshot{OK: false}, cfg)
	assert.True(t, s.Healthy, "a single failure must not trip unhealthy")

	s.Update(types.HealthSnapshot{OK: false}, cfg)
	assert.False(t, s.Healthy, "two consecutive failures must trip unhealthy")

	s.Update(types.HealthSnapshot{OK: true}, cfg)
	assert.False(t, s.Healthy, "a single success must not restore health")

	s.Update(types.HealthSnapshot{OK: true}, cfg)
	s.Update(types.HealthSnapshot{OK: true}, cfg)
	assert.True(t, s.Healthy, "three consecutive successes must restore health")
}
