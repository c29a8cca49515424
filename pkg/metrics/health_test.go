package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth() {
	global = &checker{
		components: make(map[string]componentState),
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("log", true, "running")

	global.mu.RLock()
	comp := global.components["log"]
	global.mu.RUnlock()

	assert.True(t, comp.healthy)
	assert.Equal(t, "running", comp.message)
}

func TestRegisterComponent_OverwritesPreviousState(t *testing.T) {
	resetHealth()
	RegisterComponent("log", true, "")
	RegisterComponent("log", false, "disk full")

	global.mu.RLock()
	comp := global.components["log"]
	global.mu.RUnlock()
	assert.False(t, comp.healthy)
	assert.Equal(t, "disk full", comp.message)
}

func TestHealth_AllHealthy(t *testing.T) {
	resetHealth()
	SetVersion("1.0.0")
	RegisterComponent("transport", true, "")
	RegisterComponent("log", true, "")

	h := Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Len(t, h.Components, 2)
	assert.Equal(t, "1.0.0", h.Version)
}

func TestHealth_OneUnhealthy(t *testing.T) {
	resetHealth()
	RegisterComponent("transport", true, "")
	RegisterComponent("log", false, "not connected")

	h := Health()
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "unhealthy: not connected", h.Components["log"])
}

func TestReadiness_AllReady(t *testing.T) {
	resetHealth()
	RegisterComponent("log", true, "")
	RegisterComponent("fsm", true, "")
	RegisterComponent("transport", true, "")

	r := Readiness()
	assert.Equal(t, "ready", r.Status)
}

func TestReadiness_MissingRequiredComponent(t *testing.T) {
	resetHealth()
	RegisterComponent("fsm", true, "")
	// log and transport never registered

	r := Readiness()
	assert.Equal(t, "not_ready", r.Status)
	assert.NotEmpty(t, r.Message)
}

func TestReadiness_RequiredComponentUnhealthy(t *testing.T) {
	resetHealth()
	RegisterComponent("log", false, "segment unavailable")
	RegisterComponent("fsm", true, "")
	RegisterComponent("transport", true, "")

	r := Readiness()
	assert.Equal(t, "not_ready", r.Status)
}

func TestReadiness_LeadershipIsNotRequired(t *testing.T) {
	resetHealth()
	RegisterComponent("log", true, "")
	RegisterComponent("fsm", true, "")
	RegisterComponent("transport", true, "")
	// no "leader" component registered at all; a follower is still ready

	r := Readiness()
	assert.Equal(t, "ready", r.Status)
}

func TestHealthHandler(t *testing.T) {
	resetHealth()
	SetVersion("test")
	RegisterComponent("log", true, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var h Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth()
	RegisterComponent("log", false, "broken")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyHandler(t *testing.T) {
	resetHealth()
	RegisterComponent("log", true, "")
	RegisterComponent("fsm", true, "")
	RegisterComponent("transport", true, "")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealth()
	RegisterComponent("fsm", true, "")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth()

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()
	LivenessHandler()(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}
