package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/accel-dispatch/internal/dispatch"
)

func TestHealthCheck(t *testing.T) {
	h := &handlers{}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.healthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestListWorkers_EmptyDispatcher(t *testing.T) {
	dispatcher, err := dispatch.New("noop", []int{0, 1}, 4)
	require.NoError(t, err)

	h := &handlers{dispatcher: dispatcher}

	req := httptest.NewRequest(http.MethodGet, "/workers", nil)
	w := httptest.NewRecorder()
	h.listWorkers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "workers")
	assert.Contains(t, body, "task_queue_depth")
	assert.Contains(t, body, "result_queue_depth")
}

func TestListWorkers_InvalidDeviceID(t *testing.T) {
	dispatcher, err := dispatch.New("noop", []int{0, 1}, 4)
	require.NoError(t, err)

	h := &handlers{dispatcher: dispatcher}

	req := httptest.NewRequest(http.MethodGet, "/workers?device_id=not-a-number", nil)
	w := httptest.NewRecorder()
	h.listWorkers(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListWorkers_UnknownDeviceID(t *testing.T) {
	dispatcher, err := dispatch.New("noop", []int{0, 1}, 4)
	require.NoError(t, err)

	h := &handlers{dispatcher: dispatcher}

	req := httptest.NewRequest(http.MethodGet, "/workers?device_id=0", nil)
	w := httptest.NewRecorder()
	h.listWorkers(w, req)

	// Stats() only reports a device once its descriptor exists, which
	// happens when Run spawns it; a freshly constructed Dispatcher has none.
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "bad input")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Bad Request", body["error"])
	assert.Equal(t, "bad input", body["message"])
}
