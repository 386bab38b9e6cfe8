package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/logger"
)

// handlers serves the introspection endpoints. It holds no state of its
// own beyond a reference to the Dispatcher it reports on, matching the
// teacher's thin AdminHandler wrapping queue/dlq.
type handlers struct {
	dispatcher *dispatch.Dispatcher
}

// healthCheck handles GET /healthz.
func (h *handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

// listWorkers handles GET /workers. An optional ?device_id= query parameter
// narrows the response to a single worker, mirroring the teacher's
// GetWorker(workerID) lookup.
func (h *handlers) listWorkers(w http.ResponseWriter, r *http.Request) {
	stats := h.dispatcher.Stats()

	raw := r.URL.Query().Get("device_id")
	if raw == "" {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"workers":            stats.Workers,
			"task_queue_depth":   stats.TaskQueueDepth,
			"result_queue_depth": stats.ResultQueueDepth,
		})
		return
	}

	deviceID, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "device_id must be an integer")
		return
	}

	for _, worker := range stats.Workers {
		if worker.DeviceID == deviceID {
			respondJSON(w, http.StatusOK, worker)
			return
		}
	}
	respondError(w, http.StatusNotFound, "no worker with that device_id")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("admin: failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
