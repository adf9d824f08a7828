package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netforge-io/changerd/internal/executor"
	"github.com/netforge-io/changerd/internal/lock"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/probe"
)

type failoverRequest struct {
	Targets []string `json:"targets"`
	Count   int      `json:"count"`
	// Accepted for dashboard compatibility; failover tests mutate nothing,
	// so no ticket is required.
	ChangeTicket string `json:"change_ticket"`
}

// failoverTest handles POST /mikrotik/routers/{id}/enterprise/failover-test
func (h *Handler) failoverTest(w http.ResponseWriter, r *http.Request) {
	var req failoverRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	report, err := h.prober.Run(r.Context(), probe.Request{
		DeviceID: r.PathValue("id"),
		Targets:  req.Targets,
		Count:    req.Count,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": report})
}

// runBootstrap handles POST /mikrotik/routers/{id}/back-to-home/bootstrap
func (h *Handler) runBootstrap(w http.ResponseWriter, r *http.Request) {
	var req model.BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deviceID := r.PathValue("id")
	if _, err := h.inv.Get(deviceID); err != nil {
		h.writeEngineError(w, err)
		return
	}

	report, err := h.boot.Run(r.Context(), deviceID, actor(r), req)
	if err != nil {
		if errors.Is(err, executor.ErrTicketRequired) || errors.Is(err, lock.ErrDeviceBusy) ||
			errors.Is(err, executor.ErrLiveDisabled) {
			h.writeEngineError(w, err)
			return
		}
		// The report carries the step that failed; surface both.
		h.writeJSON(w, http.StatusOK, map[string]any{
			"success":   false,
			"bootstrap": report,
			"error":     err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   len(report.Missing) == 0,
		"bootstrap": report,
	})
}
