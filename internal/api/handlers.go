// Package api exposes the change-control engine over HTTP. Routes mirror the
// paths the management dashboard calls, so the engine can sit directly behind
// it without a translation layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/netforge-io/changerd/internal/bootstrap"
	"github.com/netforge-io/changerd/internal/compiler"
	"github.com/netforge-io/changerd/internal/executor"
	"github.com/netforge-io/changerd/internal/inventory"
	"github.com/netforge-io/changerd/internal/lock"
	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/probe"
	"github.com/netforge-io/changerd/internal/profile"
	"github.com/netforge-io/changerd/internal/storage"
)

// Handler handles HTTP requests
type Handler struct {
	exec    *executor.Executor
	prober  *probe.Prober
	boot    *bootstrap.Runner
	store   storage.ChangeLog
	catalog *profile.Catalog
	inv     *inventory.Inventory
}

// NewHandler creates a new API handler
func NewHandler(exec *executor.Executor, prober *probe.Prober, boot *bootstrap.Runner, store storage.ChangeLog, catalog *profile.Catalog, inv *inventory.Inventory) *Handler {
	return &Handler{exec: exec, prober: prober, boot: boot, store: store, catalog: catalog, inv: inv}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.health)

	// Hardening
	mux.HandleFunc("GET /mikrotik/routers/{id}/enterprise/hardening/profiles", h.listProfiles)
	mux.HandleFunc("POST /mikrotik/routers/{id}/enterprise/hardening", h.applyHardening)

	// Rollback and locks
	mux.HandleFunc("POST /mikrotik/routers/{id}/enterprise/rollback/{change_id}", h.rollbackChange)
	mux.HandleFunc("GET /mikrotik/routers/{id}/enterprise/lock", h.lockStatus)
	mux.HandleFunc("POST /mikrotik/routers/{id}/enterprise/force-unlock", h.forceUnlock)

	// Change log
	mux.HandleFunc("GET /mikrotik/routers/{id}/enterprise/change-log", h.listChanges)
	mux.HandleFunc("GET /mikrotik/routers/{id}/enterprise/change-log/{change_id}", h.getChange)

	// Failover diagnostics
	mux.HandleFunc("POST /mikrotik/routers/{id}/enterprise/failover-test", h.failoverTest)

	// Back-To-Home bootstrap
	mux.HandleFunc("POST /mikrotik/routers/{id}/back-to-home/bootstrap", h.runBootstrap)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

// listProfiles handles GET /mikrotik/routers/{id}/enterprise/hardening/profiles
func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	if _, err := h.inv.Get(r.PathValue("id")); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"profiles": map[string]any{
			"router_profiles": h.catalog.RouterProfiles(),
			"site_profiles":   h.catalog.SiteProfiles(),
		},
	})
}

// listChanges handles GET /mikrotik/routers/{id}/enterprise/change-log
func (h *Handler) listChanges(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if _, err := h.inv.Get(deviceID); err != nil {
		h.writeEngineError(w, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	changes, err := h.store.List(model.ChangeFilter{DeviceID: deviceID, Limit: limit})
	if err != nil {
		h.internalError(w, err)
		return
	}
	if changes == nil {
		changes = []*model.ChangeRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "changes": changes})
}

// getChange handles GET /mikrotik/routers/{id}/enterprise/change-log/{change_id}
func (h *Handler) getChange(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.PathValue("change_id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if rec.DeviceID != r.PathValue("id") {
		h.writeError(w, http.StatusNotFound, "change record not found for this device")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "change": rec})
}

// lockStatus handles GET /mikrotik/routers/{id}/enterprise/lock
func (h *Handler) lockStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if _, err := h.inv.Get(deviceID); err != nil {
		h.writeEngineError(w, err)
		return
	}

	info, locked := h.exec.LockInfo(deviceID)
	resp := map[string]any{"success": true, "locked": locked}
	if locked {
		resp["lock"] = info
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// forceUnlock handles POST /mikrotik/routers/{id}/enterprise/force-unlock
func (h *Handler) forceUnlock(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if _, err := h.inv.Get(deviceID); err != nil {
		h.writeEngineError(w, err)
		return
	}

	released := h.exec.ForceUnlock(deviceID)
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "released": released})
}

// actor resolves the acting operator from the dashboard-forwarded header.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// writeEngineError maps engine sentinel errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inventory.ErrDeviceNotFound),
		errors.Is(err, storage.ErrChangeNotFound),
		errors.Is(err, profile.ErrProfileNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, compiler.ErrIncompatibleProfiles):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, executor.ErrTicketRequired):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lock.ErrDeviceBusy), errors.Is(err, executor.ErrNotRollbackable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrLiveDisabled):
		h.writeError(w, http.StatusNotImplemented, err.Error())
	default:
		h.internalError(w, err)
	}
}
