package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netforge-io/changerd/internal/executor"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/profile"
)

type hardeningRequest struct {
	DryRun       bool   `json:"dry_run"`
	Profile      string `json:"profile"`
	SiteProfile  string `json:"site_profile"`
	AutoRollback *bool  `json:"auto_rollback"`
	ChangeTicket string `json:"change_ticket"`
}

type hardeningResponse struct {
	Success          bool     `json:"success"`
	DryRun           bool     `json:"dry_run"`
	Profile          string   `json:"profile"`
	SiteProfile      string   `json:"site_profile,omitempty"`
	ChangeID         string   `json:"change_id,omitempty"`
	Message          string   `json:"message,omitempty"`
	Commands         []string `json:"commands,omitempty"`
	RollbackCommands []string `json:"rollback_commands,omitempty"`
	Result           string   `json:"result,omitempty"`
	RollbackResult   string   `json:"rollback_result,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// applyHardening handles POST /mikrotik/routers/{id}/enterprise/hardening
func (h *Handler) applyHardening(w http.ResponseWriter, r *http.Request) {
	var req hardeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Profile == "" && req.SiteProfile == "" {
		h.writeError(w, http.StatusBadRequest, "profile or site_profile required")
		return
	}

	onFailure := model.AutoRollback
	if req.AutoRollback != nil && !*req.AutoRollback {
		onFailure = model.ReportOnly
	}

	rec, err := h.exec.Apply(r.Context(), executor.ApplyRequest{
		DeviceID:      r.PathValue("id"),
		RouterProfile: req.Profile,
		SiteProfile:   req.SiteProfile,
		Actor:         actor(r),
		ChangeTicket:  req.ChangeTicket,
		DryRun:        req.DryRun,
		OnFailure:     onFailure,
	})
	if err != nil && rec == nil {
		h.writeEngineError(w, err)
		return
	}

	resp := hardeningResponse{
		DryRun:      req.DryRun,
		Profile:     req.Profile,
		SiteProfile: req.SiteProfile,
		ChangeID:    rec.ChangeID,
		Result:      string(rec.Status),
	}
	if rec.ResultDetail != nil {
		resp.Message = rec.ResultDetail.Message
		resp.Error = rec.ResultDetail.Error
	}

	switch rec.Status {
	case model.StatusDryRun:
		resp.Success = true
		resp.Commands = rec.Commands
		resp.RollbackCommands = rec.RollbackCommands
	case model.StatusApplied:
		resp.Success = true
		resp.Commands = rec.Commands
		resp.RollbackCommands = rec.RollbackCommands
	case model.StatusRolledBack, model.StatusRollbackFailed:
		// A live failure that went through the automatic unwind path.
		resp.RollbackResult = string(rec.Status)
	}

	status := http.StatusOK
	if err != nil {
		// Compilation failed; the attempt is audited but nothing ran.
		status = http.StatusUnprocessableEntity
		if errors.Is(err, profile.ErrProfileNotFound) {
			status = http.StatusNotFound
		}
		resp.Error = err.Error()
	}
	h.writeJSON(w, status, resp)
}

type rollbackRequest struct {
	ChangeTicket string `json:"change_ticket"`
}

// rollbackChange handles POST /mikrotik/routers/{id}/enterprise/rollback/{change_id}
func (h *Handler) rollbackChange(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	changeID := r.PathValue("change_id")
	existing, err := h.store.Get(changeID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if existing.DeviceID != r.PathValue("id") {
		// The change exists but belongs to another router; don't leak it.
		h.writeError(w, http.StatusNotFound, "change record not found for this device")
		return
	}

	rec, err := h.exec.Rollback(r.Context(), changeID, actor(r), req.ChangeTicket)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := map[string]any{
		"success":   rec.Status == model.StatusRolledBack,
		"change_id": rec.ChangeID,
		"result":    string(rec.Status),
	}
	if rec.ResultDetail != nil && rec.ResultDetail.Error != "" {
		resp["error"] = rec.ResultDetail.Error
	}
	h.writeJSON(w, http.StatusOK, resp)
}
