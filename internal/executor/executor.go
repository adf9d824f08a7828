// Package executor drives change records through their lifecycle: compile,
// gate, lock, execute and unwind. It owns the only code path that touches
// live devices.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/netforge-io/changerd/internal/compiler"
	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/inventory"
	"github.com/netforge-io/changerd/internal/lock"
	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/storage"
)

// ErrLiveDisabled is returned for live operations when no device transport
// is registered in this build.
var ErrLiveDisabled = errors.New("live execution is not available in this build")

// Options wires an Executor. Dialer may be nil, which restricts the engine
// to dry runs.
type Options struct {
	Log            storage.ChangeLog
	Locks          *lock.Manager
	Inventory      *inventory.Inventory
	Compiler       *compiler.Compiler
	Dialer         gateway.Dialer
	RequireTicket  bool
	CommandTimeout time.Duration
	DialTimeout    time.Duration
}

// Executor applies compiled plans to devices and records every attempt.
type Executor struct {
	store       storage.ChangeLog
	locks       *lock.Manager
	inv         *inventory.Inventory
	comp        *compiler.Compiler
	dialer      gateway.Dialer
	gate        TicketGate
	cmdTimeout  time.Duration
	dialTimeout time.Duration

	// newID is swappable for tests.
	newID func() string
}

func New(opts Options) *Executor {
	cmdTimeout := opts.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = 15 * time.Second
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Executor{
		store:       opts.Log,
		locks:       opts.Locks,
		inv:         opts.Inventory,
		comp:        opts.Compiler,
		dialer:      opts.Dialer,
		gate:        TicketGate{Required: opts.RequireTicket},
		cmdTimeout:  cmdTimeout,
		dialTimeout: dialTimeout,
		newID:       newChangeID,
	}
}

func newChangeID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

// ApplyRequest describes one profile application.
type ApplyRequest struct {
	DeviceID      string
	RouterProfile string
	SiteProfile   string
	Actor         string
	ChangeTicket  string
	DryRun        bool
	OnFailure     model.FailureAction
}

// Apply compiles the selected profiles for a device and either previews the
// plan (dry run) or executes it live. Every attempt past the lock gate
// leaves a change record, including failed compilations.
func (e *Executor) Apply(ctx context.Context, req ApplyRequest) (*model.ChangeRecord, error) {
	dev, err := e.inv.Get(req.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := e.gate.Authorize(req.ChangeTicket, !req.DryRun); err != nil {
		return nil, err
	}
	if !req.DryRun && e.dialer == nil {
		return nil, ErrLiveDisabled
	}

	onFailure := req.OnFailure
	if onFailure == "" {
		onFailure = model.AutoRollback
	}
	if onFailure != model.AutoRollback && onFailure != model.ReportOnly {
		return nil, fmt.Errorf("invalid on_failure value %q", onFailure)
	}

	changeID := e.newID()
	if err := e.locks.Acquire(dev.ID, changeID, req.Actor); err != nil {
		return nil, err
	}

	rec := &model.ChangeRecord{
		ChangeID:      changeID,
		DeviceID:      dev.ID,
		TenantID:      dev.TenantID,
		Category:      "hardening",
		RouterProfile: req.RouterProfile,
		SiteProfile:   req.SiteProfile,
		Actor:         req.Actor,
		ChangeTicket:  req.ChangeTicket,
		Status:        model.StatusPlanned,
		CreatedAt:     time.Now().UTC(),
	}

	plan, err := e.comp.Compile(req.RouterProfile, req.SiteProfile, dev)
	if err != nil {
		// Failed compilations are audited too, with an empty plan.
		rec.Status = model.StatusFailed
		rec.Commands = []string{}
		rec.RollbackCommands = []string{}
		rec.ResultDetail = &model.ResultDetail{Error: err.Error()}
		if storeErr := e.store.Append(rec); storeErr != nil {
			log.Error("Failed to record compilation failure", "change_id", changeID, "error", storeErr)
		}
		e.locks.Release(dev.ID, changeID)
		return rec, err
	}

	return e.run(ctx, rec, dev, plan.Pairs, req.DryRun, onFailure)
}

// CommandRequest applies a pre-built command plan outside the profile
// catalog. The bootstrap flow uses it.
type CommandRequest struct {
	DeviceID     string
	Category     string
	Actor        string
	ChangeTicket string
	DryRun       bool
	Pairs        []model.CommandPair
	OnFailure    model.FailureAction
}

// ApplyCommands executes an explicit command plan under the same locking,
// gating and audit rules as Apply.
func (e *Executor) ApplyCommands(ctx context.Context, req CommandRequest) (*model.ChangeRecord, error) {
	dev, err := e.inv.Get(req.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := e.gate.Authorize(req.ChangeTicket, !req.DryRun); err != nil {
		return nil, err
	}
	if !req.DryRun && e.dialer == nil {
		return nil, ErrLiveDisabled
	}
	if len(req.Pairs) == 0 {
		return nil, errors.New("empty command plan")
	}

	onFailure := req.OnFailure
	if onFailure == "" {
		onFailure = model.AutoRollback
	}

	changeID := e.newID()
	if err := e.locks.Acquire(dev.ID, changeID, req.Actor); err != nil {
		return nil, err
	}

	category := req.Category
	if category == "" {
		category = "manual"
	}
	rec := &model.ChangeRecord{
		ChangeID:     changeID,
		DeviceID:     dev.ID,
		TenantID:     dev.TenantID,
		Category:     category,
		Actor:        req.Actor,
		ChangeTicket: req.ChangeTicket,
		Status:       model.StatusPlanned,
		CreatedAt:    time.Now().UTC(),
	}

	return e.run(ctx, rec, dev, req.Pairs, req.DryRun, onFailure)
}

// run owns the record from Append onward. It always leaves the record in a
// terminal status and decides whether the device lock is released or held.
func (e *Executor) run(ctx context.Context, rec *model.ChangeRecord, dev model.Device, pairs []model.CommandPair, dryRun bool, onFailure model.FailureAction) (*model.ChangeRecord, error) {
	// The record stores the audit form of each command; pairs carrying a
	// secret keep it out of the change log.
	rec.Commands = make([]string, len(pairs))
	rec.RollbackCommands = make([]string, len(pairs))
	for i, p := range pairs {
		rec.Commands[i] = p.Audit()
		rec.RollbackCommands[i] = p.Rollback
	}

	if err := e.store.Append(rec); err != nil {
		e.locks.Release(dev.ID, rec.ChangeID)
		return nil, fmt.Errorf("recording change: %w", err)
	}

	if dryRun {
		detail := &model.ResultDetail{
			Message:   fmt.Sprintf("dry run: %d commands would be executed", len(rec.Commands)),
			Predicted: rec.Commands,
		}
		e.finish(rec, model.StatusDryRun, detail)
		e.locks.Release(dev.ID, rec.ChangeID)
		log.Info("Dry run compiled", "change_id", rec.ChangeID, "device_id", dev.ID, "commands", len(rec.Commands))
		return rec, nil
	}

	e.finish(rec, model.StatusApplying, nil)

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	sess, err := e.dialer.Dial(dialCtx, dev)
	cancel()
	if err != nil {
		// Nothing executed yet, so the device is untouched.
		detail := &model.ResultDetail{Error: fmt.Sprintf("session failed: %v", err)}
		e.finish(rec, model.StatusFailed, detail)
		e.locks.Release(dev.ID, rec.ChangeID)
		return rec, nil
	}
	defer sess.Close()

	results := make([]model.CommandResult, 0, len(rec.Commands))
	for i, p := range pairs {
		res, runErr := e.runCommand(ctx, sess, p.Command)
		res.Command = rec.Commands[i]
		results = append(results, res)
		if res.Error == "" {
			continue
		}

		log.Warn("Command failed, unwinding",
			"change_id", rec.ChangeID, "device_id", dev.ID,
			"command", rec.Commands[i], "executed", i, "on_failure", string(onFailure))

		detail := &model.ResultDetail{
			Error:         res.Error,
			Executed:      i,
			FailedCommand: rec.Commands[i],
			Commands:      results,
		}

		if onFailure == model.ReportOnly || i == 0 {
			if i == 0 {
				// Nothing applied; the device is clean and the lock can go.
				detail.Message = "first command failed, device unchanged"
				e.finish(rec, model.StatusFailed, detail)
				e.locks.Release(dev.ID, rec.ChangeID)
				return rec, nil
			}
			detail.Message = "partial application, lock held for manual intervention"
			e.finish(rec, model.StatusFailed, detail)
			e.locks.Hold(dev.ID, rec.ChangeID, detail.Message)
			return rec, nil
		}

		// A per-command timeout cancels the session context, which poisons
		// the session. The unwind must not be attempted on it.
		poisoned := errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled)
		return e.autoRollback(ctx, rec, dev, sess, detail, poisoned), nil
	}

	detail := &model.ResultDetail{
		Message:  fmt.Sprintf("%d commands applied", len(results)),
		Executed: len(results),
		Commands: results,
	}
	e.finish(rec, model.StatusApplied, detail)
	e.locks.Release(dev.ID, rec.ChangeID)
	log.Info("Change applied", "change_id", rec.ChangeID, "device_id", dev.ID, "commands", len(results))
	return rec, nil
}

// autoRollback unwinds the partially applied prefix in reverse order. When
// the forward failure poisoned the session (a command timeout closes the
// underlying transport), the unwind runs on a freshly dialed session instead.
// A rollback failure pins the device lock and leaves the record in the
// dead-end rollback_failed status.
func (e *Executor) autoRollback(ctx context.Context, rec *model.ChangeRecord, dev model.Device, sess gateway.Session, detail *model.ResultDetail, poisoned bool) *model.ChangeRecord {
	if poisoned {
		sess.Close()
		dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
		fresh, err := e.dialer.Dial(dialCtx, dev)
		cancel()
		if err != nil {
			detail.Message = fmt.Sprintf("could not reopen session for automatic rollback: %v, lock held for manual intervention", err)
			e.finish(rec, model.StatusRollbackFailed, detail)
			e.locks.Hold(dev.ID, rec.ChangeID, detail.Message)
			log.Error("Automatic rollback redial failed",
				"change_id", rec.ChangeID, "device_id", dev.ID, "error", err)
			return rec
		}
		defer fresh.Close()
		sess = fresh
		log.Info("Reopened session for automatic rollback", "change_id", rec.ChangeID, "device_id", dev.ID)
	}

	for i := detail.Executed - 1; i >= 0; i-- {
		res, _ := e.runCommand(ctx, sess, rec.RollbackCommands[i])
		detail.Commands = append(detail.Commands, res)
		if res.Error != "" {
			detail.Message = fmt.Sprintf("automatic rollback failed at %q, lock held for manual intervention", rec.RollbackCommands[i])
			e.finish(rec, model.StatusRollbackFailed, detail)
			e.locks.Hold(dev.ID, rec.ChangeID, detail.Message)
			log.Error("Automatic rollback failed",
				"change_id", rec.ChangeID, "device_id", dev.ID, "command", rec.RollbackCommands[i])
			return rec
		}
	}

	detail.Message = fmt.Sprintf("automatic rollback completed, %d commands reversed", detail.Executed)
	e.finish(rec, model.StatusRolledBack, detail)
	e.locks.Release(dev.ID, rec.ChangeID)
	log.Info("Automatic rollback completed", "change_id", rec.ChangeID, "device_id", dev.ID, "reversed", detail.Executed)
	return rec
}

// runCommand executes one command under the per-command timeout. The raw
// error is returned alongside the result so callers can distinguish a
// timeout, which poisons the session, from an ordinary command failure.
func (e *Executor) runCommand(ctx context.Context, sess gateway.Session, cmd string) (model.CommandResult, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, e.cmdTimeout)
	defer cancel()

	start := time.Now()
	out, err := sess.Run(cmdCtx, cmd)
	res := model.CommandResult{
		Command:    cmd,
		Output:     out,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}

// finish persists a status transition. Storage failures at this point are
// logged rather than surfaced; the in-memory record still reflects the
// outcome the caller needs.
func (e *Executor) finish(rec *model.ChangeRecord, status model.Status, detail *model.ResultDetail) {
	rec.Status = status
	rec.ResultDetail = detail
	switch status {
	case model.StatusApplied:
		now := time.Now().UTC()
		rec.AppliedAt = &now
	case model.StatusRolledBack:
		now := time.Now().UTC()
		rec.RolledBackAt = &now
	}
	if err := e.store.UpdateStatus(rec.ChangeID, status, detail); err != nil {
		log.Error("Failed to persist status transition",
			"change_id", rec.ChangeID, "status", string(status), "error", err)
	}
}

// LockInfo exposes the current holder of a device lock.
func (e *Executor) LockInfo(deviceID string) (lock.Info, bool) {
	return e.locks.Holder(deviceID)
}

// ForceUnlock clears a device lock regardless of holder. It exists for
// operators cleaning up after a manual intervention.
func (e *Executor) ForceUnlock(deviceID string) bool {
	released := e.locks.ForceRelease(deviceID)
	if released {
		log.Warn("Device lock force-released", "device_id", deviceID)
	}
	return released
}
