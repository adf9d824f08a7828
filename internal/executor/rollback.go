package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
)

// ErrNotRollbackable is returned when a change record's status does not
// admit a manual rollback.
var ErrNotRollbackable = errors.New("change is not rollbackable")

// Rollback replays a change's stored inverse commands in reverse order.
// Applied changes unwind fully; failed changes with a partially applied
// prefix unwind exactly that prefix. A change can be rolled back once:
// rolled_back and rollback_failed are dead ends.
func (e *Executor) Rollback(ctx context.Context, changeID, actor, ticket string) (*model.ChangeRecord, error) {
	rec, err := e.store.Get(changeID)
	if err != nil {
		return nil, err
	}

	var reverse int
	switch {
	case rec.Status == model.StatusApplied:
		reverse = len(rec.RollbackCommands)
	case rec.Status == model.StatusFailed && rec.ResultDetail != nil && rec.ResultDetail.Executed > 0:
		reverse = rec.ResultDetail.Executed
	default:
		return nil, fmt.Errorf("change %s in status %s: %w", changeID, rec.Status, ErrNotRollbackable)
	}
	if reverse == 0 || reverse > len(rec.RollbackCommands) {
		return nil, fmt.Errorf("change %s has nothing to reverse: %w", changeID, ErrNotRollbackable)
	}

	if err := e.gate.Authorize(ticket, true); err != nil {
		return nil, err
	}
	if e.dialer == nil {
		return nil, ErrLiveDisabled
	}

	dev, err := e.inv.Get(rec.DeviceID)
	if err != nil {
		return nil, err
	}

	// Acquiring with the change's own ID is reentrant, so rolling back a
	// partial failure whose lock is still held just refreshes it.
	if err := e.locks.Acquire(dev.ID, rec.ChangeID, actor); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	sess, err := e.dialer.Dial(dialCtx, dev)
	cancel()
	if err != nil {
		// Nothing was attempted; the record keeps its status. A held lock
		// stays held, a fresh applied-rollback lock is dropped.
		if rec.Status == model.StatusApplied {
			e.locks.Release(dev.ID, rec.ChangeID)
		}
		return nil, fmt.Errorf("session failed: %w", err)
	}
	defer sess.Close()

	detail := &model.ResultDetail{Executed: reverse}
	for i := reverse - 1; i >= 0; i-- {
		res, _ := e.runCommand(ctx, sess, rec.RollbackCommands[i])
		detail.Commands = append(detail.Commands, res)
		if res.Error != "" {
			detail.Error = res.Error
			detail.FailedCommand = rec.RollbackCommands[i]
			detail.Message = "manual rollback failed, lock held for manual intervention"
			e.finish(rec, model.StatusRollbackFailed, detail)
			e.locks.Hold(dev.ID, rec.ChangeID, detail.Message)
			log.Error("Manual rollback failed",
				"change_id", rec.ChangeID, "device_id", dev.ID, "command", rec.RollbackCommands[i])
			return rec, nil
		}
	}

	detail.Message = fmt.Sprintf("manual rollback completed, %d commands reversed", reverse)
	e.finish(rec, model.StatusRolledBack, detail)
	e.locks.Release(dev.ID, rec.ChangeID)
	log.Info("Manual rollback completed", "change_id", rec.ChangeID, "device_id", dev.ID, "reversed", reverse)
	return rec, nil
}
