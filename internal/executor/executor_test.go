package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/netforge-io/changerd/internal/compiler"
	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/inventory"
	"github.com/netforge-io/changerd/internal/lock"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/profile"
	"github.com/netforge-io/changerd/internal/storage"
)

type fakeSession struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]bool
	closed   bool
}

func (s *fakeSession) Run(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, cmd)
	if s.failOn[cmd] {
		return "", errors.New("syntax error")
	}
	return "ok", nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

type fakeDialer struct {
	sess *fakeSession
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, dev model.Device) (gateway.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type testRig struct {
	exec  *Executor
	locks *lock.Manager
	store storage.ChangeLog
	sess  *fakeSession
}

func newTestRig(t *testing.T, dialer gateway.Dialer, requireTicket bool) *testRig {
	t.Helper()

	store, err := storage.NewSQLiteChangeLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteChangeLog() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := profile.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}

	locks := lock.NewManager(time.Minute)
	inv := inventory.FromDevices([]model.Device{
		{ID: "rtr-1", TenantID: "tenant-1", Address: "192.0.2.1", LANInterface: "bridge"},
		{ID: "rtr-2", TenantID: "tenant-1", Address: "192.0.2.2"},
	})

	exec := New(Options{
		Log:           store,
		Locks:         locks,
		Inventory:     inv,
		Compiler:      compiler.New(cat),
		Dialer:        dialer,
		RequireTicket: requireTicket,
	})

	rig := &testRig{exec: exec, locks: locks, store: store}
	if fd, ok := dialer.(*fakeDialer); ok {
		rig.sess = fd.sess
	}
	return rig
}

// fivePairs builds a plan of five invertible commands with the nth forward
// command scripted to fail.
func fivePairs(failIndex int, sess *fakeSession) []model.CommandPair {
	pairs := make([]model.CommandPair, 5)
	for i := range pairs {
		pairs[i] = model.CommandPair{
			Command:  fmt.Sprintf("/set step%d", i+1),
			Rollback: fmt.Sprintf("/unset step%d", i+1),
		}
	}
	if failIndex >= 0 {
		sess.failOn = map[string]bool{pairs[failIndex].Command: true}
	}
	return pairs
}

func TestApplyDryRun(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{sess: &fakeSession{}}, true)

	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		SiteProfile:   "access",
		Actor:         "alice",
		DryRun:        true,
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if rec.Status != model.StatusDryRun {
		t.Errorf("status = %s, want dry_run", rec.Status)
	}
	if rec.ResultDetail == nil || len(rec.ResultDetail.Predicted) != len(rec.Commands) {
		t.Errorf("predicted commands missing: %+v", rec.ResultDetail)
	}
	if got := rig.sess.log(); len(got) != 0 {
		t.Errorf("dry run touched the device: %v", got)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("lock not released after dry run")
	}

	// Dry-run records are persisted for audit.
	stored, err := rig.store.Get(rec.ChangeID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != model.StatusDryRun {
		t.Errorf("stored status = %s, want dry_run", stored.Status)
	}
}

func TestApplyLiveSuccess(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, true)

	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		Actor:         "alice",
		ChangeTicket:  "CHG-1",
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if rec.Status != model.StatusApplied {
		t.Fatalf("status = %s, want applied (detail: %+v)", rec.Status, rec.ResultDetail)
	}
	if rec.AppliedAt == nil {
		t.Error("applied_at not set")
	}
	if got := sess.log(); len(got) != len(rec.Commands) {
		t.Errorf("executed %d commands, want %d", len(got), len(rec.Commands))
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("lock not released after apply")
	}
}

func TestApplyTicketGate(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{sess: &fakeSession{}}, true)

	_, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		Actor:         "alice",
	})
	if !errors.Is(err, ErrTicketRequired) {
		t.Fatalf("Apply() error = %v, want ErrTicketRequired", err)
	}

	// No record and no lock for a request rejected at the gate.
	if recs, _ := rig.store.List(model.ChangeFilter{}); len(recs) != 0 {
		t.Errorf("gate rejection left %d records", len(recs))
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("gate rejection left the device locked")
	}
}

func TestApplyTicketNotRequiredWhenPolicyOff(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{sess: &fakeSession{}}, false)

	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		Actor:         "alice",
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if rec.Status != model.StatusApplied {
		t.Errorf("status = %s, want applied", rec.Status)
	}
}

func TestApplyIncompatibleProfiles(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{sess: &fakeSession{}}, false)

	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "strict",
		SiteProfile:   "core",
		Actor:         "alice",
	})
	if !errors.Is(err, compiler.ErrIncompatibleProfiles) {
		t.Fatalf("Apply() error = %v, want ErrIncompatibleProfiles", err)
	}

	// The failed compilation is still audited, with an empty plan.
	if rec == nil {
		t.Fatal("expected a change record for the failed compilation")
	}
	stored, err := rig.store.Get(rec.ChangeID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != model.StatusFailed || len(stored.Commands) != 0 {
		t.Errorf("stored record = %+v", stored)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("failed compilation left the device locked")
	}
}

func TestApplyDeviceBusy(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{sess: &fakeSession{}}, false)

	if err := rig.locks.Acquire("rtr-1", "chg-other", "bob"); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	_, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		Actor:         "alice",
	})
	if !errors.Is(err, lock.ErrDeviceBusy) {
		t.Fatalf("Apply() error = %v, want ErrDeviceBusy", err)
	}
}

func TestApplyLiveDisabledWithoutDialer(t *testing.T) {
	rig := newTestRig(t, nil, false)

	if _, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
	}); !errors.Is(err, ErrLiveDisabled) {
		t.Fatalf("Apply() error = %v, want ErrLiveDisabled", err)
	}

	// Dry runs still work without a transport.
	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		DryRun:        true,
	})
	if err != nil {
		t.Fatalf("dry-run Apply() error: %v", err)
	}
	if rec.Status != model.StatusDryRun {
		t.Errorf("status = %s, want dry_run", rec.Status)
	}
}

func TestApplyDialFailure(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{err: errors.New("connection refused")}, false)

	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		Actor:         "alice",
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if rec.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ResultDetail == nil || rec.ResultDetail.Executed != 0 {
		t.Errorf("detail = %+v, want executed 0", rec.ResultDetail)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("dial failure left the device locked")
	}
}

func TestApplyAutoRollbackReversesPrefix(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, false)
	pairs := fivePairs(2, sess) // third command fails

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID:  "rtr-1",
		Category:  "hardening",
		Actor:     "alice",
		Pairs:     pairs,
		OnFailure: model.AutoRollback,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}

	if rec.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", rec.Status)
	}

	want := []string{
		"/set step1", "/set step2", "/set step3", // forward, third fails
		"/unset step2", "/unset step1", // reverse order unwind
	}
	got := sess.log()
	if len(got) != len(want) {
		t.Fatalf("session log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("session log[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	if rec.ResultDetail.Executed != 2 || rec.ResultDetail.FailedCommand != "/set step3" {
		t.Errorf("detail = %+v", rec.ResultDetail)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("auto rollback left the device locked")
	}
}

func TestApplyReportOnlyHoldsLock(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, false)
	pairs := fivePairs(2, sess)

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID:  "rtr-1",
		Actor:     "alice",
		Pairs:     pairs,
		OnFailure: model.ReportOnly,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}

	if rec.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.ResultDetail.Executed != 2 {
		t.Errorf("executed = %d, want 2", rec.ResultDetail.Executed)
	}
	// No unwind commands ran.
	if got := sess.log(); len(got) != 3 {
		t.Errorf("session log = %v, want forward commands only", got)
	}

	info, held := rig.locks.Holder("rtr-1")
	if !held || !info.Held {
		t.Fatalf("lock not held for manual intervention: %+v", info)
	}

	// Manual rollback of the partial prefix reverses exactly two commands
	// and releases the hold.
	sess.failOn = nil
	rolled, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "alice", "CHG-2")
	if err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if rolled.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", rolled.Status)
	}
	got := sess.log()
	tail := got[len(got)-2:]
	if tail[0] != "/unset step2" || tail[1] != "/unset step1" {
		t.Errorf("rollback tail = %v, want [/unset step2 /unset step1]", tail)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("lock still held after manual rollback")
	}
}

func TestApplyFirstCommandFailureReleasesLock(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, false)
	pairs := fivePairs(0, sess)

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID:  "rtr-1",
		Actor:     "alice",
		Pairs:     pairs,
		OnFailure: model.AutoRollback,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}

	if rec.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.ResultDetail.Executed != 0 {
		t.Errorf("executed = %d, want 0", rec.ResultDetail.Executed)
	}
	// Device unchanged, so the lock goes and no unwind runs.
	if got := sess.log(); len(got) != 1 {
		t.Errorf("session log = %v, want just the failing command", got)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("lock held after a zero-progress failure")
	}
}

func TestRollbackAppliedChange(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, true)
	pairs := fivePairs(-1, sess)

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID:     "rtr-1",
		Actor:        "alice",
		ChangeTicket: "CHG-1",
		Pairs:        pairs,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}
	if rec.Status != model.StatusApplied {
		t.Fatalf("status = %s, want applied", rec.Status)
	}

	// Policy gates manual rollback too.
	if _, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "bob", ""); !errors.Is(err, ErrTicketRequired) {
		t.Fatalf("Rollback() without ticket error = %v, want ErrTicketRequired", err)
	}

	rolled, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "bob", "CHG-2")
	if err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if rolled.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", rolled.Status)
	}
	if rolled.RolledBackAt == nil {
		t.Error("rolled_back_at not set")
	}

	// Full plan reversed in reverse order.
	got := sess.log()
	tail := got[len(got)-5:]
	want := []string{"/unset step5", "/unset step4", "/unset step3", "/unset step2", "/unset step1"}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("rollback tail = %v, want %v", tail, want)
		}
	}

	// Rollback is single-shot.
	if _, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "bob", "CHG-3"); !errors.Is(err, ErrNotRollbackable) {
		t.Fatalf("second Rollback() error = %v, want ErrNotRollbackable", err)
	}
}

func TestRollbackFailureIsDeadEnd(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, false)
	pairs := fivePairs(-1, sess)

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID: "rtr-1",
		Actor:    "alice",
		Pairs:    pairs,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}

	sess.failOn = map[string]bool{"/unset step3": true}
	rolled, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "alice", "")
	if err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if rolled.Status != model.StatusRollbackFailed {
		t.Fatalf("status = %s, want rollback_failed", rolled.Status)
	}

	info, held := rig.locks.Holder("rtr-1")
	if !held || !info.Held {
		t.Fatalf("lock not held after rollback failure: %+v", info)
	}

	// No retry path from rollback_failed.
	if _, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "alice", ""); !errors.Is(err, ErrNotRollbackable) {
		t.Fatalf("retry Rollback() error = %v, want ErrNotRollbackable", err)
	}

	// Operator cleanup.
	if !rig.exec.ForceUnlock("rtr-1") {
		t.Error("ForceUnlock() = false, want true")
	}
}

// timeoutSession mimics the SSH transport: a command that exceeds its
// deadline returns the context error and closes the underlying client, so
// every later Run on the same session fails.
type timeoutSession struct {
	mu        sync.Mutex
	executed  []string
	timeoutOn string
	dead      bool
}

func (s *timeoutSession) Run(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return "", errors.New("session is closed")
	}
	s.executed = append(s.executed, cmd)
	if cmd == s.timeoutOn {
		s.dead = true
		return "", fmt.Errorf("command timed out: %w", context.DeadlineExceeded)
	}
	return "ok", nil
}

func (s *timeoutSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = true
	return nil
}

func (s *timeoutSession) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// redialDialer opens a fresh timeoutSession per Dial. Only the first
// session is scripted to time out.
type redialDialer struct {
	mu        sync.Mutex
	timeoutOn string
	redialErr error
	sessions  []*timeoutSession
}

func (d *redialDialer) Dial(ctx context.Context, dev model.Device) (gateway.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) > 0 && d.redialErr != nil {
		return nil, d.redialErr
	}
	s := &timeoutSession{}
	if len(d.sessions) == 0 {
		s.timeoutOn = d.timeoutOn
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func TestApplyCommandTimeoutUnwindsOnFreshSession(t *testing.T) {
	dialer := &redialDialer{timeoutOn: "/set step3"}
	rig := newTestRig(t, dialer, false)
	pairs := fivePairs(-1, &fakeSession{})

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID:  "rtr-1",
		Actor:     "alice",
		Pairs:     pairs,
		OnFailure: model.AutoRollback,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}

	if rec.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back (detail: %+v)", rec.Status, rec.ResultDetail)
	}
	if rec.ResultDetail.Executed != 2 || rec.ResultDetail.FailedCommand != "/set step3" {
		t.Errorf("detail = %+v", rec.ResultDetail)
	}

	if len(dialer.sessions) != 2 {
		t.Fatalf("dialed %d sessions, want 2 (timeout poisons the first)", len(dialer.sessions))
	}
	forward := dialer.sessions[0].log()
	wantForward := []string{"/set step1", "/set step2", "/set step3"}
	if len(forward) != len(wantForward) {
		t.Fatalf("first session log = %v, want %v", forward, wantForward)
	}
	unwind := dialer.sessions[1].log()
	wantUnwind := []string{"/unset step2", "/unset step1"}
	if len(unwind) != len(wantUnwind) {
		t.Fatalf("second session log = %v, want %v", unwind, wantUnwind)
	}
	for i := range wantUnwind {
		if unwind[i] != wantUnwind[i] {
			t.Fatalf("second session log[%d] = %q, want %q", i, unwind[i], wantUnwind[i])
		}
	}

	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("auto rollback left the device locked")
	}
}

func TestApplyCommandTimeoutRedialFailure(t *testing.T) {
	dialer := &redialDialer{timeoutOn: "/set step3", redialErr: errors.New("no route to host")}
	rig := newTestRig(t, dialer, false)
	pairs := fivePairs(-1, &fakeSession{})

	rec, err := rig.exec.ApplyCommands(context.Background(), CommandRequest{
		DeviceID:  "rtr-1",
		Actor:     "alice",
		Pairs:     pairs,
		OnFailure: model.AutoRollback,
	})
	if err != nil {
		t.Fatalf("ApplyCommands() error: %v", err)
	}

	if rec.Status != model.StatusRollbackFailed {
		t.Fatalf("status = %s, want rollback_failed", rec.Status)
	}
	info, held := rig.locks.Holder("rtr-1")
	if !held || !info.Held {
		t.Fatalf("lock not held after failed redial: %+v", info)
	}
}

// blockingDialer parks the first caller inside Dial so the test can check
// the device lock while a live apply is in flight.
type blockingDialer struct {
	sess    *fakeSession
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context, dev model.Device) (gateway.Session, error) {
	d.entered <- struct{}{}
	<-d.release
	return d.sess, nil
}

func TestApplyConcurrentSingleWinner(t *testing.T) {
	dialer := &blockingDialer{
		sess:    &fakeSession{},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	rig := newTestRig(t, dialer, false)

	const callers = 5
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := rig.exec.Apply(context.Background(), ApplyRequest{
				DeviceID:      "rtr-1",
				RouterProfile: "baseline",
				Actor:         "alice",
			})
			results <- err
		}()
	}

	// One caller wins the lock and parks in Dial; the other four must
	// bounce off the busy device while it is held.
	<-dialer.entered
	for i := 0; i < callers-1; i++ {
		if err := <-results; !errors.Is(err, lock.ErrDeviceBusy) {
			t.Fatalf("contending Apply() error = %v, want ErrDeviceBusy", err)
		}
	}

	close(dialer.release)
	if err := <-results; err != nil {
		t.Fatalf("winning Apply() error: %v", err)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("lock held after concurrent applies settled")
	}
}

func TestApplyDryRunRepeatable(t *testing.T) {
	sess := &fakeSession{}
	rig := newTestRig(t, &fakeDialer{sess: sess}, false)

	var first *model.ChangeRecord
	for i := 0; i < 3; i++ {
		rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
			DeviceID:      "rtr-1",
			RouterProfile: "baseline",
			SiteProfile:   "access",
			Actor:         "alice",
			DryRun:        true,
		})
		if err != nil {
			t.Fatalf("Apply() #%d error: %v", i+1, err)
		}
		if first == nil {
			first = rec
			continue
		}
		if !reflect.DeepEqual(rec.Commands, first.Commands) {
			t.Errorf("run #%d commands = %v, want %v", i+1, rec.Commands, first.Commands)
		}
		if !reflect.DeepEqual(rec.ResultDetail.Predicted, first.ResultDetail.Predicted) {
			t.Errorf("run #%d predicted = %v, want %v", i+1, rec.ResultDetail.Predicted, first.ResultDetail.Predicted)
		}
	}

	if got := sess.log(); len(got) != 0 {
		t.Errorf("repeated dry runs touched the device: %v", got)
	}
	if _, held := rig.locks.Holder("rtr-1"); held {
		t.Error("lock held after repeated dry runs")
	}
}

func TestRollbackNotRollbackableStatuses(t *testing.T) {
	rig := newTestRig(t, &fakeDialer{sess: &fakeSession{}}, false)

	rec, err := rig.exec.Apply(context.Background(), ApplyRequest{
		DeviceID:      "rtr-1",
		RouterProfile: "baseline",
		DryRun:        true,
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if _, err := rig.exec.Rollback(context.Background(), rec.ChangeID, "alice", ""); !errors.Is(err, ErrNotRollbackable) {
		t.Errorf("Rollback(dry_run) error = %v, want ErrNotRollbackable", err)
	}

	if _, err := rig.exec.Rollback(context.Background(), "missing", "alice", ""); !errors.Is(err, storage.ErrChangeNotFound) {
		t.Errorf("Rollback(missing) error = %v, want ErrChangeNotFound", err)
	}
}
