package model

import (
	"time"
)

// Status is the lifecycle state of a ChangeRecord.
type Status string

const (
	StatusPlanned        Status = "planned"
	StatusDryRun         Status = "dry_run"
	StatusApplying       Status = "applying"
	StatusApplied        Status = "applied"
	StatusFailed         Status = "failed"
	StatusRolledBack     Status = "rolled_back"
	StatusRollbackFailed Status = "rollback_failed"
)

// Terminal reports whether the status ends a change attempt. An applied
// record is terminal until a rollback moves it on.
func (s Status) Terminal() bool {
	switch s {
	case StatusDryRun, StatusApplied, StatusFailed, StatusRolledBack, StatusRollbackFailed:
		return true
	}
	return false
}

// CanRollback reports whether the Rollback Engine accepts a record in this
// status via the automatic path.
func (s Status) CanRollback() bool {
	return s == StatusApplied
}

// FailureAction selects what the executor does when a live command fails
// partway through a plan.
type FailureAction string

const (
	AutoRollback FailureAction = "auto_rollback"
	ReportOnly   FailureAction = "report_only"
)

// CommandPair is one compiled device command with its inverse.
// Rollback commands undo their forward command and must be replayed in
// reverse order to unwind layered changes.
//
// Redacted, when set, is recorded in the change log in place of Command, so
// a plan can carry a secret to the device without persisting it. Only the
// forward command has a redacted form: the stored rollback command is what a
// manual rollback replays, so it must stay executable verbatim.
type CommandPair struct {
	Command  string `json:"command"`
	Rollback string `json:"rollback"`
	Redacted string `json:"-"`
}

// Audit returns the form of the forward command that is safe to persist.
func (p CommandPair) Audit() string {
	if p.Redacted != "" {
		return p.Redacted
	}
	return p.Command
}

// CommandResult is the outcome of one command executed on a device.
type CommandResult struct {
	Command    string `json:"command"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ResultDetail is the diagnostic payload attached to a ChangeRecord. Executed
// counts the forward commands that completed successfully; the manual rollback
// path uses it to reverse exactly the partially-applied slice.
type ResultDetail struct {
	Message       string          `json:"message,omitempty"`
	Error         string          `json:"error,omitempty"`
	Executed      int             `json:"executed,omitempty"`
	FailedCommand string          `json:"failed_command,omitempty"`
	Commands      []CommandResult `json:"commands,omitempty"`
	Predicted     []string        `json:"predicted,omitempty"`
}

// ChangeRecord is the unit of audit and reversibility. Records are never
// deleted; rollback moves the same record to a new terminal status.
type ChangeRecord struct {
	ChangeID         string        `json:"change_id"`
	DeviceID         string        `json:"device_id"`
	TenantID         string        `json:"tenant_id,omitempty"`
	Category         string        `json:"category"`
	RouterProfile    string        `json:"router_profile,omitempty"`
	SiteProfile      string        `json:"site_profile,omitempty"`
	Actor            string        `json:"actor,omitempty"`
	ChangeTicket     string        `json:"change_ticket,omitempty"`
	Status           Status        `json:"status"`
	Commands         []string      `json:"commands"`
	RollbackCommands []string      `json:"rollback_commands"`
	ResultDetail     *ResultDetail `json:"result_detail,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	AppliedAt        *time.Time    `json:"applied_at,omitempty"`
	RolledBackAt     *time.Time    `json:"rolled_back_at,omitempty"`
}

// ChangeFilter holds filter criteria for listing change records.
type ChangeFilter struct {
	DeviceID string
	TenantID string
	Limit    int
}
