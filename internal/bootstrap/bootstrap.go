// Package bootstrap implements the Back-To-Home provisioning flow: a
// composite change that enables cloud DDNS, turns on the Back-To-Home VPN
// and creates the remote-access user, each step as its own audited change.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/netforge-io/changerd/internal/executor"
	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
)

const category = "back-to-home"

// Step names, in execution order.
const (
	StepDDNS = "ddns-enable"
	StepVPN  = "vpn-enable"
	StepUser = "user-create"
)

// Runner executes bootstrap requests through the change executor, so every
// step gets the usual locking, ticket gating and rollback handling.
type Runner struct {
	exec *executor.Executor
}

func New(exec *executor.Executor) *Runner {
	return &Runner{exec: exec}
}

// Run validates the request and, when confirmed, executes the bootstrap
// steps in order. Validation failures and unconfirmed requests return a
// preview report without touching the device.
func (r *Runner) Run(ctx context.Context, deviceID, actor string, req model.BootstrapRequest) (*model.BootstrapReport, error) {
	report := &model.BootstrapReport{
		Missing: []string{},
		NextSteps: []string{
			"enable IP cloud DDNS so the device registers its public address",
			"enable the Back-To-Home VPN service",
			fmt.Sprintf("create Back-To-Home user %q", req.UserName),
		},
	}

	if strings.TrimSpace(req.UserName) == "" {
		report.Missing = append(report.Missing, "user_name")
	}
	if strings.TrimSpace(req.PrivateKey) == "" {
		report.Missing = append(report.Missing, "private_key")
	}
	if len(report.Missing) > 0 {
		return report, nil
	}

	report.UserVisibleAfterRun = true

	if !req.Confirm {
		// Preview: list the steps that a confirmed run would execute.
		for _, name := range []string{StepDDNS, StepVPN, StepUser} {
			report.Steps = append(report.Steps, model.BootstrapStep{Name: name})
		}
		return report, nil
	}

	for _, step := range r.plan(req) {
		rec, err := r.exec.ApplyCommands(ctx, executor.CommandRequest{
			DeviceID:     deviceID,
			Category:     category,
			Actor:        actor,
			ChangeTicket: req.ChangeTicket,
			Pairs:        step.pairs,
			OnFailure:    model.AutoRollback,
		})
		if err != nil {
			report.Steps = append(report.Steps, model.BootstrapStep{Name: step.name, Error: err.Error()})
			report.UserVisibleAfterRun = false
			return report, err
		}

		s := model.BootstrapStep{Name: step.name, ChangeID: rec.ChangeID, Status: rec.Status}
		if rec.Status != model.StatusApplied {
			if rec.ResultDetail != nil {
				s.Error = rec.ResultDetail.Error
			}
			report.Steps = append(report.Steps, s)
			report.UserVisibleAfterRun = false
			log.Warn("Bootstrap aborted", "device_id", deviceID, "step", step.name, "status", string(rec.Status))
			return report, nil
		}
		report.Steps = append(report.Steps, s)
	}

	log.Info("Back-To-Home bootstrap completed", "device_id", deviceID, "user", req.UserName)
	return report, nil
}

type planStep struct {
	name  string
	pairs []model.CommandPair
}

// plan builds the per-step command plans. The user-create command carries
// the private key, so its pair gets a redacted audit form: the key crosses
// the session but never reaches the change log.
func (r *Runner) plan(req model.BootstrapRequest) []planStep {
	allowLAN := "no"
	if req.AllowLAN {
		allowLAN = "yes"
	}
	comment := req.Comment
	if comment == "" {
		comment = "managed by changerd"
	}

	addUser := fmt.Sprintf(
		`/ip cloud back-to-home-user add name=%q private-key=%q allow-lan=%s comment=%q`,
		req.UserName, req.PrivateKey, allowLAN, comment)
	addUserAudit := fmt.Sprintf(
		`/ip cloud back-to-home-user add name=%q private-key=***** allow-lan=%s comment=%q`,
		req.UserName, allowLAN, comment)
	removeUser := fmt.Sprintf(`/ip cloud back-to-home-user remove [find name=%q]`, req.UserName)
	if req.ReplaceExistingUser {
		addUser = removeUser + "; " + addUser
		addUserAudit = removeUser + "; " + addUserAudit
	}

	return []planStep{
		{
			name: StepDDNS,
			pairs: []model.CommandPair{{
				Command:  "/ip cloud set ddns-enabled=yes",
				Rollback: "/ip cloud set ddns-enabled=no",
			}},
		},
		{
			name: StepVPN,
			pairs: []model.CommandPair{{
				Command:  "/ip cloud set back-to-home-vpn=enabled",
				Rollback: "/ip cloud set back-to-home-vpn=disabled",
			}},
		},
		{
			name: StepUser,
			pairs: []model.CommandPair{{
				Command:  addUser,
				Rollback: removeUser,
				Redacted: addUserAudit,
			}},
		},
	}
}
