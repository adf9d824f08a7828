package change

import (
	"context"
	"fmt"
	"strings"

	"github.com/netforge-io/changerd/internal/client"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/paularlott/cli"
)

// Commands returns the change management subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		applyCommand(),
		listCommand(),
		showCommand(),
		rollbackCommand(),
		lockCommand(),
		unlockCommand(),
		profilesCommand(),
	}
}

type hardeningResponse struct {
	Success          bool     `json:"success"`
	DryRun           bool     `json:"dry_run"`
	Profile          string   `json:"profile"`
	SiteProfile      string   `json:"site_profile"`
	ChangeID         string   `json:"change_id"`
	Message          string   `json:"message"`
	Commands         []string `json:"commands"`
	RollbackCommands []string `json:"rollback_commands"`
	Result           string   `json:"result"`
	RollbackResult   string   `json:"rollback_result"`
	Error            string   `json:"error"`
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:        "apply",
		Usage:       "Apply a hardening profile to a router",
		Description: "Compile a hardening profile and apply it, or preview it with --dry-run",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: append(client.Flags(),
			&cli.StringFlag{Name: "profile", Usage: "Router hardening profile"},
			&cli.StringFlag{Name: "site-profile", Usage: "Site hardening profile"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Preview the compiled commands without touching the device"},
			&cli.StringFlag{Name: "ticket", Usage: "Change ticket authorizing the live apply"},
			&cli.BoolFlag{Name: "report-only", Usage: "On mid-apply failure report and hold the lock instead of auto-rolling back"},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			autoRollback := !cmd.GetBool("report-only")
			body := map[string]any{
				"dry_run":       cmd.GetBool("dry-run"),
				"profile":       cmd.GetString("profile"),
				"site_profile":  cmd.GetString("site-profile"),
				"auto_rollback": autoRollback,
				"change_ticket": cmd.GetString("ticket"),
			}

			var resp hardeningResponse
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") + "/enterprise/hardening"
			if err := c.Post(ctx, path, body, &resp); err != nil {
				return err
			}

			fmt.Printf("Change:  %s\n", resp.ChangeID)
			fmt.Printf("Result:  %s\n", resp.Result)
			if resp.RollbackResult != "" {
				fmt.Printf("Rollback: %s\n", resp.RollbackResult)
			}
			if resp.Message != "" {
				fmt.Println(resp.Message)
			}
			if resp.DryRun {
				printCommands("Commands", resp.Commands)
				printCommands("Rollback", resp.RollbackCommands)
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List change records for a router",
		Description: "List the change log for a router, newest first",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: append(client.Flags(),
			&cli.IntFlag{Name: "limit", Usage: "Maximum records to return", DefaultValue: 20},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			var resp struct {
				Changes []model.ChangeRecord `json:"changes"`
			}
			path := fmt.Sprintf("/mikrotik/routers/%s/enterprise/change-log?limit=%d",
				cmd.GetStringArg("device"), cmd.GetInt("limit"))
			if err := c.Get(ctx, path, &resp); err != nil {
				return err
			}

			if len(resp.Changes) == 0 {
				fmt.Println("No change records found")
				return nil
			}
			for _, rec := range resp.Changes {
				profile := rec.RouterProfile
				if rec.SiteProfile != "" {
					profile = strings.TrimPrefix(profile+"+"+rec.SiteProfile, "+")
				}
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
					rec.ChangeID, rec.CreatedAt.Format("2006-01-02 15:04:05"),
					rec.Category, profile, rec.Status)
			}
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:        "show",
		Usage:       "Show one change record",
		Description: "Show a change record with its commands and results",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
			&cli.StringArg{Name: "change-id", Required: true},
		},
		Flags: client.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			var resp struct {
				Change model.ChangeRecord `json:"change"`
			}
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") +
				"/enterprise/change-log/" + cmd.GetStringArg("change-id")
			if err := c.Get(ctx, path, &resp); err != nil {
				return err
			}

			printChange(&resp.Change)
			return nil
		},
	}
}

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Roll back an applied change",
		Description: "Execute the recorded rollback commands for a change in reverse order",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
			&cli.StringArg{Name: "change-id", Required: true},
		},
		Flags: append(client.Flags(),
			&cli.StringFlag{Name: "ticket", Usage: "Change ticket authorizing the rollback"},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			var resp struct {
				Success  bool   `json:"success"`
				ChangeID string `json:"change_id"`
				Result   string `json:"result"`
				Error    string `json:"error"`
			}
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") +
				"/enterprise/rollback/" + cmd.GetStringArg("change-id")
			body := map[string]any{"change_ticket": cmd.GetString("ticket")}
			if err := c.Post(ctx, path, body, &resp); err != nil {
				return err
			}

			fmt.Printf("Change:  %s\n", resp.ChangeID)
			fmt.Printf("Result:  %s\n", resp.Result)
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			return nil
		},
	}
}

func lockCommand() *cli.Command {
	return &cli.Command{
		Name:        "lock",
		Usage:       "Show the change lock for a router",
		Description: "Show whether a router is locked by an in-flight or held change",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: client.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			var resp struct {
				Locked bool `json:"locked"`
				Lock   struct {
					ChangeID  string `json:"change_id"`
					Actor     string `json:"actor"`
					Reason    string `json:"reason"`
					Held      bool   `json:"held"`
					ExpiresAt string `json:"expires_at"`
				} `json:"lock"`
			}
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") + "/enterprise/lock"
			if err := c.Get(ctx, path, &resp); err != nil {
				return err
			}

			if !resp.Locked {
				fmt.Println("Unlocked")
				return nil
			}
			fmt.Printf("Locked by change %s (actor %s)\n", resp.Lock.ChangeID, resp.Lock.Actor)
			if resp.Lock.Held {
				fmt.Printf("Held: %s\n", resp.Lock.Reason)
			} else {
				fmt.Printf("Expires: %s\n", resp.Lock.ExpiresAt)
			}
			return nil
		},
	}
}

func unlockCommand() *cli.Command {
	return &cli.Command{
		Name:        "force-unlock",
		Usage:       "Force-release the change lock for a router",
		Description: "Release a held or stuck change lock after manual intervention",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: client.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			var resp struct {
				Released bool `json:"released"`
			}
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") + "/enterprise/force-unlock"
			if err := c.Post(ctx, path, nil, &resp); err != nil {
				return err
			}

			if resp.Released {
				fmt.Println("Lock released")
			} else {
				fmt.Println("No lock to release")
			}
			return nil
		},
	}
}

func profilesCommand() *cli.Command {
	return &cli.Command{
		Name:        "profiles",
		Usage:       "List the available hardening profiles",
		Description: "List the router and site hardening profiles the server offers",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: client.Flags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			var resp struct {
				Profiles struct {
					RouterProfiles []model.ProfileSummary `json:"router_profiles"`
					SiteProfiles   []model.ProfileSummary `json:"site_profiles"`
				} `json:"profiles"`
			}
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") + "/enterprise/hardening/profiles"
			if err := c.Get(ctx, path, &resp); err != nil {
				return err
			}

			fmt.Println("Router profiles:")
			for _, p := range resp.Profiles.RouterProfiles {
				fmt.Printf("  %s\t%s\n", p.ID, p.Label)
			}
			fmt.Println("Site profiles:")
			for _, p := range resp.Profiles.SiteProfiles {
				fmt.Printf("  %s\t%s\n", p.ID, p.Label)
			}
			return nil
		},
	}
}

func printChange(rec *model.ChangeRecord) {
	fmt.Printf("Change ID:   %s\n", rec.ChangeID)
	fmt.Printf("Device:      %s\n", rec.DeviceID)
	fmt.Printf("Category:    %s\n", rec.Category)
	if rec.RouterProfile != "" {
		fmt.Printf("Profile:     %s\n", rec.RouterProfile)
	}
	if rec.SiteProfile != "" {
		fmt.Printf("Site:        %s\n", rec.SiteProfile)
	}
	fmt.Printf("Actor:       %s\n", rec.Actor)
	fmt.Printf("Status:      %s\n", rec.Status)
	fmt.Printf("Created:     %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	if rec.AppliedAt != nil {
		fmt.Printf("Applied:     %s\n", rec.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	if rec.RolledBackAt != nil {
		fmt.Printf("Rolled back: %s\n", rec.RolledBackAt.Format("2006-01-02 15:04:05"))
	}
	printCommands("Commands", rec.Commands)
	printCommands("Rollback", rec.RollbackCommands)
	if rec.ResultDetail != nil {
		if rec.ResultDetail.Error != "" {
			fmt.Printf("Error:       %s\n", rec.ResultDetail.Error)
		}
		if rec.ResultDetail.FailedCommand != "" {
			fmt.Printf("Failed at:   %s\n", rec.ResultDetail.FailedCommand)
		}
	}
}

func printCommands(heading string, commands []string) {
	if len(commands) == 0 {
		return
	}
	fmt.Printf("%s:\n", heading)
	for _, c := range commands {
		fmt.Printf("  %s\n", c)
	}
}
