package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netforge-io/changerd/internal/client"
	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/probe"
	"github.com/paularlott/cli"
)

// Commands returns the probing subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		failoverCommand(),
		reachCommand(),
	}
}

func failoverCommand() *cli.Command {
	return &cli.Command{
		Name:        "failover",
		Usage:       "Run a failover test through a router",
		Description: "Ping upstream targets from the router and classify packet loss",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: append(client.Flags(),
			&cli.StringFlag{Name: "targets", Usage: "Comma-separated probe targets"},
			&cli.IntFlag{Name: "count", Usage: "Pings per target", DefaultValue: 4},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.FromCommand(cmd)
			if err != nil {
				return err
			}

			body := map[string]any{
				"count": cmd.GetInt("count"),
			}
			if targets := parseTargets(cmd.GetString("targets")); len(targets) > 0 {
				body["targets"] = targets
			}

			var resp struct {
				Report model.FailoverReport `json:"report"`
			}
			path := "/mikrotik/routers/" + cmd.GetStringArg("device") + "/enterprise/failover-test"
			if err := c.Post(ctx, path, body, &resp); err != nil {
				return err
			}

			printReport(cmd.GetStringArg("device"), &resp.Report)
			return nil
		},
	}
}

func reachCommand() *cli.Command {
	return &cli.Command{
		Name:        "reach",
		Usage:       "Check whether a host answers from this machine",
		Description: "ICMP echo with a TCP fallback, run locally without a server",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "address", Required: true},
		},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "TCP port for the fallback probe", DefaultValue: 22},
			&cli.IntFlag{Name: "timeout", Usage: "Probe timeout in seconds", DefaultValue: 3},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			address := cmd.GetStringArg("address")
			checker := probe.NewReachability(time.Duration(cmd.GetInt("timeout")) * time.Second)
			if checker.Check(address, cmd.GetInt("port")) {
				fmt.Printf("%s is reachable\n", address)
				return nil
			}
			return fmt.Errorf("%s is unreachable", address)
		},
	}
}

func printReport(deviceID string, report *model.FailoverReport) {
	fmt.Printf("Failover test for %s\n", deviceID)
	fmt.Printf("Overall: %s\n", report.OverallStatus)
	for _, t := range report.Targets {
		latency := "n/a"
		if t.AvgLatencyMS != nil {
			latency = fmt.Sprintf("%.1fms", *t.AvgLatencyMS)
		}
		fmt.Printf("  %s\tloss=%.0f%%\tavg=%s\t%s\n",
			t.Target, t.PacketLoss*100, latency, t.Status)
	}
	if report.Device != nil {
		fmt.Printf("Device: %s (uptime %ds)\n", report.Device.SysName, report.Device.UptimeSec)
	}
}

func parseTargets(s string) []string {
	if s == "" {
		return nil
	}
	var targets []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}
