package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/paularlott/cli"
)

// Config holds the daemon configuration. Values load with the priority
// CLI flags > environment variables > defaults; the flag layer covers
// the first two through EnvVars bindings.
type Config struct {
	ListenAddr string
	DataDir    string
	APIToken   string
	MCPToken   string

	// DevicesFile points at the JSON device inventory; defaults to
	// devices.json inside DataDir.
	DevicesFile string

	// RequireTicket enforces a change ticket on live (non-dry-run)
	// applies and on manual rollbacks.
	RequireTicket bool

	CommandTimeout time.Duration
	DialTimeout    time.Duration
	LockTTL        time.Duration

	// Packet-loss thresholds for failover probe classification, in percent.
	LossWarnPct int
	LossCritPct int

	// Scheduled failover probing; an empty schedule disables it.
	ProbeSchedule string
	ProbeDevice   string
	ProbeTargets  []string
	ProbeCount    int

	// Default device credentials, used when an inventory entry omits them.
	DeviceUsername string
	DevicePassword string
	SSHKeyFile     string

	SNMPCommunity string
}

// GetFlags returns the server configuration flags, each bound to a
// CHANGERD_* environment variable.
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "addr",
			Usage:        "Server listen address",
			DefaultValue: ":8420",
			EnvVars:      []string{"CHANGERD_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Data directory path",
			DefaultValue: "./data",
			EnvVars:      []string{"CHANGERD_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "API bearer token (empty disables API auth)",
			EnvVars: []string{"CHANGERD_API_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "mcp-token",
			Usage:   "MCP bearer token (empty disables the MCP endpoint)",
			EnvVars: []string{"CHANGERD_MCP_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "devices-file",
			Usage:   "Path to the JSON device inventory",
			EnvVars: []string{"CHANGERD_DEVICES_FILE"},
		},
		&cli.BoolFlag{
			Name:         "require-ticket",
			Usage:        "Require a change ticket for live changes and rollbacks",
			DefaultValue: true,
			EnvVars:      []string{"CHANGERD_REQUIRE_TICKET"},
		},
		&cli.IntFlag{
			Name:         "command-timeout",
			Usage:        "Per-command device timeout in seconds",
			DefaultValue: 15,
			EnvVars:      []string{"CHANGERD_COMMAND_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:         "dial-timeout",
			Usage:        "Device session dial timeout in seconds",
			DefaultValue: 10,
			EnvVars:      []string{"CHANGERD_DIAL_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:         "lock-ttl",
			Usage:        "Device change lock TTL in seconds",
			DefaultValue: 300,
			EnvVars:      []string{"CHANGERD_LOCK_TTL"},
		},
		&cli.IntFlag{
			Name:         "loss-warn-pct",
			Usage:        "Packet loss percentage above which a probe target is a warning",
			DefaultValue: 10,
			EnvVars:      []string{"CHANGERD_LOSS_WARN_PCT"},
		},
		&cli.IntFlag{
			Name:         "loss-crit-pct",
			Usage:        "Packet loss percentage at which a probe target is critical",
			DefaultValue: 50,
			EnvVars:      []string{"CHANGERD_LOSS_CRIT_PCT"},
		},
		&cli.StringFlag{
			Name:    "probe-schedule",
			Usage:   "Cron schedule for recurring failover probes (empty disables)",
			EnvVars: []string{"CHANGERD_PROBE_SCHEDULE"},
		},
		&cli.StringFlag{
			Name:    "probe-device",
			Usage:   "Device ID used by scheduled failover probes",
			EnvVars: []string{"CHANGERD_PROBE_DEVICE"},
		},
		&cli.StringFlag{
			Name:    "probe-targets",
			Usage:   "Comma-separated targets for scheduled failover probes",
			EnvVars: []string{"CHANGERD_PROBE_TARGETS"},
		},
		&cli.IntFlag{
			Name:         "probe-count",
			Usage:        "Probe count per target for scheduled failover probes",
			DefaultValue: 4,
			EnvVars:      []string{"CHANGERD_PROBE_COUNT"},
		},
		&cli.StringFlag{
			Name:         "device-user",
			Usage:        "Default device username",
			DefaultValue: "admin",
			EnvVars:      []string{"CHANGERD_DEVICE_USER"},
		},
		&cli.StringFlag{
			Name:    "device-password",
			Usage:   "Default device password",
			EnvVars: []string{"CHANGERD_DEVICE_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "ssh-key-file",
			Usage:   "Default SSH private key file for device sessions",
			EnvVars: []string{"CHANGERD_SSH_KEY_FILE"},
		},
		&cli.StringFlag{
			Name:    "snmp-community",
			Usage:   "SNMP community for device facts (empty disables SNMP)",
			EnvVars: []string{"CHANGERD_SNMP_COMMUNITY"},
		},
	}
}

// Load assembles the configuration from the parsed command flags.
func Load(cmd *cli.Command) *Config {
	cfg := &Config{
		ListenAddr:     cmd.GetString("addr"),
		DataDir:        cmd.GetString("data-dir"),
		APIToken:       cmd.GetString("api-token"),
		MCPToken:       cmd.GetString("mcp-token"),
		DevicesFile:    cmd.GetString("devices-file"),
		RequireTicket:  cmd.GetBool("require-ticket"),
		CommandTimeout: time.Duration(cmd.GetInt("command-timeout")) * time.Second,
		DialTimeout:    time.Duration(cmd.GetInt("dial-timeout")) * time.Second,
		LockTTL:        time.Duration(cmd.GetInt("lock-ttl")) * time.Second,
		LossWarnPct:    cmd.GetInt("loss-warn-pct"),
		LossCritPct:    cmd.GetInt("loss-crit-pct"),
		ProbeSchedule:  cmd.GetString("probe-schedule"),
		ProbeDevice:    cmd.GetString("probe-device"),
		ProbeTargets:   splitList(cmd.GetString("probe-targets")),
		ProbeCount:     cmd.GetInt("probe-count"),
		DeviceUsername: cmd.GetString("device-user"),
		DevicePassword: cmd.GetString("device-password"),
		SSHKeyFile:     cmd.GetString("ssh-key-file"),
		SNMPCommunity:  cmd.GetString("snmp-community"),
	}

	if cfg.DevicesFile == "" {
		cfg.DevicesFile = filepath.Join(cfg.DataDir, "devices.json")
	}
	if cfg.ProbeCount < 1 {
		cfg.ProbeCount = 4
	}
	return cfg
}

// IsAPIAuthEnabled reports whether API bearer authentication is configured.
func (c *Config) IsAPIAuthEnabled() bool {
	return c.APIToken != ""
}

// IsMCPEnabled reports whether the MCP endpoint is configured.
func (c *Config) IsMCPEnabled() bool {
	return c.MCPToken != ""
}

// LossWarn returns the warning threshold as a fraction.
func (c *Config) LossWarn() float64 { return float64(c.LossWarnPct) / 100 }

// LossCrit returns the critical threshold as a fraction.
func (c *Config) LossCrit() float64 { return float64(c.LossCritPct) / 100 }

// String summarises the effective configuration for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("addr=%s data_dir=%s ticket_required=%v", c.ListenAddr, c.DataDir, c.RequireTicket)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
