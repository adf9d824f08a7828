// Package enterprise provides the premium features of changerd. Importing it
// registers the RouterOS SSH transport, which unlocks live execution; the
// open-core build compiles without it and stays dry-run only.
package enterprise

import (
	"time"

	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/probe"
	"github.com/netforge-io/changerd/internal/registry"
)

func init() {
	reg := registry.GetRegistry()

	reg.RegisterDialer("routeros-ssh", func(defaults gateway.Credentials, dialTimeout time.Duration) gateway.Dialer {
		d := gateway.NewSSHDialer(defaults, dialTimeout)
		d.Precheck = probe.NewReachability(dialTimeout).Check
		return d
	})

	reg.EnableFeature("live-execution")
	reg.EnableFeature("failover-probes")
	reg.EnableFeature("back-to-home")
}
