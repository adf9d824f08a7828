// Package probe runs failover reachability tests. Probes go through the
// device itself so the measured path is the customer's, not the daemon's.
package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/inventory"
	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
)

const (
	// MaxTargets caps a single failover test.
	MaxTargets = 8
	// MaxCount caps probes per target.
	MaxCount     = 20
	defaultCount = 4
)

// DefaultTargets are probed when a request names none.
var DefaultTargets = []string{"1.1.1.1", "8.8.8.8"}

// Options wires a Prober.
type Options struct {
	Inventory      *inventory.Inventory
	Dialer         gateway.Dialer
	Facts          *gateway.SNMPFacts
	LossWarn       float64
	LossCrit       float64
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// Prober issues ping bursts from a device toward upstream targets and
// classifies the result.
type Prober struct {
	inv         *inventory.Inventory
	dialer      gateway.Dialer
	facts       *gateway.SNMPFacts
	lossWarn    float64
	lossCrit    float64
	dialTimeout time.Duration
	cmdTimeout  time.Duration
}

func New(opts Options) *Prober {
	p := &Prober{
		inv:         opts.Inventory,
		dialer:      opts.Dialer,
		facts:       opts.Facts,
		lossWarn:    opts.LossWarn,
		lossCrit:    opts.LossCrit,
		dialTimeout: opts.DialTimeout,
		cmdTimeout:  opts.CommandTimeout,
	}
	if p.lossWarn <= 0 {
		p.lossWarn = 0.1
	}
	if p.lossCrit <= 0 {
		p.lossCrit = 0.5
	}
	if p.dialTimeout <= 0 {
		p.dialTimeout = 10 * time.Second
	}
	if p.cmdTimeout <= 0 {
		p.cmdTimeout = 15 * time.Second
	}
	return p
}

// Request describes one failover test.
type Request struct {
	DeviceID string
	Targets  []string
	Count    int
}

// Run probes every target through the device and returns the synchronous
// report. Failover tests are diagnostics and never produce change records.
func (p *Prober) Run(ctx context.Context, req Request) (*model.FailoverReport, error) {
	dev, err := p.inv.Get(req.DeviceID)
	if err != nil {
		return nil, err
	}
	if p.dialer == nil {
		return nil, fmt.Errorf("no device transport available")
	}

	targets := dedupeTargets(req.Targets)
	if len(targets) == 0 {
		targets = DefaultTargets
	}
	if len(targets) > MaxTargets {
		targets = targets[:MaxTargets]
	}

	// A JSON request cannot distinguish an omitted count from an explicit
	// zero, so anything below 1 takes the default rather than the clamp
	// floor; only the upper bound clamps.
	count := req.Count
	if count < 1 {
		count = defaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	sess, err := p.dialer.Dial(dialCtx, dev)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("session failed: %w", err)
	}
	defer sess.Close()

	report := &model.FailoverReport{
		GeneratedAt:   time.Now().UTC(),
		OverallStatus: model.ProbeOK,
	}

	for _, target := range targets {
		t := p.probeTarget(ctx, sess, target, count)
		report.Targets = append(report.Targets, t)
		report.OverallStatus = report.OverallStatus.Worse(t.Status)
	}

	if p.facts.Enabled() {
		factsCtx, cancel := context.WithTimeout(ctx, p.cmdTimeout)
		facts, err := p.facts.Fetch(factsCtx, dev)
		cancel()
		if err != nil {
			log.Debug("SNMP facts unavailable", "device_id", dev.ID, "error", err)
		} else {
			report.Device = facts
		}
	}

	log.Info("Failover test completed",
		"device_id", dev.ID, "targets", len(targets), "count", count,
		"status", string(report.OverallStatus))
	return report, nil
}

// probeTarget issues count single-shot pings so one long stall cannot eat
// the whole burst.
func (p *Prober) probeTarget(ctx context.Context, sess gateway.Session, target string, count int) model.FailoverTarget {
	t := model.FailoverTarget{Target: target, TotalProbes: count}
	var latencySum float64

	for i := 0; i < count; i++ {
		cmdCtx, cancel := context.WithTimeout(ctx, p.cmdTimeout)
		out, err := sess.Run(cmdCtx, fmt.Sprintf("/ping %s count=1", target))
		cancel()
		if err != nil {
			continue
		}
		ok, latency := parsePing(out)
		if !ok {
			continue
		}
		t.SuccessProbes++
		latencySum += latency
	}

	t.PacketLoss = 1 - float64(t.SuccessProbes)/float64(t.TotalProbes)
	if t.SuccessProbes > 0 {
		avg := latencySum / float64(t.SuccessProbes)
		t.AvgLatencyMS = &avg
	}

	switch {
	case t.PacketLoss >= p.lossCrit:
		t.Status = model.ProbeCritical
	case t.PacketLoss > p.lossWarn:
		t.Status = model.ProbeWarning
	default:
		t.Status = model.ProbeOK
	}
	return t
}

var (
	pingReceivedRe = regexp.MustCompile(`received=(\d+)`)
	pingTimeRe     = regexp.MustCompile(`time=([0-9.]+)\s*ms`)
)

// parsePing reads RouterOS /ping output for a count=1 burst. A probe counts
// as successful when the reply summary reports received=1; latency comes
// from the per-reply time field when present.
func parsePing(output string) (bool, float64) {
	m := pingReceivedRe.FindStringSubmatch(output)
	if m == nil {
		return false, 0
	}
	received, err := strconv.Atoi(m[1])
	if err != nil || received < 1 {
		return false, 0
	}
	if tm := pingTimeRe.FindStringSubmatch(output); tm != nil {
		if ms, err := strconv.ParseFloat(tm[1], 64); err == nil {
			return true, ms
		}
	}
	return true, 0
}

func dedupeTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	var out []string
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
