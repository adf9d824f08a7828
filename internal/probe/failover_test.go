package probe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/inventory"
	"github.com/netforge-io/changerd/internal/model"
)

// scriptedSession answers /ping commands per target: "lost" targets never
// reply, "flaky" targets alternate.
type scriptedSession struct {
	lost  map[string]bool
	flaky map[string]bool
	calls map[string]int
}

func (s *scriptedSession) Run(ctx context.Context, cmd string) (string, error) {
	if !strings.HasPrefix(cmd, "/ping ") {
		return "", errors.New("unexpected command: " + cmd)
	}
	target := strings.Fields(cmd)[1]
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[target]++

	if s.lost[target] {
		return "sent=1 received=0 packet-loss=100%", nil
	}
	if s.flaky[target] && s.calls[target]%2 == 0 {
		return "sent=1 received=0 packet-loss=100%", nil
	}
	return "seq=0 size=56 ttl=56 time=12.5ms\nsent=1 received=1 packet-loss=0%", nil
}

func (s *scriptedSession) Close() error { return nil }

type sessionDialer struct {
	sess gateway.Session
	err  error
}

func (d *sessionDialer) Dial(ctx context.Context, dev model.Device) (gateway.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

func newTestProber(sess gateway.Session) *Prober {
	return New(Options{
		Inventory: inventory.FromDevices([]model.Device{
			{ID: "rtr-1", Address: "192.0.2.1"},
		}),
		Dialer:   &sessionDialer{sess: sess},
		LossWarn: 0.1,
		LossCrit: 0.5,
	})
}

func TestRunAllTargetsHealthy(t *testing.T) {
	p := newTestProber(&scriptedSession{})

	report, err := p.Run(context.Background(), Request{
		DeviceID: "rtr-1",
		Targets:  []string{"1.1.1.1", "8.8.8.8"},
		Count:    4,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if report.OverallStatus != model.ProbeOK {
		t.Errorf("overall = %s, want ok", report.OverallStatus)
	}
	if len(report.Targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(report.Targets))
	}
	for _, tgt := range report.Targets {
		if tgt.SuccessProbes != 4 || tgt.PacketLoss != 0 || tgt.Status != model.ProbeOK {
			t.Errorf("target %s = %+v", tgt.Target, tgt)
		}
		if tgt.AvgLatencyMS == nil || *tgt.AvgLatencyMS != 12.5 {
			t.Errorf("target %s latency = %v, want 12.5", tgt.Target, tgt.AvgLatencyMS)
		}
	}
}

func TestRunAllProbesLostIsCritical(t *testing.T) {
	p := newTestProber(&scriptedSession{lost: map[string]bool{"203.0.113.1": true}})

	report, err := p.Run(context.Background(), Request{
		DeviceID: "rtr-1",
		Targets:  []string{"203.0.113.1"},
		Count:    4,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	tgt := report.Targets[0]
	if tgt.SuccessProbes != 0 || tgt.PacketLoss != 1 {
		t.Errorf("target = %+v", tgt)
	}
	if tgt.Status != model.ProbeCritical {
		t.Errorf("status = %s, want critical", tgt.Status)
	}
	if tgt.AvgLatencyMS != nil {
		t.Errorf("latency = %v, want nil with zero successes", *tgt.AvgLatencyMS)
	}
	if report.OverallStatus != model.ProbeCritical {
		t.Errorf("overall = %s, want critical", report.OverallStatus)
	}
}

func TestRunWorstTargetWins(t *testing.T) {
	p := newTestProber(&scriptedSession{flaky: map[string]bool{"8.8.8.8": true}})

	report, err := p.Run(context.Background(), Request{
		DeviceID: "rtr-1",
		Targets:  []string{"1.1.1.1", "8.8.8.8"},
		Count:    4,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Half the probes to the flaky target fail: loss 0.5 is critical.
	if report.OverallStatus != model.ProbeCritical {
		t.Errorf("overall = %s, want critical", report.OverallStatus)
	}
	if report.Targets[0].Status != model.ProbeOK {
		t.Errorf("healthy target status = %s, want ok", report.Targets[0].Status)
	}
}

func TestRunDefaultsAndClamps(t *testing.T) {
	sess := &scriptedSession{}
	p := newTestProber(sess)

	report, err := p.Run(context.Background(), Request{DeviceID: "rtr-1", Count: 500})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(report.Targets) != len(DefaultTargets) {
		t.Errorf("targets = %d, want defaults", len(report.Targets))
	}
	for _, tgt := range report.Targets {
		if tgt.TotalProbes != MaxCount {
			t.Errorf("target %s probes = %d, want clamped to %d", tgt.Target, tgt.TotalProbes, MaxCount)
		}
	}
}

func TestRunCountBelowOneTakesDefault(t *testing.T) {
	// JSON cannot tell an omitted count from an explicit zero, so both get
	// the default ping count rather than the clamp floor.
	for _, count := range []int{0, -3} {
		sess := &scriptedSession{}
		p := newTestProber(sess)

		report, err := p.Run(context.Background(), Request{
			DeviceID: "rtr-1",
			Targets:  []string{"1.1.1.1"},
			Count:    count,
		})
		if err != nil {
			t.Fatalf("Run(count=%d) error: %v", count, err)
		}
		if got := report.Targets[0].TotalProbes; got != defaultCount {
			t.Errorf("count=%d probes = %d, want default %d", count, got, defaultCount)
		}
	}
}

func TestRunDedupesAndCapsTargets(t *testing.T) {
	sess := &scriptedSession{}
	p := newTestProber(sess)

	targets := []string{
		"1.1.1.1", "1.1.1.1", " 1.1.1.1 ", "2.2.2.2", "3.3.3.3", "4.4.4.4",
		"5.5.5.5", "6.6.6.6", "7.7.7.7", "8.8.8.8", "9.9.9.9", "10.10.10.10",
	}
	report, err := p.Run(context.Background(), Request{DeviceID: "rtr-1", Targets: targets, Count: 1})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(report.Targets) != MaxTargets {
		t.Errorf("targets = %d, want capped at %d", len(report.Targets), MaxTargets)
	}
	if report.Targets[0].Target != "1.1.1.1" {
		t.Errorf("first target = %s, want 1.1.1.1", report.Targets[0].Target)
	}
}

func TestRunUnknownDevice(t *testing.T) {
	p := newTestProber(&scriptedSession{})
	if _, err := p.Run(context.Background(), Request{DeviceID: "rtr-9"}); !errors.Is(err, inventory.ErrDeviceNotFound) {
		t.Errorf("Run() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestParsePing(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantOK  bool
		wantLat float64
	}{
		{"reply with time", "seq=0 size=56 ttl=56 time=3.2ms\nsent=1 received=1 packet-loss=0%", true, 3.2},
		{"reply without time", "sent=1 received=1 packet-loss=0%", true, 0},
		{"timeout", "sent=1 received=0 packet-loss=100%", false, 0},
		{"garbage", "failure: unknown host", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, lat := parsePing(tt.output)
			if ok != tt.wantOK || lat != tt.wantLat {
				t.Errorf("parsePing() = (%v, %v), want (%v, %v)", ok, lat, tt.wantOK, tt.wantLat)
			}
		})
	}
}
