package model

import "time"

// ProbeStatus classifies packet loss for one target or a whole report.
type ProbeStatus string

const (
	ProbeOK       ProbeStatus = "ok"
	ProbeWarning  ProbeStatus = "warning"
	ProbeCritical ProbeStatus = "critical"
)

// Worse returns the more severe of two probe statuses.
func (s ProbeStatus) Worse(other ProbeStatus) ProbeStatus {
	rank := func(p ProbeStatus) int {
		switch p {
		case ProbeCritical:
			return 2
		case ProbeWarning:
			return 1
		default:
			return 0
		}
	}
	if rank(other) > rank(s) {
		return other
	}
	return s
}

// FailoverTarget aggregates the probes issued against one target through a
// device's network path.
type FailoverTarget struct {
	Target        string      `json:"target"`
	TotalProbes   int         `json:"total_probes"`
	SuccessProbes int         `json:"success_probes"`
	PacketLoss    float64     `json:"packet_loss"`
	AvgLatencyMS  *float64    `json:"avg_latency_ms"`
	Status        ProbeStatus `json:"status"`
}

// DeviceFacts is the SNMP identity snapshot attached to failover reports when
// the facts prober is configured.
type DeviceFacts struct {
	SysName   string `json:"sys_name,omitempty"`
	SysDescr  string `json:"sys_descr,omitempty"`
	UptimeSec int64  `json:"uptime_sec,omitempty"`
}

// FailoverReport is returned synchronously to the caller and never persisted
// as a ChangeRecord.
type FailoverReport struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	OverallStatus ProbeStatus      `json:"overall_status"`
	Targets       []FailoverTarget `json:"targets"`
	Device        *DeviceFacts     `json:"device,omitempty"`
}
