package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/netforge-io/changerd/internal/model"
)

const (
	oidSysDescr  = ".1.3.6.1.2.1.1.1.0"
	oidSysUptime = ".1.3.6.1.2.1.1.3.0"
	oidSysName   = ".1.3.6.1.2.1.1.5.0"
)

// SNMPFacts reads basic system facts from a device over SNMP v2c. It is used
// to enrich failover reports; a device that answers SNMP but not SSH is a
// useful diagnostic signal on its own.
type SNMPFacts struct {
	Community string
	Timeout   time.Duration
}

func NewSNMPFacts(community string) *SNMPFacts {
	return &SNMPFacts{Community: community, Timeout: 5 * time.Second}
}

// Enabled reports whether an SNMP community is configured.
func (s *SNMPFacts) Enabled() bool {
	return s != nil && s.Community != ""
}

// Fetch queries sysName, sysDescr and sysUpTime.
func (s *SNMPFacts) Fetch(ctx context.Context, dev model.Device) (*model.DeviceFacts, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("SNMP is not configured")
	}

	client := &gosnmp.GoSNMP{
		Target:    dev.Address,
		Port:      161,
		Community: s.Community,
		Version:   gosnmp.Version2c,
		Timeout:   s.Timeout,
		Retries:   1,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("SNMP connect to %s failed: %w", dev.Address, err)
	}
	defer client.Conn.Close()

	res, err := client.Get([]string{oidSysName, oidSysDescr, oidSysUptime})
	if err != nil {
		return nil, fmt.Errorf("SNMP get from %s failed: %w", dev.Address, err)
	}

	facts := &model.DeviceFacts{}
	for _, v := range res.Variables {
		switch strings.TrimPrefix(v.Name, ".") {
		case strings.TrimPrefix(oidSysName, "."):
			facts.SysName = octetString(v)
		case strings.TrimPrefix(oidSysDescr, "."):
			facts.SysDescr = octetString(v)
		case strings.TrimPrefix(oidSysUptime, "."):
			// sysUpTime is in hundredths of a second.
			facts.UptimeSec = int64(gosnmp.ToBigInt(v.Value).Int64() / 100)
		}
	}
	return facts, nil
}

func octetString(v gosnmp.SnmpPDU) string {
	if b, ok := v.Value.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v.Value)
}
