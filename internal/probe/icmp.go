package probe

import (
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Reachability is the local pre-check used before opening a live device
// session. ICMP needs privileges; without them we fall back to a TCP dial
// against the management port.
type Reachability struct {
	Timeout time.Duration
}

func NewReachability(timeout time.Duration) *Reachability {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Reachability{Timeout: timeout}
}

// Check reports whether the address answers an ICMP echo or, failing that,
// accepts a TCP connection on the given port.
func (r *Reachability) Check(address string, port int) bool {
	if r.pingOnce(address) {
		return true
	}
	return r.tcpProbe(address, port)
}

func (r *Reachability) pingOnce(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return false
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		// Typically EPERM when running unprivileged.
		return false
	}
	defer conn.Close()

	message := icmp.Message{
		Type: ipv4.ICMPTypeEcho, Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("changerd-ping"),
		},
	}
	data, err := message.Marshal(nil)
	if err != nil {
		return false
	}

	if err := conn.SetDeadline(time.Now().Add(r.Timeout)); err != nil {
		return false
	}
	if _, err := conn.WriteTo(data, &net.IPAddr{IP: ip}); err != nil {
		return false
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return false
	}
	rm, err := icmp.ParseMessage(1, reply[:n])
	if err != nil {
		return false
	}
	return rm.Type == ipv4.ICMPTypeEchoReply
}

func (r *Reachability) tcpProbe(address string, port int) bool {
	if port == 0 {
		port = 22
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), r.Timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
