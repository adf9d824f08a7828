package gateway

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/model"
)

// SSHDialer opens RouterOS SSH sessions. Each Run call uses a fresh exec
// channel on the shared connection, matching how RouterOS treats one command
// per SSH exec.
type SSHDialer struct {
	Defaults    Credentials
	DialTimeout time.Duration

	// Precheck, when set, runs before the TCP dial and short-circuits the
	// attempt when the device does not answer. Wired to the ICMP prober at
	// registration time.
	Precheck func(address string, port int) bool
}

func NewSSHDialer(defaults Credentials, dialTimeout time.Duration) *SSHDialer {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &SSHDialer{Defaults: defaults, DialTimeout: dialTimeout}
}

// Dial opens an SSH connection to the device using its inventory credentials,
// falling back to the configured defaults.
func (d *SSHDialer) Dial(ctx context.Context, dev model.Device) (Session, error) {
	user := dev.Username
	if user == "" {
		user = d.Defaults.Username
	}
	if user == "" {
		user = "admin"
	}

	var auth []ssh.AuthMethod
	keyFile := dev.SSHKeyPath
	if keyFile == "" {
		keyFile = d.Defaults.KeyFile
	}
	if keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key %s: %w", keyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key %s: %w", keyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	password := dev.Password
	if password == "" {
		password = d.Defaults.Password
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no credentials for device %s", dev.ID)
	}

	port := dev.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(dev.Address, strconv.Itoa(port))

	if d.Precheck != nil && !d.Precheck(dev.Address, port) {
		return nil, fmt.Errorf("device %s (%s) did not answer the reachability probe", dev.ID, addr)
	}

	cfg := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// Managed routers are provisioned out of band; host keys are not
		// tracked in the inventory yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.DialTimeout,
	}

	dialer := net.Dialer{Timeout: d.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	log.Debug("SSH session established", "device_id", dev.ID, "addr", addr, "user", user)
	return &sshSession{client: ssh.NewClient(sshConn, chans, reqs), deviceID: dev.ID}, nil
}

type sshSession struct {
	client   *ssh.Client
	deviceID string
}

type execOutcome struct {
	output []byte
	err    error
}

// Run executes one command in its own exec channel. On context expiry the
// underlying connection is torn down; RouterOS has no reliable way to cancel
// a single exec.
func (s *sshSession) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open exec channel: %w", err)
	}
	defer sess.Close()

	ch := make(chan execOutcome, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		ch <- execOutcome{out, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return string(res.output), fmt.Errorf("command failed on %s: %w", s.deviceID, res.err)
		}
		return string(res.output), nil
	case <-ctx.Done():
		s.client.Close()
		return "", fmt.Errorf("command timed out on %s: %w", s.deviceID, ctx.Err())
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
