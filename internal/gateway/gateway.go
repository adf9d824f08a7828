// Package gateway opens command sessions to managed devices. The executor
// only sees the Dialer and Session interfaces; the concrete RouterOS SSH
// transport is registered through the feature registry.
package gateway

import (
	"context"

	"github.com/netforge-io/changerd/internal/model"
)

// Session is an open command channel to one device. Implementations must be
// safe to Close more than once.
type Session interface {
	// Run executes a single command and returns its combined output. The
	// context bounds the command; a cancelled context aborts the command
	// and poisons the session.
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens sessions. Dial must respect the context deadline.
type Dialer interface {
	Dial(ctx context.Context, dev model.Device) (Session, error)
}

// Credentials are the fallback device credentials used when an inventory
// entry carries none of its own.
type Credentials struct {
	Username string
	Password string
	KeyFile  string
}
