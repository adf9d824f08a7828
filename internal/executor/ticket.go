package executor

import (
	"errors"
	"strings"
)

// ErrTicketRequired is returned when change control policy demands a ticket
// and the request carries none.
var ErrTicketRequired = errors.New("change ticket required")

// TicketGate enforces the change-control policy: live applies and manual
// rollbacks need a ticket reference when the policy is on. Dry runs never do.
type TicketGate struct {
	Required bool
}

// Authorize checks the ticket for a live operation. The ticket value is an
// opaque reference; validation against the ticketing system happens upstream.
func (g TicketGate) Authorize(ticket string, live bool) error {
	if !live || !g.Required {
		return nil
	}
	if strings.TrimSpace(ticket) == "" {
		return ErrTicketRequired
	}
	return nil
}
