package payments

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"staybook/internal/app/policies"
)

// Sandbox sources with fixed outcomes. Any other non-empty source succeeds.
const (
	SourceDecline      = "tok_decline"
	SourceInsufficient = "tok_insufficient_funds"
	SourceUnavailable  = "tok_unavailable"
)

var ErrSandboxUnavailable = errors.New("payments: sandbox processor unavailable")

// Sandbox is an in-process processor for development. Successful charges are kept so
// they can be inspected.
type Sandbox struct {
	mu      sync.Mutex
	charges []SandboxCharge
}

type SandboxCharge struct {
	ID      string
	Request policies.ChargeRequest
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Charge(ctx context.Context, req policies.ChargeRequest) (policies.ChargeReceipt, error) {
	if err := ctx.Err(); err != nil {
		return policies.ChargeReceipt{}, err
	}
	switch strings.TrimSpace(req.Source) {
	case "":
		return policies.ChargeReceipt{}, &policies.ChargeError{Code: "missing_source", Message: "A payment source is required."}
	case SourceDecline:
		return policies.ChargeReceipt{}, &policies.ChargeError{Code: "card_declined", Message: "Your card was declined."}
	case SourceInsufficient:
		return policies.ChargeReceipt{}, &policies.ChargeError{Code: "insufficient_funds", Message: "Your card has insufficient funds."}
	case SourceUnavailable:
		return policies.ChargeReceipt{}, ErrSandboxUnavailable
	}
	if strings.TrimSpace(req.Destination) == "" {
		return policies.ChargeReceipt{}, &policies.ChargeError{Code: "invalid_destination", Message: "The destination account is not connected."}
	}
	if !req.Amount.IsPositive() {
		return policies.ChargeReceipt{}, &policies.ChargeError{Code: "invalid_amount", Message: "The amount must be positive."}
	}
	id := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.charges = append(s.charges, SandboxCharge{ID: id, Request: req})
	s.mu.Unlock()
	return policies.ChargeReceipt{ID: id, Amount: req.Amount}, nil
}

func (s *Sandbox) Charges() []SandboxCharge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SandboxCharge(nil), s.charges...)
}

var _ policies.ChargeGateway = (*Sandbox)(nil)
