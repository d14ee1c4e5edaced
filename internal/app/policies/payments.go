package policies

import (
	"context"
	"fmt"

	"staybook/internal/domain/shared/money"
)

// ChargeGateway moves money from a payment source to a host wallet. An acknowledged
// charge is irreversible; callers never retry it.
type ChargeGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeReceipt, error)
}

type ChargeRequest struct {
	Amount      money.Money
	Source      string
	Destination string
	// Reference ties the charge to the booking it pays for.
	Reference   string
	Description string
}

type ChargeReceipt struct {
	ID     string
	Amount money.Money
}

// ChargeError is a processor-side refusal. Message is the processor's own text.
type ChargeError struct {
	Code    string
	Message string
}

func (e *ChargeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payments: %s", e.Message)
	}
	return fmt.Sprintf("payments: %s (%s)", e.Message, e.Code)
}
