// Package payment defines the boundary to the external payment authority.
// The provider's protocol is deliberately out of scope: all the order flow
// needs is approved-or-declined plus a reference id for the charge.
package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Authority confirms a charge before an order may transition to paid.
type Authority interface {
	Charge(ctx context.Context, orderNumber string, amount decimal.Decimal) (reference string, approved bool, err error)
}

// Sandbox approves every charge. It stands in for a real provider in
// development deployments.
type Sandbox struct{}

func (Sandbox) Charge(ctx context.Context, orderNumber string, amount decimal.Decimal) (string, bool, error) {
	return "sandbox-" + uuid.NewString(), true, nil
}
