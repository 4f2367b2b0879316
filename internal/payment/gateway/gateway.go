// Package gateway wraps the external hosted-checkout provider. The engine
// only needs charge creation; confirmation arrives out-of-band through the
// webhook carrying back the metadata attached here.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrChargeFailed  = errors.New("gateway_charge_failed")
	ErrInvalidCharge = errors.New("gateway_invalid_charge_request")
	ErrNotConfigured = errors.New("gateway_not_configured")
)

type CreateChargeRequest struct {
	Description string
	Amount      float64
	Currency    string
	Metadata    map[string]any
	RedirectURL string
	CancelURL   string
}

// Charge is the provider's handle on a created checkout: an opaque id and
// the hosted payment page URL.
type Charge struct {
	ID  string
	URL string
}

type Gateway interface {
	CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error)
}
