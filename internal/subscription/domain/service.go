package domain

import (
	"context"
	"errors"

	"github.com/stashworks/jobhub/internal/pricing"
)

// Result is the uniform outcome of every billing operation. Business
// conditions come back as Success=false with a descriptive Message; errors
// are reserved for infrastructure faults.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func Ok(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func Fail(message string) Result {
	return Result{Success: false, Message: message}
}

// InitiateRequest asks for a billable action on behalf of an org owner.
type InitiateRequest struct {
	OrgID     string            `json:"org_id"`
	Wallet    string            `json:"wallet"`
	Email     string            `json:"email"`
	Action    Action            `json:"action"`
	Selection pricing.Selection `json:"selection"`
}

// ConfirmRequest reconciles a gateway confirmation with its pending
// payment. Reference is the gateway charge id echoed back by the webhook.
type ConfirmRequest struct {
	OrgID     string `json:"org_id"`
	Wallet    string `json:"wallet"`
	Reference string `json:"reference"`
}

// UsageRequest records metered-service consumption.
type UsageRequest struct {
	OrgID   string  `json:"org_id"`
	Wallet  string  `json:"wallet"`
	Service string  `json:"service"`
	Amount  float64 `json:"amount"`
}

type Service interface {
	// Initiate prices the request and either applies it directly (free
	// tier) or opens a gateway charge and parks a pending payment. The
	// success Data carries checkout_url for paid flows.
	Initiate(ctx context.Context, req InitiateRequest) (Result, error)
	// Confirm consumes the matching pending payment and applies the parked
	// action inside one transaction.
	Confirm(ctx context.Context, req ConfirmRequest) (Result, error)
	Cancel(ctx context.Context, orgID, wallet string) (Result, error)
	Reactivate(ctx context.Context, orgID, wallet string) (Result, error)
	// Reset tears down the organization's entire billing relationship.
	// Owner-gated like every other billing mutation.
	Reset(ctx context.Context, orgID, wallet string) (Result, error)
}

var (
	ErrNotOrgOwner          = errors.New("not_org_owner")
	ErrNotOrgMember         = errors.New("not_org_member")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionExists   = errors.New("subscription_exists")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrFreeTierNotBillable  = errors.New("free_tier_not_billable")
	ErrNoopChange           = errors.New("noop_change")
	ErrQuotaExhausted       = errors.New("quota_exhausted")
	ErrServiceNotEntitled   = errors.New("service_not_entitled")
	ErrInvalidAction        = errors.New("invalid_action")
)

// PendingPaymentExistsPredicate names the deferred-email predicate the
// billing engine registers: "does a pending payment still exist for this
// org and wallet". Reminder emails for a settled or abandoned checkout
// suppress themselves through it.
const PendingPaymentExistsPredicate = "pending_payment_exists"
