package dto

// CheckoutRequest starts a Stripe Checkout session for a plan.
type CheckoutRequest struct {
	TeamID string `json:"team_id" validate:"required"`
	Plan   string `json:"plan" validate:"required"`
}
