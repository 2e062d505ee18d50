package dto

// SpendRequest is the feature-usage spend contract: feature code commits to
// a paid action and records the deduction with attribution metadata.
type SpendRequest struct {
	TeamID       string  `json:"team_id" validate:"required"`
	Amount       int     `json:"amount" validate:"gte=0"`
	SpendingType *string `json:"spending_type,omitempty"`
	InfluencerID *string `json:"influencer_id,omitempty"`
	PostID       *string `json:"post_id,omitempty"`
	Platform     *string `json:"platform,omitempty"`
}

// InsufficientCreditsResponse is the classified "buy more credits" signal.
// The code field lets the UI route to a purchase flow instead of a generic
// error toast.
type InsufficientCreditsResponse struct {
	Code      string `json:"code"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// ErrorCodeInsufficientCredits tags InsufficientCreditsResponse payloads.
const ErrorCodeInsufficientCredits = "insufficient_credits"
