package model

import "time"

// Team holds the spendable credit balance and the plan limits for a team.
// Credits and limits are mutated only by the credit service and the webhook
// reconciler; feature code reads them through the credit service.
type Team struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Credits             int       `db:"credits" json:"credits"`
	InfluencerLimit     int       `db:"influencer_limit" json:"influencer_limit"`
	ImageLimit          int       `db:"image_limit" json:"image_limit"`
	VideoLimit          int       `db:"video_limit" json:"video_limit"`
	ImagesUsedThisMonth int       `db:"images_used_this_month" json:"images_used_this_month"`
	VideosUsedThisMonth int       `db:"videos_used_this_month" json:"videos_used_this_month"`
	UsagePeriodStart    time.Time `db:"usage_period_start" json:"usage_period_start"`
	StripeCustomerID    *string   `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
