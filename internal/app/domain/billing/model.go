// Package billing defines the credit account and usage audit domain model.
package billing

import "time"

// Plan is a subscription tier. Any tier other than free is treated as
// unlimited and bypasses the credit balance entirely.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanCreator Plan = "creator"
	PlanAgency  Plan = "agency"
)

// Unlimited reports whether the plan bypasses credit accounting.
func (p Plan) Unlimited() bool {
	return p != "" && p != PlanFree
}

// Account is a user's credit balance and plan tier.
type Account struct {
	UserID    string    `json:"user_id"`
	Credits   int       `json:"credits"`
	Plan      Plan      `json:"plan"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageEntry is one append-only audit record for a billable operation.
type UsageEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Service     string    `json:"service"`
	CreditsUsed int       `json:"credits_used"`
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}
