package domain

import "time"

// ClaimRecord binds one device fingerprint to the single account that
// claimed the startup bonus on it. Records are immutable once written;
// the document ID (claim:<fingerprint>) is the uniqueness guarantee.
type ClaimRecord struct {
	Fingerprint string    `json:"fingerprint"`
	AccountID   string    `json:"account_id"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

type ClaimStatus string

const (
	StatusClaimed               ClaimStatus = "claimed"
	StatusAlreadyClaimedDevice  ClaimStatus = "already_claimed_device"
	StatusAlreadyClaimedAccount ClaimStatus = "already_claimed_account"
)

type ClaimBonusRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,len=64,hexadecimal"`
}

type ClaimResult struct {
	Status         ClaimStatus `json:"status"`
	CreditsAwarded int64       `json:"credits_awarded"`
	Balance        int64       `json:"balance"`
}

type EligibilityReason string

const (
	ReasonDeviceAlreadyClaimed  EligibilityReason = "device_already_claimed"
	ReasonAccountAlreadyClaimed EligibilityReason = "account_already_claimed"
)

type EligibilityResult struct {
	Eligible bool              `json:"eligible"`
	Reason   EligibilityReason `json:"reason,omitempty"`
}
