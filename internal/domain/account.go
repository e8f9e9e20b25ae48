package domain

import "time"

type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email        string    `json:"email" validate:"required,email"`
	Password     string    `json:"password,omitempty"` // Save to DB but omit from responses when empty
	Credits      int64     `json:"credits"`
	BonusClaimed bool      `json:"bonus_claimed"`
	// BonusFingerprint is the device fingerprint whose claim record the
	// bonus was credited against. Written atomically with BonusClaimed;
	// it lets a racing claim tell whether the credit belongs to its own
	// record or to a claim on another device.
	BonusFingerprint string `json:"bonus_fingerprint,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Account      *Account `json:"account"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// UpdateProfileRequest carries the account fields a client may change.
// Credits and the bonus flag are not among them; the repository refuses
// to write them outside the claim path regardless of what the body says.
type UpdateProfileRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30,alphanum"`
}
