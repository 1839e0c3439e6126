package domain

import "time"

// Profile holds a user's running economy state. Coins, streak and avatar
// energy are mutated only by the reward ledger; the premium flag is owned by
// the billing collaborator.
type Profile struct {
	UserID       string    `json:"user_id"`
	Coins        int64     `json:"coins"`
	Streak       int64     `json:"streak"`
	AvatarEnergy int       `json:"avatar_energy"`
	IsPremium    bool      `json:"is_premium"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultAvatarEnergy is the energy a fresh profile starts with.
const DefaultAvatarEnergy = 50
