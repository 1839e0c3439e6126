package domain

// ChallengeType classifies a challenge template.
type ChallengeType string

const (
	ChallengeDaily  ChallengeType = "daily"
	ChallengeFocus  ChallengeType = "focus"
	ChallengeSocial ChallengeType = "social"
)

// Valid reports whether t is one of the known challenge types.
func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeDaily, ChallengeFocus, ChallengeSocial:
		return true
	}
	return false
}

// ChallengeTemplate is an immutable catalog entry describing a challenge.
// Templates are created and edited by the catalog collaborator; the core
// only reads them.
type ChallengeTemplate struct {
	TemplateID      string        `json:"template_id"`
	Type            ChallengeType `json:"type"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	RewardCoins     int64         `json:"reward_coins"`
	DurationMinutes int           `json:"duration_minutes"`
	Active          bool          `json:"active"`
}

// DefaultTemplates returns the starter catalog seeded on first boot when the
// catalog collaborator has not yet provisioned any templates.
func DefaultTemplates() []*ChallengeTemplate {
	return []*ChallengeTemplate{
		{
			TemplateID:      "daily-screen-break",
			Type:            ChallengeDaily,
			Title:           "Daily Screen Break",
			Description:     "Stay off your phone for 30 minutes.",
			RewardCoins:     50,
			DurationMinutes: 30,
			Active:          true,
		},
		{
			TemplateID:      "focus-deep-work",
			Type:            ChallengeFocus,
			Title:           "Deep Work Block",
			Description:     "A distraction-free focus block of your chosen length.",
			RewardCoins:     100,
			DurationMinutes: 60,
			Active:          true,
		},
		{
			TemplateID:      "social-dinner",
			Type:            ChallengeSocial,
			Title:           "Phone-Free Dinner",
			Description:     "Share a meal without screens.",
			RewardCoins:     75,
			DurationMinutes: 45,
			Active:          true,
		},
	}
}
