package domain

// Avatar energy bounds.
const (
	MinAvatarEnergy = 0
	MaxAvatarEnergy = 100
)

// Per-type energy deltas. Tunable policy; the structural contract is only
// determinism and the [0,100] clamp.
const (
	dailyEnergyDelta  = 10
	focusEnergyDelta  = 15
	socialEnergyDelta = 5
)

// NextEnergy maps the current avatar energy and a completed challenge type
// to the new energy value. Pure and deterministic; the result is always
// within [MinAvatarEnergy, MaxAvatarEnergy].
func NextEnergy(current int, t ChallengeType) int {
	delta := 0
	switch t {
	case ChallengeDaily:
		delta = dailyEnergyDelta
	case ChallengeFocus:
		delta = focusEnergyDelta
	case ChallengeSocial:
		delta = socialEnergyDelta
	}
	return clampEnergy(current + delta)
}

func clampEnergy(v int) int {
	if v < MinAvatarEnergy {
		return MinAvatarEnergy
	}
	if v > MaxAvatarEnergy {
		return MaxAvatarEnergy
	}
	return v
}
