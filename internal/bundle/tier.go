package bundle

// Tier buckets a confidence value the way the desktop product surfaced it.
type Tier string

const (
	TierHigh       Tier = "high"       // 0.90 and above
	TierMedium     Tier = "medium"     // 0.60 - 0.90
	TierLow        Tier = "low"        // 0.30 - 0.60
	TierUnverified Tier = "unverified" // below 0.30
)

// Representative scores per tier, used when a collaborator supplies only a
// tier label.
const (
	tierHighScore       = 0.95
	tierMediumScore     = 0.75
	tierLowScore        = 0.45
	tierUnverifiedScore = 0.15
)

// TierOf maps a confidence in [0,1] to its tier.
func TierOf(confidence float64) Tier {
	switch {
	case confidence >= 0.9:
		return TierHigh
	case confidence >= 0.6:
		return TierMedium
	case confidence >= 0.3:
		return TierLow
	default:
		return TierUnverified
	}
}

// Score returns the tier's representative confidence value.
func (t Tier) Score() float64 {
	switch t {
	case TierHigh:
		return tierHighScore
	case TierMedium:
		return tierMediumScore
	case TierLow:
		return tierLowScore
	default:
		return tierUnverifiedScore
	}
}
