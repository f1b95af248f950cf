package perception

// Reaction-score adjustment constants. Bases come from the verb catalog;
// these shift them by how close and how legible the event was.
const (
	// closeTiles is the distance at which an event feels immediate.
	closeTiles = 2.0

	// farRatio is the distance ratio past which an event feels remote.
	farRatio = 0.7

	closeUrgencyBonus   = 15.0
	farUrgencyPenalty   = 10.0
	farThreatPenalty    = 10.0
	obscuredThreatBonus = 10.0
	obscuredInterest    = 15.0
)

// Score derives an event's threat, interest and urgency from the verb's base
// scores. Close events press harder; remote ones fade; an obscured
// impression is more unsettling than a clear one. All three clamp to
// [0, 100].
func Score(baseThreat, baseInterest, baseUrgency, distance, ratio float64, clarity Clarity) (threat, interest, urgency float64) {
	threat, interest, urgency = baseThreat, baseInterest, baseUrgency

	if distance <= closeTiles {
		urgency += closeUrgencyBonus
	} else if ratio > farRatio {
		urgency -= farUrgencyPenalty
		threat -= farThreatPenalty
	}
	if clarity == ClarityObscured {
		threat += obscuredThreatBonus
		interest += obscuredInterest
	}
	return clamp100(threat), clamp100(interest), clamp100(urgency)
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
