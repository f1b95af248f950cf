package witness

import (
	"strings"

	"github.com/openweald/weald/internal/action"
)

// Social interest contributions. The score decides whether an NPC joins a
// conversation it overheard (≥ JoinThreshold), listens in
// (≥ EavesdropThreshold), or ignores it.
const (
	JoinThreshold      = 70.0
	EavesdropThreshold = 40.0

	curiosityWeight    = 3.0
	shopkeeperStake    = 40.0
	directAddressBonus = 20.0
	distanceWeight     = 20.0
	keywordHit         = 20.0
	fondnessWeight     = 2.0
	gossipBonus        = 15.0
	suspicionBonus     = 15.0
	shoutBonus         = 10.0
)

// ScoreInput collects everything the social score looks at for one
// (observer, utterance) pair.
type ScoreInput struct {
	Curiosity         float64
	Profession        string
	InOwnShop         bool
	DirectlyAddressed bool

	Distance    float64
	VolumeRange float64 // max carry of the utterance's volume

	Message  string
	Keywords []string
	Fondness float64

	GossipTendency bool
	Suspiciousness bool
	Volume         string
}

// SocialScore computes the 0–100 interest an observer takes in an overheard
// utterance. Contributions are additive and the result clamps at 100.
func SocialScore(in ScoreInput) float64 {
	score := in.Curiosity * curiosityWeight

	if in.Profession == "shopkeeper" && in.InOwnShop {
		score += shopkeeperStake
		if in.DirectlyAddressed {
			score += directAddressBonus
		}
	}

	if in.VolumeRange > 0 {
		factor := 1 - in.Distance/in.VolumeRange
		if factor > 0 {
			score += factor * distanceWeight
		}
	}

	hits := keywordHits(in.Message, in.Keywords)
	score += float64(hits) * keywordHit
	score += in.Fondness * fondnessWeight

	if in.GossipTendency && hits > 0 {
		score += gossipBonus
	}
	if in.Suspiciousness && in.Volume == action.SubtypeWhisper {
		score += suspicionBonus
	}
	if in.Volume == action.SubtypeShout {
		score += shoutBonus
	}

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// keywordHits counts the keywords appearing in the message,
// case-insensitively, each keyword at most once.
func keywordHits(message string, keywords []string) int {
	if message == "" || len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(message)
	hits := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}
