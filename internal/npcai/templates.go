package npcai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openweald/weald/pkg/provider/dialogue"
)

// template pairs a message pattern with a canned reply. Replies containing
// %s get the speaker's name.
type template struct {
	re    *regexp.Regexp
	reply string
}

// scriptedTable is consulted before any model: common exchanges deserve an
// instant answer, and they double as the last-resort voice when every
// dialogue backend is down.
var scriptedTable = []template{
	{regexp.MustCompile(`(?i)\b(hello|hi|greetings|hail|well met|good (morning|day|evening))\b`),
		"Well met, %s."},
	{regexp.MustCompile(`(?i)\b(goodbye|bye|farewell|see you|later|until)\b`),
		"Safe travels, %s."},
	{regexp.MustCompile(`(?i)\b(thanks|thank you|much obliged)\b`),
		"Think nothing of it."},
	{regexp.MustCompile(`(?i)\b(buy|sell|price|wares|trade|coin)\b`),
		"Have a look at the wares, %s, and mind the prices are fair."},
	{regexp.MustCompile(`(?i)\b(where|which way|directions|looking for)\b`),
		"Can't say I know the way myself. Ask around the square."},
	{regexp.MustCompile(`(?i)\b(help|trouble|danger)\b`),
		"Steady now. What's happened?"},
}

// shrugLines answer anything the table does not cover. Picked by message
// length so the same line repeats for the same utterance.
var shrugLines = []string{
	"Hm.",
	"Is that so.",
	"If you say so, %s.",
	"Mm. Busy day.",
}

// Compile-time interface check.
var _ dialogue.Provider = (*Scripted)(nil)

// Scripted is the template-table dialogue backend. It answers from
// [scriptedTable] and shrugs at everything else, so it never fails; register
// it last in a fallback group.
type Scripted struct{}

// NewScripted returns the scripted backend.
func NewScripted() *Scripted { return &Scripted{} }

// Lookup returns the canned reply for message, if the table has one.
func (s *Scripted) Lookup(message, speaker string) (string, bool) {
	if speaker == "" {
		speaker = "friend"
	}
	for _, t := range scriptedTable {
		if t.re.MatchString(message) {
			return fill(t.reply, speaker), true
		}
	}
	return "", false
}

// Reply implements dialogue.Provider. It never returns an error.
func (s *Scripted) Reply(_ context.Context, req dialogue.Request) (string, error) {
	var speaker, message string
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if !req.Turns[i].Self {
			speaker, message = req.Turns[i].Speaker, req.Turns[i].Text
			break
		}
	}
	if reply, ok := s.Lookup(message, speaker); ok {
		return reply, nil
	}
	if speaker == "" {
		speaker = "friend"
	}
	return fill(shrugLines[len(message)%len(shrugLines)], speaker), nil
}

// ModelID implements dialogue.Provider.
func (s *Scripted) ModelID() string { return "scripted-templates" }

func fill(reply, speaker string) string {
	if strings.Contains(reply, "%s") {
		return fmt.Sprintf(reply, speaker)
	}
	return reply
}
