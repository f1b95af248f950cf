package resilience

import (
	"context"

	"github.com/openweald/weald/pkg/provider/dialogue"
)

// DialogueFallback implements [dialogue.Provider] with automatic failover
// across multiple speech backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried. Registering the scripted template table last gives NPCs a voice even
// with every model offline.
type DialogueFallback struct {
	group *FallbackGroup[dialogue.Provider]
}

// Compile-time interface assertion.
var _ dialogue.Provider = (*DialogueFallback)(nil)

// NewDialogueFallback creates a [DialogueFallback] with primary as the
// preferred backend.
func NewDialogueFallback(primary dialogue.Provider, primaryName string, cfg FallbackConfig) *DialogueFallback {
	return &DialogueFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional dialogue provider as a fallback.
func (f *DialogueFallback) AddFallback(name string, provider dialogue.Provider) {
	f.group.AddFallback(name, provider)
}

// Reply asks the first healthy provider for the NPC's next line. If the
// primary fails, subsequent fallbacks are tried.
func (f *DialogueFallback) Reply(ctx context.Context, req dialogue.Request) (string, error) {
	return ExecuteWithResult(f.group, func(p dialogue.Provider) (string, error) {
		return p.Reply(ctx, req)
	})
}

// ModelID returns the primary's model identifier. This does not participate
// in failover because it is static metadata.
func (f *DialogueFallback) ModelID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.ModelID()
	}
	return ""
}
