package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogueChanged is true when the dialogue provider or its fallback
	// chain changed; the NPC AI service rebuilds its fallback group.
	DialogueChanged bool

	// EmbeddingsChanged is true when the embeddings provider changed; the
	// journal writer swaps its embedder.
	EmbeddingsChanged bool
}

// Any reports whether the diff carries a change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DialogueChanged || d.EmbeddingsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; the store
// backend, slot, cadences, and server address need a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !entryEqual(old.Dialogue.Provider, new.Dialogue.Provider) ||
		len(old.Dialogue.Fallbacks) != len(new.Dialogue.Fallbacks) {
		d.DialogueChanged = true
	} else {
		for i := range old.Dialogue.Fallbacks {
			if !entryEqual(old.Dialogue.Fallbacks[i], new.Dialogue.Fallbacks[i]) {
				d.DialogueChanged = true
				break
			}
		}
	}

	if !entryEqual(old.Embeddings, new.Embeddings) {
		d.EmbeddingsChanged = true
	}

	return d
}

// entryEqual compares two provider entries including their options maps.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
