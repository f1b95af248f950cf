// Package dialogue defines the Provider interface for NPC speech backends.
//
// A dialogue provider turns a conversational prompt (who the NPC is, what it
// currently knows, what was just said to it) into one spoken reply. Backends
// range from hosted LLM APIs to local models; the scripted template table in
// the NPC AI layer satisfies the same interface as a last-resort fallback.
//
// Implementations must be safe for concurrent use.
package dialogue

import "context"

// Turn is one line of the exchange being replied to, oldest first.
type Turn struct {
	// Speaker is the display name or reference of who spoke. Ignored when
	// Self is true.
	Speaker string

	// Self marks lines spoken by the replying NPC itself.
	Self bool

	Text string
}

// Request carries everything a backend needs to produce one NPC reply.
type Request struct {
	// Persona describes the speaker: who they are, how they talk, what
	// they care about. Injected as the system instruction.
	Persona string

	// Briefing is the NPC's current working-memory rendering; it gives
	// the model the world state the reply must be consistent with.
	Briefing string

	// Turns is the exchange so far. The last turn is the line being
	// answered and must not be empty.
	Turns []Turn

	// Temperature controls output randomness; zero means the backend
	// default.
	Temperature float64

	// MaxTokens caps the reply length; zero means the backend default.
	MaxTokens int
}

// Provider is the abstraction over any dialogue backend.
type Provider interface {
	// Reply produces the NPC's next spoken line. The reply is plain
	// speech with no stage directions or markup; trimming and length
	// policy are the backend's responsibility.
	Reply(ctx context.Context, req Request) (string, error)

	// ModelID identifies the underlying model for logging.
	ModelID() string
}
