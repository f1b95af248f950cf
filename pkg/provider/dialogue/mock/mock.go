// Package mock provides a test double for the dialogue.Provider interface.
//
// Use Provider to return pre-canned replies without a live model and to
// verify what prompts were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/openweald/weald/pkg/provider/dialogue"
)

// Compile-time interface check.
var _ dialogue.Provider = (*Provider)(nil)

// ReplyCall records a single invocation of Reply.
type ReplyCall struct {
	// Ctx is the context passed to Reply.
	Ctx context.Context
	// Req is the request passed to Reply.
	Req dialogue.Request
}

// Provider is a mock implementation of dialogue.Provider.
type Provider struct {
	mu sync.Mutex

	// ReplyResult is returned by Reply.
	ReplyResult string

	// ReplyErr, if non-nil, is returned as the error from Reply.
	ReplyErr error

	// ReplyFunc, if non-nil, overrides ReplyResult/ReplyErr entirely.
	ReplyFunc func(ctx context.Context, req dialogue.Request) (string, error)

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// ReplyCalls records every call to Reply in order.
	ReplyCalls []ReplyCall
}

// Reply records the call and returns the configured response.
func (p *Provider) Reply(ctx context.Context, req dialogue.Request) (string, error) {
	p.mu.Lock()
	p.ReplyCalls = append(p.ReplyCalls, ReplyCall{Ctx: ctx, Req: req})
	fn := p.ReplyFunc
	result, err := p.ReplyResult, p.ReplyErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return result, err
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	return p.ModelIDValue
}

// CallCount returns the number of recorded Reply calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ReplyCalls)
}
