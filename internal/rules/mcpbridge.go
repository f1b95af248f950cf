package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openweald/weald/internal/fault"
)

// adjudicateTool is the tool name an external rules machine must expose.
const adjudicateTool = "adjudicate"

// BridgeConfig describes how to reach an external rules machine over MCP.
type BridgeConfig struct {
	// Transport is "stdio" or "http".
	Transport string

	// Command is the executable (plus space-separated arguments) spawned for
	// stdio transport.
	Command string

	// URL is the streamable-HTTP endpoint for http transport.
	URL string
}

// Compile-time interface check.
var _ Adjudicator = (*Bridge)(nil)

// Bridge adjudicates through an external MCP rules server. The server
// receives the request as JSON tool arguments and must answer with a JSON
// [Outcome]; rulings the bridge cannot decode surface as parse_error faults
// so the caller's fallback (the [Builtin]) can take over.
type Bridge struct {
	session *mcpsdk.ClientSession
}

// NewBridge connects to the configured rules server and verifies it exposes
// the adjudicate tool.
func NewBridge(ctx context.Context, cfg BridgeConfig) (*Bridge, error) {
	var transport mcpsdk.Transport
	switch cfg.Transport {
	case "stdio":
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("rules: bridge stdio transport requires a command")
		}
		transport = &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, parts[0], parts[1:]...)}
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("rules: bridge http transport requires a url")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, fmt.Errorf("rules: unknown bridge transport %q", cfg.Transport)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "weald-rules", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("rules: connect to rules server: %w", err)
	}

	found := false
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("rules: list rules server tools: %w", err)
		}
		if tool.Name == adjudicateTool {
			found = true
		}
	}
	if !found {
		_ = session.Close()
		return nil, fmt.Errorf("rules: rules server exposes no %q tool", adjudicateTool)
	}
	return &Bridge{session: session}, nil
}

// Close releases the server connection.
func (b *Bridge) Close() error { return b.session.Close() }

// bridgeRequest is the JSON shape sent to the rules server. Intent internals
// flatten so the server needs no knowledge of weald types.
type bridgeRequest struct {
	IntentID  string         `json:"intent_id"`
	Verb      string         `json:"verb"`
	ActorRef  string         `json:"actor_ref"`
	TargetRef string         `json:"target_ref,omitempty"`
	Params    map[string]any `json:"parameters"`
	Iteration int            `json:"iteration"`
	Rolls     []RollOutcome  `json:"rolls"`
	Actor     map[string]any `json:"actor,omitempty"`
	Target    map[string]any `json:"target,omitempty"`
	Distance  float64        `json:"distance"`
}

// Adjudicate implements [Adjudicator].
func (b *Bridge) Adjudicate(ctx context.Context, req Request) (Outcome, error) {
	wire := bridgeRequest{
		IntentID:  req.Intent.ID,
		Verb:      string(req.Intent.Verb),
		ActorRef:  req.Intent.ActorRef.String(),
		Params:    req.Intent.Parameters,
		Iteration: req.Iteration,
		Rolls:     req.Rolls,
		Actor:     req.Actor,
		Target:    req.Target,
		Distance:  req.Distance,
	}
	if !req.Intent.TargetRef.IsZero() {
		wire.TargetRef = req.Intent.TargetRef.String()
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return Outcome{}, fmt.Errorf("rules: marshal bridge request: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return Outcome{}, fmt.Errorf("rules: rebuild bridge args: %w", err)
	}

	result, err := b.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      adjudicateTool,
		Arguments: args,
	})
	if err != nil {
		return Outcome{}, fault.Wrap(fault.Internal, "rules: bridge adjudicate", err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return Outcome{}, fault.Newf(fault.Internal, "rules: bridge adjudicate",
			"rules server error: %s", sb.String())
	}

	var out Outcome
	if err := json.Unmarshal([]byte(sb.String()), &out); err != nil {
		return Outcome{}, fault.Wrap(fault.ParseError, "rules: decode ruling", err)
	}
	for _, line := range out.EffectLines {
		if _, err := ParseEffect(line); err != nil {
			return Outcome{}, fault.Wrap(fault.ParseError, "rules: validate ruling", err)
		}
	}
	return out, nil
}
