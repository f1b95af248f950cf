package roll

import (
	"context"
	"log/slog"
	"time"

	"github.com/openweald/weald/internal/bus"
)

// Service answers roll_request envelopes on the outbox. Each request carries
// an "expression" meta field; the service parses and evaluates it, appends a
// roll_result envelope of the same iteration and correlation, and marks the
// request done.
//
// Malformed requests still produce a result envelope, with the error
// recorded, so the waiting adjudicator never stalls on a bad expression.
type Service struct {
	bus    *bus.Bus
	roller *Roller
	poll   time.Duration
	log    *slog.Logger
}

// NewService builds the roll service. A zero poll interval defaults to
// 500ms.
func NewService(b *bus.Bus, log *slog.Logger, poll time.Duration) *Service {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Service{bus: b, roller: NewRoller(), poll: poll, log: log}
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("roll service tick failed", "error", err)
			}
		}
	}
}

// Tick processes every unclaimed roll request once. Exposed separately so
// tests can drive the service without wall-clock waits.
func (s *Service) Tick(ctx context.Context) error {
	pending, err := s.bus.Pending(ctx, bus.FamilyRollRequest, bus.StatusSent)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if err := s.serve(ctx, req); err != nil {
			s.log.Warn("roll request failed", "envelope_id", req.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) serve(ctx context.Context, req bus.Envelope) error {
	if err := s.bus.Advance(ctx, req.ID, bus.StatusProcessing); err != nil {
		return err
	}

	expr, _ := req.Meta["expression"].(string)
	result := bus.New("roll", bus.MakeStage(bus.FamilyRollResult, req.Iteration()), "")
	result.ReplyTo = req.ID
	result.CorrelationID = req.CorrelationID

	res, err := s.roller.Roll(expr)
	if err != nil {
		result.Content = "roll failed"
		result.Meta["error"] = err.Error()
		result.Meta["expression"] = expr
	} else {
		result.Content = res.Expression
		result.Meta["expression"] = res.Expression
		result.Meta["total"] = res.Total
		rolls := make([]any, len(res.Rolls))
		for i, r := range res.Rolls {
			rolls[i] = r
		}
		result.Meta["rolls"] = rolls
		s.log.Debug("rolled", "expression", res.Expression, "total", res.Total,
			"correlation_id", req.CorrelationID)
	}

	if err := s.bus.Publish(ctx, result); err != nil {
		return err
	}
	return s.bus.Advance(ctx, req.ID, bus.StatusDone)
}
