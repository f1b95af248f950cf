package health

import (
	"context"
	"fmt"
	"time"

	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// StoreChecker probes the world-state store with a read of an arbitrary
// record. A not_found fault still proves the store answers; only transport
// errors fail the check.
func StoreChecker(s store.Store, slot int) Checker {
	probe := world.Ref{Kind: world.KindPlace, ID: "health-probe"}
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.LoadEntity(ctx, s, slot, probe)
			if err != nil && fault.KindOf(err) != fault.NotFound {
				return err
			}
			return nil
		},
	}
}

// BusChecker verifies both message logs answer reads.
func BusChecker(b *bus.Bus) Checker {
	return Checker{
		Name: "bus",
		Check: func(ctx context.Context) error {
			if _, err := b.Outbox.ReadAll(ctx); err != nil {
				return fmt.Errorf("outbox: %w", err)
			}
			if _, err := b.Inbox.ReadAll(ctx); err != nil {
				return fmt.Errorf("inbox: %w", err)
			}
			return nil
		},
	}
}

// TickChecker reports failure when the watched loop has not ticked within
// maxAge. lastTick returning the zero time counts as alive so the probe does
// not fail during startup.
func TickChecker(name string, lastTick func() time.Time, maxAge time.Duration) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			last := lastTick()
			if last.IsZero() {
				return nil
			}
			if age := time.Since(last); age > maxAge {
				return fmt.Errorf("last tick %s ago", age.Round(time.Millisecond))
			}
			return nil
		},
	}
}
