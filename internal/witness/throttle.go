package witness

import (
	"sync"
	"time"

	"github.com/openweald/weald/internal/world"
)

// MinCommandGap is the minimum spacing between identical command types to
// one NPC. Several perceptions landing in the same instant would otherwise
// cascade into a burst of duplicate commands.
const MinCommandGap = 3 * time.Second

// Throttle rate-limits witness-issued commands per NPC per command type.
type Throttle struct {
	mu   sync.Mutex
	last map[string]time.Time
	gap  time.Duration
	now  func() time.Time
}

// NewThrottle returns a throttle with the default gap.
func NewThrottle() *Throttle {
	return &Throttle{last: map[string]time.Time{}, gap: MinCommandGap, now: time.Now}
}

// Allow reports whether a command of the given type may go to npc now, and
// records it when allowed. followUp marks a command that continues an
// exchange already in flight (a conversation reply); those bypass the gap so
// a dialogue never stalls on its own rate limit.
func (t *Throttle) Allow(npc world.Ref, cmdType CommandType, followUp bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := npc.String() + "|" + string(cmdType)
	now := t.now()
	if !followUp {
		if last, ok := t.last[key]; ok && now.Sub(last) < t.gap {
			return false
		}
	}
	t.last[key] = now
	return true
}
