package movement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

const (
	// TickInterval is the global engine cadence: 20Hz.
	TickInterval = 50 * time.Millisecond

	// DefaultSpeedTPM is used when a mover carries no speed stat:
	// 300 tiles per minute, one step every 200ms.
	DefaultSpeedTPM = 300

	// SprintThresholdTPM and SneakThresholdTPM map speed onto the MOVE
	// sense-broadcast subtypes.
	SprintThresholdTPM = 500
	SneakThresholdTPM  = 200

	// emitEverySteps and minEmitGap throttle movement perception batches:
	// every third step (plus the start and penultimate steps), never more
	// than one batch per 350ms per mover.
	emitEverySteps = 3
	minEmitGap     = 350 * time.Millisecond

	// PathVisualDuration is how long a failed path stays staged red before
	// its state is dropped.
	PathVisualDuration = 2 * time.Second
)

// SubtypeForSpeed derives the MOVE broadcast subtype from tiles-per-minute.
func SubtypeForSpeed(tpm int) string {
	switch {
	case tpm >= SprintThresholdTPM:
		return action.SubtypeSprint
	case tpm <= SneakThresholdTPM:
		return action.SubtypeSneak
	}
	return action.SubtypeWalk
}

// MsPerTile converts tiles-per-minute into the per-step interval.
func MsPerTile(tpm int) time.Duration {
	if tpm <= 0 {
		tpm = DefaultSpeedTPM
	}
	return time.Duration(60000/tpm) * time.Millisecond
}

// State is one entity's movement in progress.
type State struct {
	EntityRef world.Ref
	PlaceID   string
	Goal      world.Tile

	Path      []world.Tile
	PathIndex int
	Moving    bool

	SpeedTPM  int
	PerTile   time.Duration
	LastStep  time.Time
	NextStep  time.Time
	StepCount int

	TotalDistance float64
	Facing        float64

	ShowPath  bool
	PathColor string

	// FailedPath stages an unreachable attempt red until FailedUntil.
	FailedPath  bool
	FailedUntil time.Time

	lastEmit   time.Time
	onComplete func(world.Tile)
}

// Current returns the tile the mover stands on.
func (st *State) Current() world.Tile { return st.Path[st.PathIndex] }

// Engine owns all movement state for a slot and advances it on a fixed
// tick. All exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	store  store.Store
	index  *store.PlaceIndex
	caster *perception.Broadcaster
	slot   int
	log    *slog.Logger
	now    func() time.Time

	res    *Reservations
	states map[world.Ref]*State

	// lastTick holds the unix-nano time of the most recent Tick, for
	// liveness probes.
	lastTick atomic.Int64
}

// NewEngine wires a movement engine over the given store and broadcaster.
func NewEngine(s store.Store, ix *store.PlaceIndex, caster *perception.Broadcaster, slot int, log *slog.Logger) *Engine {
	return &Engine{
		store:  s,
		index:  ix,
		caster: caster,
		slot:   slot,
		log:    log,
		now:    time.Now,
		res:    NewReservations(),
		states: make(map[world.Ref]*State),
	}
}

// Start paths ref toward goal and begins stepping. speedTPM ≤ 0 uses the
// default. onComplete may be nil; it fires with the final tile once the
// last step commits. A mover that is already moving is re-routed.
func (e *Engine) Start(ctx context.Context, ref world.Ref, goal world.Tile, speedTPM int, onComplete func(world.Tile)) error {
	const op = "movement: start"
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := store.LoadEntity(ctx, e.store, e.slot, ref)
	if err != nil {
		return err
	}
	loc, ok := rec.Location()
	if !ok {
		return fault.Newf(fault.Internal, op, "%s has no location", ref)
	}
	if speedTPM <= 0 {
		speedTPM = DefaultSpeedTPM
	}

	// Re-routing an already-moving entity drops its stale claims first.
	e.res.ReleaseAll(loc.PlaceID, ref)

	place, walls, err := e.wallsFor(ctx, loc.PlaceID, ref)
	if err != nil {
		return err
	}
	result := FindPath(walls, loc.Tile(), goal)
	now := e.now()
	if result.Blocked {
		e.states[ref] = &State{
			EntityRef:   ref,
			PlaceID:     loc.PlaceID,
			Goal:        goal,
			Path:        []world.Tile{loc.Tile()},
			ShowPath:    true,
			PathColor:   "red",
			FailedPath:  true,
			FailedUntil: now.Add(PathVisualDuration),
		}
		return fault.Newf(fault.Blocked, op, "no route to %s, blocked at %s", goal, *result.BlockedAt)
	}

	st := &State{
		EntityRef: ref,
		PlaceID:   place.ID,
		Goal:      goal,
		Path:      result.Path,
		Moving:    len(result.Path) > 1,
		SpeedTPM:  speedTPM,
		PerTile:   MsPerTile(speedTPM),
		LastStep:  now,
		NextStep:  now.Add(MsPerTile(speedTPM)),
		ShowPath:  true,
		PathColor: "green",

		onComplete: onComplete,
	}
	st.Facing = rec.Facing()
	e.states[ref] = st

	if !st.Moving {
		return e.completeLocked(ctx, st)
	}
	e.emitLocked(ctx, st, false)
	return nil
}

// Stop cancels ref's movement and releases its reservations. Stopping an
// idle entity is a no-op.
func (e *Engine) Stop(ctx context.Context, ref world.Ref) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ref]
	if !ok {
		return
	}
	e.res.ReleaseAll(st.PlaceID, ref)
	delete(e.states, ref)
}

// Moving reports whether ref has steps pending.
func (e *Engine) Moving(ref world.Ref) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ref]
	return ok && st.Moving
}

// Snapshot copies ref's movement state for inspection and rendering.
func (e *Engine) Snapshot(ref world.Ref) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ref]
	if !ok {
		return State{}, false
	}
	cp := *st
	cp.Path = append([]world.Tile(nil), st.Path...)
	return cp, true
}

// InterpolatedPosition returns ref's smooth position between its previous
// and current tile. Read-only; never authoritative.
func (e *Engine) InterpolatedPosition(ref world.Ref) (x, y float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, exists := e.states[ref]
	if !exists {
		return 0, 0, false
	}
	cur := st.Current()
	if st.PathIndex == 0 || st.PerTile <= 0 {
		return float64(cur.X), float64(cur.Y), true
	}
	prev := st.Path[st.PathIndex-1]
	progress := float64(e.now().Sub(st.LastStep)) / float64(st.PerTile)
	if progress > 1 {
		progress = 1
	}
	x = float64(prev.X) + (float64(cur.X)-float64(prev.X))*progress
	y = float64(prev.Y) + (float64(cur.Y)-float64(prev.Y))*progress
	return x, y, true
}

// Run drives the engine at the global tick rate until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// LastTick returns the wall time of the most recent completed Tick, or the
// zero time before the first.
func (e *Engine) LastTick() time.Time {
	ns := e.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Tick advances every due mover by at most one tile.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.lastTick.Store(time.Now().UnixNano())

	for ref, st := range e.states {
		if st.FailedPath {
			if !now.Before(st.FailedUntil) {
				delete(e.states, ref)
			}
			continue
		}
		if !st.Moving || now.Before(st.NextStep) {
			continue
		}
		if err := e.stepLocked(ctx, st); err != nil {
			e.log.Warn("movement step failed", "entity", ref.String(), "error", err)
		}
	}
}

// stepLocked commits one tile of st's path.
func (e *Engine) stepLocked(ctx context.Context, st *State) error {
	next := st.Path[st.PathIndex+1]

	// Another mover may have claimed the tile since the path was found.
	if !e.res.Acquire(st.PlaceID, next, st.EntityRef) {
		return e.repathLocked(ctx, st)
	}
	e.res.Release(st.PlaceID, st.Current(), st.EntityRef)

	from := st.Current()
	st.Facing = world.FacingFromStep(from, next)
	st.PathIndex++
	st.StepCount++
	st.TotalDistance += world.Distance(from, next)
	st.LastStep = st.NextStep
	st.NextStep = st.LastStep.Add(st.PerTile)

	if err := e.persistLocked(ctx, st); err != nil {
		return err
	}

	last := st.PathIndex == len(st.Path)-1
	penultimate := st.PathIndex == len(st.Path)-2
	if penultimate || st.StepCount%emitEverySteps == 0 {
		e.emitLocked(ctx, st, false)
	}
	if last {
		return e.completeLocked(ctx, st)
	}
	return nil
}

// repathLocked re-routes around a tile lost to another mover. When no
// alternative exists the attempt becomes a failed path.
func (e *Engine) repathLocked(ctx context.Context, st *State) error {
	_, walls, err := e.wallsFor(ctx, st.PlaceID, st.EntityRef)
	if err != nil {
		return err
	}
	result := FindPath(walls, st.Current(), st.Goal)
	if result.Blocked {
		e.res.ReleaseAll(st.PlaceID, st.EntityRef)
		st.Moving = false
		st.FailedPath = true
		st.PathColor = "red"
		st.FailedUntil = e.now().Add(PathVisualDuration)
		st.Path = []world.Tile{st.Current()}
		st.PathIndex = 0
		e.log.Info("movement blocked",
			"entity", st.EntityRef.String(),
			"goal", st.Goal.String(),
			"blocked_at", result.BlockedAt.String())
		return nil
	}
	st.Path = result.Path
	st.PathIndex = 0
	return nil
}

// completeLocked finishes st's movement: the final tile is persisted,
// facing preserved, reservations dropped, and the state deleted.
func (e *Engine) completeLocked(ctx context.Context, st *State) error {
	st.Moving = false
	e.res.ReleaseAll(st.PlaceID, st.EntityRef)
	if err := e.persistLocked(ctx, st); err != nil {
		return err
	}
	e.emitLocked(ctx, st, true)
	final := st.Current()
	delete(e.states, st.EntityRef)
	if st.onComplete != nil {
		st.onComplete(final)
	}
	return nil
}

// persistLocked writes the mover's committed tile and facing back to its
// record so perception and resolution see the authoritative position.
func (e *Engine) persistLocked(ctx context.Context, st *State) error {
	rec, err := store.LoadEntity(ctx, e.store, e.slot, st.EntityRef)
	if err != nil {
		return err
	}
	loc, _ := rec.Location()
	cur := st.Current()
	loc.PlaceID = st.PlaceID
	loc.X, loc.Y = cur.X, cur.Y
	rec.SetLocation(loc)
	rec.SetFacing(st.Facing)
	return store.SaveEntity(ctx, e.store, e.slot, st.EntityRef, rec)
}

// emitLocked broadcasts a MOVE perception batch for st, subject to the
// per-mover gap. Final batches always go out.
func (e *Engine) emitLocked(ctx context.Context, st *State, final bool) {
	now := e.now()
	if !final && !st.lastEmit.IsZero() && now.Sub(st.lastEmit) < minEmitGap {
		return
	}
	st.lastEmit = now

	cur := st.Current()
	em := perception.Emission{
		Actor: st.EntityRef,
		ActorLocation: world.Location{
			PlaceID: st.PlaceID,
			X:       cur.X,
			Y:       cur.Y,
		},
		Verb:    action.VerbMove,
		Subtype: SubtypeForSpeed(st.SpeedTPM),
		Type:    perception.TypeMovement,
		Summary: fmt.Sprintf("%s heads toward %s", st.EntityRef, st.Goal),
	}
	if _, err := e.caster.Broadcast(ctx, em); err != nil {
		e.log.Warn("movement broadcast failed", "entity", st.EntityRef.String(), "error", err)
	}
}

// wallsFor loads the place and assembles pathfinding walls from obstacles,
// entity occupancy and live reservations.
func (e *Engine) wallsFor(ctx context.Context, placeID string, self world.Ref) (world.Place, Walls, error) {
	rec, err := e.store.Load(ctx, e.slot, store.KindPlace, placeID)
	if err != nil {
		return world.Place{}, Walls{}, err
	}
	place, err := world.PlaceFromRecord(rec)
	if err != nil {
		return world.Place{}, Walls{}, err
	}

	occupied := make(map[world.Tile]world.Ref)
	entry, err := e.index.Entry(ctx, placeID)
	if err != nil {
		return world.Place{}, Walls{}, err
	}
	for _, raw := range append(append([]string(nil), entry.NPCs...), entry.Actors...) {
		ref, err := world.ParseRef(raw)
		if err != nil || ref == self {
			continue
		}
		other, err := store.LoadEntity(ctx, e.store, e.slot, ref)
		if err != nil {
			if !fault.Is(err, fault.NotFound) {
				e.log.Warn("occupancy load failed", "entity", raw, "error", err)
			}
			continue
		}
		if loc, ok := other.Location(); ok && loc.PlaceID == placeID {
			occupied[loc.Tile()] = ref
		}
	}
	return place, WallsFor(place, occupied, e.res.Snapshot(placeID), self), nil
}
