package apply

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/rules"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
)

// Applier consumes final rulings awaiting state application and mutates
// entity records through the store.
type Applier struct {
	bus    *bus.Bus
	store  store.Store
	index  *store.PlaceIndex
	slot   int
	ledger *Ledger
	poll   time.Duration
	log    *slog.Logger
}

// NewApplier builds the applier service. A zero poll interval defaults to
// 750ms.
func NewApplier(b *bus.Bus, s store.Store, index *store.PlaceIndex, slot int, log *slog.Logger, poll time.Duration) *Applier {
	if poll <= 0 {
		poll = 750 * time.Millisecond
	}
	return &Applier{bus: b, store: s, index: index, slot: slot,
		ledger: NewLedger(0), poll: poll, log: log}
}

// Ledger exposes the dedup journal for tests and invariant checks.
func (a *Applier) Ledger() *Ledger { return a.ledger }

// Run polls until ctx is cancelled.
func (a *Applier) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.log.Warn("applier tick failed", "error", err)
			}
		}
	}
}

// Tick applies every ruling currently pending state application. Exposed
// separately so tests and the in-process pipeline can drive it directly.
func (a *Applier) Tick(ctx context.Context) error {
	pending, err := a.bus.Pending(ctx, bus.FamilyRuling, bus.StatusPendingStateApply)
	if err != nil {
		return err
	}
	for _, ruling := range pending {
		if err := a.applyRuling(ctx, ruling); err != nil {
			a.log.Warn("ruling application failed",
				"envelope_id", ruling.ID, "correlation_id", ruling.CorrelationID, "error", err)
		}
	}
	return nil
}

// applyRuling mutates records for one final ruling and emits the applied
// envelope. Non-final rulings in the pending state indicate a driver bug;
// they are parked as done without effects.
func (a *Applier) applyRuling(ctx context.Context, ruling bus.Envelope) error {
	if err := a.bus.CheckSession(ruling); err != nil {
		return err
	}
	if err := a.bus.Advance(ctx, ruling.ID, bus.StatusProcessing); err != nil {
		return err
	}

	final, _ := ruling.Meta["final"].(bool)
	if !final {
		a.log.Warn("non-final ruling reached the applier, skipping",
			"envelope_id", ruling.ID, "correlation_id", ruling.CorrelationID)
		return a.bus.Advance(ctx, ruling.ID, bus.StatusDone)
	}

	var diffs []AppliedDiff
	for i, raw := range metaStrings(ruling.Meta["effect_lines"]) {
		effectID := EffectID(ruling.CorrelationID, ruling.Iteration(), i)
		applied, err := a.ApplyEffect(ctx, effectID, raw)
		if err != nil {
			// Post-apply errors are logged, never retried: earlier lines
			// already stood.
			a.log.Error("effect line failed", "effect_id", effectID, "line", raw, "error", err)
			continue
		}
		diffs = append(diffs, applied...)
	}

	confirm := bus.New("applier", bus.MakeStage(bus.FamilyApplied, 1), "state applied")
	confirm.ReplyTo = ruling.ID
	confirm.CorrelationID = ruling.CorrelationID
	confirm.Meta["diffs"] = diffsToMeta(diffs)
	if err := a.bus.Publish(ctx, confirm); err != nil {
		return err
	}
	if err := a.bus.Advance(ctx, ruling.ID, bus.StatusDone); err != nil {
		return err
	}
	return a.bus.Compact(ctx, ruling.CorrelationID)
}

// ApplyEffect parses and applies one effect line under the given effect id.
// A previously applied id returns its journalled diffs without touching
// state.
func (a *Applier) ApplyEffect(ctx context.Context, effectID, line string) ([]AppliedDiff, error) {
	if a.ledger.Seen(effectID) {
		return a.ledger.Diffs(effectID), nil
	}
	cmd, err := rules.ParseEffect(line)
	if err != nil {
		return nil, err
	}

	var diffs []AppliedDiff
	switch cmd.Op {
	case rules.OpApplyDamage:
		diffs, err = a.adjustHealth(ctx, effectID, cmd, -1)
	case rules.OpApplyHeal:
		diffs, err = a.adjustHealth(ctx, effectID, cmd, +1)
	case rules.OpAdjustInventory:
		diffs, err = a.adjustInventory(ctx, effectID, cmd)
	case rules.OpSetAwareness:
		diffs, err = a.setAwareness(ctx, effectID, cmd)
	case rules.OpSetOccupancy:
		diffs, err = a.setOccupancy(ctx, effectID, cmd)
	default:
		return nil, fault.Newf(fault.UnhandledEffect, "apply: effect", "unknown op %q in %q", cmd.Op, line)
	}
	if err != nil {
		return nil, err
	}
	a.ledger.Record(effectID, diffs)
	return diffs, nil
}

func (a *Applier) adjustHealth(ctx context.Context, effectID string, cmd rules.Command, sign float64) ([]AppliedDiff, error) {
	ref, rec, err := a.loadTarget(ctx, cmd)
	if err != nil {
		return nil, err
	}
	mag := cmd.ArgNum("mag")
	cur, max, ok := rec.Health()
	if !ok {
		return nil, fault.Newf(fault.UnhandledEffect, "apply: health",
			"%s has no health resource", ref)
	}
	next := clamp(cur+sign*mag, 0, max)
	rec.SetHealth(next, max)
	if err := store.SaveEntity(ctx, a.store, a.slot, ref, rec); err != nil {
		return nil, err
	}
	return []AppliedDiff{{
		EffectID: effectID,
		Target:   ref.String(),
		Field:    "resources.health.current",
		Delta:    next - cur,
		Reason:   cmd.Op,
	}}, nil
}

func (a *Applier) adjustInventory(ctx context.Context, effectID string, cmd rules.Command) ([]AppliedDiff, error) {
	ref, rec, err := a.loadTarget(ctx, cmd)
	if err != nil {
		return nil, err
	}
	item := cmd.ArgText("item")
	if item == "" {
		return nil, fault.New(fault.UnhandledEffect, "apply: inventory", "effect names no item")
	}
	mag := int(cmd.ArgNum("mag"))
	before := rec.InventoryCount(item)
	rec.AdjustInventory(item, mag)
	after := rec.InventoryCount(item)
	if err := store.SaveEntity(ctx, a.store, a.slot, ref, rec); err != nil {
		return nil, err
	}
	return []AppliedDiff{{
		EffectID: effectID,
		Target:   ref.String(),
		Field:    "inventory." + item,
		Delta:    float64(after - before),
		Reason:   cmd.Op,
	}}, nil
}

// setAwareness appends an AWARENESS tag naming what the observer learned of,
// with an optional clarity qualifier.
func (a *Applier) setAwareness(ctx context.Context, effectID string, cmd rules.Command) ([]AppliedDiff, error) {
	observer, err := world.ParseRef(cmd.ArgText("observer"))
	if err != nil {
		return nil, fault.Wrap(fault.UnhandledEffect, "apply: awareness", err)
	}
	rec, err := store.LoadEntity(ctx, a.store, a.slot, observer)
	if err != nil {
		return nil, err
	}

	info := []string{cmd.ArgText("target")}
	if v, ok := cmd.Arg("info"); ok && v.Kind == rules.ValueList {
		info = info[:0]
		for _, e := range v.List {
			info = append(info, e.Text())
		}
	}
	if clarity := cmd.ArgText("clarity"); clarity != "" && clarity != "clear" {
		info = append(info, clarity)
	}
	tag := "AWARENESS:" + strings.Join(info, ",")
	rec.AddTag(tag)
	if err := store.SaveEntity(ctx, a.store, a.slot, observer, rec); err != nil {
		return nil, err
	}
	return []AppliedDiff{{
		EffectID: effectID,
		Target:   observer.String(),
		Field:    "tags",
		Delta:    1,
		Reason:   cmd.Op,
	}}, nil
}

// setOccupancy moves the target to the first tile reference of the effect's
// tiles list. Supported shapes: region_tile.<x>.<y>, place_tile.<x>.<y>,
// place.<id>.
func (a *Applier) setOccupancy(ctx context.Context, effectID string, cmd rules.Command) ([]AppliedDiff, error) {
	ref, rec, err := a.loadTarget(ctx, cmd)
	if err != nil {
		return nil, err
	}
	tiles, ok := cmd.Arg("tiles")
	if !ok || tiles.Kind != rules.ValueList || len(tiles.List) == 0 {
		return nil, fault.New(fault.UnhandledEffect, "apply: occupancy", "effect names no tiles")
	}
	loc, _ := rec.Location()
	prevPlace := loc.PlaceID
	if err := applyTileRef(&loc, tiles.List[0].Text()); err != nil {
		return nil, err
	}
	rec.SetLocation(loc)
	if err := store.SaveEntity(ctx, a.store, a.slot, ref, rec); err != nil {
		return nil, err
	}
	if a.index != nil && loc.PlaceID != "" && loc.PlaceID != prevPlace {
		if err := a.index.Add(ctx, loc.PlaceID, ref); err != nil {
			return nil, err
		}
	}
	return []AppliedDiff{{
		EffectID: effectID,
		Target:   ref.String(),
		Field:    "location",
		Delta:    0,
		Reason:   cmd.Op + ":" + tiles.List[0].Text(),
	}}, nil
}

func applyTileRef(loc *world.Location, tileRef string) error {
	parts := strings.Split(tileRef, ".")
	switch parts[0] {
	case "place_tile":
		if len(parts) != 3 {
			return fault.Newf(fault.UnhandledEffect, "apply: occupancy", "malformed tile ref %q", tileRef)
		}
		x, errX := strconv.Atoi(parts[1])
		y, errY := strconv.Atoi(parts[2])
		if errX != nil || errY != nil {
			return fault.Newf(fault.UnhandledEffect, "apply: occupancy", "malformed tile ref %q", tileRef)
		}
		loc.X, loc.Y = x, y
	case "region_tile":
		if len(parts) != 3 {
			return fault.Newf(fault.UnhandledEffect, "apply: occupancy", "malformed tile ref %q", tileRef)
		}
		x, errX := strconv.Atoi(parts[1])
		y, errY := strconv.Atoi(parts[2])
		if errX != nil || errY != nil {
			return fault.Newf(fault.UnhandledEffect, "apply: occupancy", "malformed tile ref %q", tileRef)
		}
		loc.RegionX, loc.RegionY = x, y
	case "place":
		if len(parts) < 2 {
			return fault.Newf(fault.UnhandledEffect, "apply: occupancy", "malformed tile ref %q", tileRef)
		}
		loc.PlaceID = strings.Join(parts[1:], ".")
	default:
		return fault.Newf(fault.UnhandledEffect, "apply: occupancy", "unknown tile ref shape %q", tileRef)
	}
	return nil
}

func (a *Applier) loadTarget(ctx context.Context, cmd rules.Command) (world.Ref, world.Record, error) {
	ref, err := world.ParseRef(cmd.ArgText("target"))
	if err != nil {
		return world.Ref{}, nil, fault.Wrap(fault.UnhandledEffect, "apply: effect target", err)
	}
	rec, err := store.LoadEntity(ctx, a.store, a.slot, ref)
	if err != nil {
		return world.Ref{}, nil, err
	}
	return ref, rec, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func metaStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func diffsToMeta(diffs []AppliedDiff) []any {
	out := make([]any, len(diffs))
	for i, d := range diffs {
		out[i] = map[string]any{
			"effect_id": d.EffectID,
			"target":    d.Target,
			"field":     d.Field,
			"delta":     d.Delta,
			"reason":    d.Reason,
		}
	}
	return out
}
