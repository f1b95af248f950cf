// Package app wires all weald subsystems into a running world engine.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem from the config, Run starts the service loops under one
// errgroup, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithBus,
// WithAdjudicator, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/openweald/weald/internal/action"
	"github.com/openweald/weald/internal/apply"
	"github.com/openweald/weald/internal/bus"
	"github.com/openweald/weald/internal/config"
	"github.com/openweald/weald/internal/gateway"
	"github.com/openweald/weald/internal/health"
	"github.com/openweald/weald/internal/journal"
	"github.com/openweald/weald/internal/movement"
	"github.com/openweald/weald/internal/npcai"
	"github.com/openweald/weald/internal/observe"
	"github.com/openweald/weald/internal/perception"
	"github.com/openweald/weald/internal/pipeline"
	"github.com/openweald/weald/internal/resilience"
	"github.com/openweald/weald/internal/resolve"
	"github.com/openweald/weald/internal/roll"
	"github.com/openweald/weald/internal/rules"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/travel"
	"github.com/openweald/weald/internal/turns"
	"github.com/openweald/weald/internal/witness"
	"github.com/openweald/weald/internal/workmem"
	"github.com/openweald/weald/internal/world"
	"github.com/openweald/weald/pkg/provider/dialogue"
	"github.com/openweald/weald/pkg/provider/embeddings"
)

// memJournalCap bounds the in-memory journal when no database is configured.
const memJournalCap = 2048

// movementStaleAfter is how long the movement loop may go without a tick
// before the readiness probe reports it dead.
const movementStaleAfter = 5 * time.Second

// DialogueEntry pairs a dialogue provider with the name its circuit breaker
// reports under.
type DialogueEntry struct {
	Name     string
	Provider dialogue.Provider
}

// Providers holds the model-backed provider slots. Nil or empty means the
// slot is not configured; dialogue always falls back to the scripted table
// and an absent embeddings provider disables semantic journal recall.
// Populated by main via the config registry.
type Providers struct {
	// Dialogue lists speech backends in preference order.
	Dialogue []DialogueEntry

	// Embeddings computes journal entry vectors.
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the weald intent flow.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	sessionID string

	// Subsystems, initialised in New and torn down in Shutdown.
	store       store.Store
	bus         *bus.Bus
	index       *store.PlaceIndex
	presence    *store.Presence
	registry    *action.Registry
	memory      *perception.Memory
	caster      *perception.Broadcaster
	resolver    *resolve.Resolver
	convs       *witness.Conversations
	engs        *witness.Engagements
	turns       *turns.Manager
	policy      *witness.Policy
	mover       *movement.Engine
	traveler    *travel.Traveler
	assembler   *workmem.Assembler
	journal     *journal.Guard
	writer      *journal.Writer
	adjudicator rules.Adjudicator
	voice       dialogue.Provider
	pipeline    *pipeline.Pipeline
	driver      *pipeline.Driver
	roller      *roll.Service
	applier     *apply.Applier
	npcs        *npcai.Service
	gateway     *gateway.Gateway
	metrics     *observe.Metrics
	httpSrv     *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a world store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBus injects a message bus instead of creating one from config.
func WithBus(b *bus.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithAdjudicator injects a rules machine instead of creating one from config.
func WithAdjudicator(adj rules.Adjudicator) Option {
	return func(a *App) { a.adjudicator = adj }
}

// WithJournalStore injects a journal backend instead of creating one from
// config. The store is still wrapped in the degradation guard.
func WithJournalStore(s journal.Store) Option {
	return func(a *App) { a.journal = journal.NewGuard(s, slog.Default()) }
}

// WithLogger sets the logger for all subsystems. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// SessionID returns the bus session identifier minted for this run.
func (a *App) SessionID() string { return a.sessionID }

// Submit feeds one intent into the pipeline. Exposed for CLI tooling.
func (a *App) Submit(ctx context.Context, in *action.Intent) error {
	return a.pipeline.Submit(ctx, in)
}

// Turns returns the turn manager. Exposed for CLI tooling.
func (a *App) Turns() *turns.Manager { return a.turns }

// Conversations returns the conversation table. Exposed for CLI tooling.
func (a *App) Conversations() *witness.Conversations { return a.convs }

// PlaceIndex returns the place-entity index. Exposed for CLI tooling.
func (a *App) PlaceIndex() *store.PlaceIndex { return a.index }

// Store returns the world record store.
func (a *App) Store() store.Store { return a.store }

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry); nil means no model
// backends. Use Option functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection and
// migration, bus setup, journal wiring, rules bridge connection, and the
// full service graph. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		sessionID: uuid.NewString(),
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initBus(ctx); err != nil {
		return nil, fmt.Errorf("app: init bus: %w", err)
	}
	a.initWorld()
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}
	if err := a.initRules(ctx); err != nil {
		return nil, fmt.Errorf("app: init rules: %w", err)
	}
	a.initServices()
	a.initHTTP()

	return a, nil
}

// ── Init helpers ─────────────────────────────────────────────────────────────

// initStore connects the world record store and runs its migration.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		a.store = store.NewMemStore()
		return nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping: %w", err)
		}
		pg := store.NewPG(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

// initBus sets up the inbox/outbox logs on the same backend as the store.
func (a *App) initBus(ctx context.Context) error {
	if a.bus != nil {
		return nil
	}
	if a.cfg.Store.Backend == config.StorePostgres {
		b, closeFn, err := bus.NewPGBus(ctx, a.cfg.Store.PostgresDSN, a.sessionID)
		if err != nil {
			return err
		}
		a.bus = b
		a.closers = append(a.closers, func() error {
			closeFn()
			return nil
		})
		return nil
	}
	a.bus = bus.NewBus(a.sessionID, bus.NewMemLog(), bus.NewMemLog())
	return nil
}

// initWorld builds the perception and witness layers over the store.
func (a *App) initWorld() {
	slot := a.cfg.Store.Slot
	a.index = store.NewPlaceIndex(a.store, slot)
	a.presence = store.NewPresence(a.store, slot)
	a.registry = action.NewRegistry()
	a.memory = perception.NewMemory()
	a.caster = perception.NewBroadcaster(a.store, a.index, a.registry, a.memory, slot, a.log)
	a.resolver = resolve.NewResolver(a.store, a.index, a.registry, slot)
	a.convs = witness.NewConversations(a.presence, a.log)
	a.engs = witness.NewEngagements()
}

// initJournal wires the long-term NPC journal: a vector-backed store when a
// database is available, in-memory otherwise, always behind the degradation
// guard so journal outages never stall the pipeline.
func (a *App) initJournal(ctx context.Context) error {
	if a.cfg.Journal.Enabled != nil && !*a.cfg.Journal.Enabled {
		return nil
	}
	if a.journal == nil {
		dsn := a.cfg.Journal.PostgresDSN
		if dsn == "" && a.cfg.Store.Backend == config.StorePostgres {
			dsn = a.cfg.Store.PostgresDSN
		}
		if dsn == "" {
			a.journal = journal.NewGuard(journal.NewMem(memJournalCap), a.log)
		} else {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			pg := journal.NewPG(pool, a.cfg.Store.Slot, a.cfg.Journal.EmbeddingDimensions)
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return err
			}
			a.journal = journal.NewGuard(pg, a.log)
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
		}
	}
	a.writer = journal.NewWriter(a.journal, a.providers.Embeddings, a.log)
	return nil
}

// initRules picks the adjudicator: the MCP bridge when configured, with the
// builtin ruleset as circuit-broken fallback, builtin alone otherwise.
func (a *App) initRules(ctx context.Context) error {
	if a.adjudicator != nil {
		return nil
	}
	if a.cfg.Rules.Bridge == nil {
		a.adjudicator = rules.NewBuiltin()
		return nil
	}
	bridge, err := rules.NewBridge(ctx, rules.BridgeConfig{
		Transport: string(a.cfg.Rules.Bridge.Transport),
		Command:   a.cfg.Rules.Bridge.Command,
		URL:       a.cfg.Rules.Bridge.URL,
	})
	if err != nil {
		return fmt.Errorf("connect rules bridge: %w", err)
	}
	a.closers = append(a.closers, bridge.Close)

	fb := resilience.NewRulesFallback(bridge, "mcp-bridge", resilience.FallbackConfig{})
	fb.AddFallback("builtin", rules.NewBuiltin())
	a.adjudicator = fb
	return nil
}

// buildVoice chains the configured dialogue backends behind per-backend
// circuit breakers. The scripted table is always registered last, so NPCs
// keep talking with every model offline.
func (a *App) buildVoice() dialogue.Provider {
	entries := a.providers.Dialogue
	if len(entries) == 0 {
		return npcai.NewScripted()
	}
	chain := resilience.NewDialogueFallback(entries[0].Provider, entries[0].Name, resilience.FallbackConfig{})
	for _, e := range entries[1:] {
		chain.AddFallback(e.Name, e.Provider)
	}
	chain.AddFallback("scripted", npcai.NewScripted())
	return chain
}

// initServices builds the service graph in dependency order.
func (a *App) initServices() {
	slot := a.cfg.Store.Slot
	svc := a.cfg.Services

	var hook turns.JournalHook
	if a.writer != nil {
		hook = a.writer.EventEnded
	}
	a.turns = turns.NewManager(a.bus, a.store, slot, hook, a.log, svc.TurnPoll)
	a.policy = witness.NewPolicy(a.store, a.registry, a.convs, a.engs, a.turns, slot, a.log)
	a.mover = movement.NewEngine(a.store, a.index, a.caster, slot, a.log)
	a.traveler = travel.NewTraveler(a.store, a.index, slot, a.log)
	a.assembler = workmem.NewAssembler(a.store, a.index, a.memory, a.convs, slot, a.log)
	a.voice = a.buildVoice()

	pipeOpts := []pipeline.Option{
		pipeline.WithTurns(a.turns),
		pipeline.WithMovement(a.mover),
		pipeline.WithTravel(a.traveler),
		// The NPC service does not exist yet; dereference at call time.
		pipeline.WithCommandSink(func(ctx context.Context, cmds []witness.Command) {
			if a.npcs != nil {
				a.npcs.Sink(ctx, cmds)
			}
		}),
	}
	if a.writer != nil {
		pipeOpts = append(pipeOpts, pipeline.WithPerceptionObserver(a.writer.Observe))
	}
	a.pipeline = pipeline.NewPipeline(a.bus, a.store, a.registry, a.resolver,
		a.caster, a.policy, slot, a.log, svc.PipelinePoll, pipeOpts...)

	a.driver = pipeline.NewDriver(a.bus, a.adjudicator, a.store, slot, a.log, svc.AdjudicationPoll)
	a.roller = roll.NewService(a.bus, a.log, svc.RollPoll)
	a.applier = apply.NewApplier(a.bus, a.store, a.index, slot, a.log, svc.ApplierPoll)
	a.npcs = npcai.NewService(a.pipeline, a.store, a.convs, a.engs, a.assembler,
		a.voice, slot, a.log, svc.NPCPoll)

	if a.cfg.Gateway.Enabled == nil || *a.cfg.Gateway.Enabled {
		a.gateway = gateway.New(a.pipeline, a.store, a.bus, slot, a.log)
	}
}

// initHTTP assembles the health, metrics and gateway endpoints.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(
		health.StoreChecker(a.store, a.cfg.Store.Slot),
		health.BusChecker(a.bus),
		health.TickChecker("movement", a.mover.LastTick, movementStaleAfter),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.gateway != nil {
		mux.Handle(a.cfg.Gateway.Path, a.gateway)
	}
	a.httpSrv = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// ── Seeding ──────────────────────────────────────────────────────────────────

// SeedWorld writes the places, NPCs and actors of a world file into the
// configured slot and rebuilds the place index. Existing records with the
// same ids are overwritten.
func (a *App) SeedWorld(ctx context.Context, wf *world.WorldFile) error {
	slot := a.cfg.Store.Slot
	for _, p := range wf.Places {
		rec := world.PlaceToRecord(p)
		ref := world.Ref{Kind: world.KindPlace, ID: p.ID}
		if err := store.SaveEntity(ctx, a.store, slot, ref, rec); err != nil {
			return fmt.Errorf("seed place %q: %w", p.ID, err)
		}
	}
	seed := func(kind world.RefKind, seeds []world.EntitySeed) error {
		for _, s := range seeds {
			ref := world.Ref{Kind: kind, ID: s.ID}
			if err := store.SaveEntity(ctx, a.store, slot, ref, s.Record()); err != nil {
				return fmt.Errorf("seed %s %q: %w", kind, s.ID, err)
			}
		}
		return nil
	}
	if err := seed(world.KindNPC, wf.NPCs); err != nil {
		return err
	}
	if err := seed(world.KindActor, wf.Actors); err != nil {
		return err
	}
	if err := a.index.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild place index: %w", err)
	}
	a.log.Info("seeded world",
		"world", wf.World.Name,
		"places", len(wf.Places),
		"npcs", len(wf.NPCs),
		"actors", len(wf.Actors))
	return nil
}

// ── Run ──────────────────────────────────────────────────────────────────────

// Run starts every service loop and the HTTP server, then blocks until ctx
// is cancelled or a loop fails. The loops share one errgroup: the first
// error cancels all of them.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pipeline.Run(ctx) })
	g.Go(func() error { return a.driver.Run(ctx) })
	g.Go(func() error { return a.roller.Run(ctx) })
	g.Go(func() error { return a.applier.Run(ctx) })
	g.Go(func() error { return a.turns.Run(ctx) })
	g.Go(func() error { return a.npcs.Run(ctx) })
	g.Go(func() error { return a.runMovement(ctx) })
	if a.gateway != nil {
		g.Go(func() error { return a.gateway.Run(ctx) })
	}

	g.Go(func() error {
		err := a.httpSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	a.log.Info("weald running",
		"session", a.sessionID,
		"addr", a.cfg.Server.ListenAddr,
		"slot", a.cfg.Store.Slot,
		"gateway", a.gateway != nil)
	return g.Wait()
}

// runMovement drives the movement engine at the configured tick, which may
// differ from the engine's default.
func (a *App) runMovement(ctx context.Context) error {
	tick := a.cfg.Services.MovementTick
	if tick <= 0 {
		tick = movement.TickInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			a.mover.Tick(ctx)
			a.metrics.MovementTickDuration.Record(ctx, time.Since(start).Seconds())
		}
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
