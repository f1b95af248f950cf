// Command weald is the entry point for the weald world engine.
//
// Usage:
//
//	weald run [--config config.yaml] [--slot N]
//	weald force-end-conversation <npc_ref>
//	weald purge-place-entity-index <slot>
//	weald rebuild-place-entity-index <slot>
//
// Exit codes: 0 on success, 1 on startup or runtime failure, 64 on usage
// errors. An unhandled crash surfaces as the Go runtime's own exit code 2.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openweald/weald/internal/app"
	"github.com/openweald/weald/internal/config"
	"github.com/openweald/weald/internal/store"
	"github.com/openweald/weald/internal/world"
	"github.com/openweald/weald/pkg/provider/dialogue"
	"github.com/openweald/weald/pkg/provider/dialogue/anyllm"
	"github.com/openweald/weald/pkg/provider/embeddings"
	ollamaembed "github.com/openweald/weald/pkg/provider/embeddings/ollama"
	oaembed "github.com/openweald/weald/pkg/provider/embeddings/openai"
)

// exitUsage is the sysexits EX_USAGE code; 2 is left to the runtime so a
// crash is distinguishable from a mistyped command line.
const exitUsage = 64

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}
	switch args[0] {
	case "run":
		return runServer(args[1:])
	case "force-end-conversation":
		return runForceEnd(args[1:])
	case "purge-place-entity-index":
		return runIndexOp(args[1:], "purge-place-entity-index")
	case "rebuild-place-entity-index":
		return runIndexOp(args[1:], "rebuild-place-entity-index")
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "weald: unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  weald run [--config config.yaml] [--slot N]
  weald force-end-conversation <npc_ref> [--config config.yaml]
  weald purge-place-entity-index <slot> [--config config.yaml]
  weald rebuild-place-entity-index <slot> [--config config.yaml]`)
}

// ── run ──────────────────────────────────────────────────────────────────────

func runServer(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	slot := fs.Int("slot", -1, "world slot to serve, overriding the config")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	if *slot >= 0 {
		cfg.Store.Slot = *slot
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("weald starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"slot", cfg.Store.Slot,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := seedIfEmpty(ctx, application, cfg); err != nil {
		slog.Error("failed to seed world", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// seedIfEmpty loads the configured world content file into the slot when the
// slot holds no places yet. A populated slot is left untouched so restarts
// never clobber live state.
func seedIfEmpty(ctx context.Context, application *app.App, cfg *config.Config) error {
	if cfg.World.ContentFile == "" {
		return nil
	}
	ids, err := application.Store().List(ctx, cfg.Store.Slot, string(world.KindPlace), store.Filter{})
	if err != nil {
		return fmt.Errorf("list places: %w", err)
	}
	if len(ids) > 0 {
		slog.Info("slot already populated, skipping seed", "slot", cfg.Store.Slot, "places", len(ids))
		return nil
	}
	wf, err := world.LoadWorldFile(cfg.World.ContentFile)
	if err != nil {
		return fmt.Errorf("load world file %q: %w", cfg.World.ContentFile, err)
	}
	return application.SeedWorld(ctx, wf)
}

// ── force-end-conversation ───────────────────────────────────────────────────

// runForceEnd clears the durable presence claim of one NPC so witnesses stop
// treating it as mid-conversation. Works against the shared store; the
// running server notices on its next presence lookup.
func runForceEnd(args []string) int {
	fs := flag.NewFlagSet("force-end-conversation", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "weald: force-end-conversation needs exactly one npc_ref")
		return exitUsage
	}
	ref, err := world.ParseRef(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "weald: bad npc_ref %q: %v\n", fs.Arg(0), err)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weald: %v\n", err)
		return 1
	}
	defer closeFn()

	presence := store.NewPresence(s, cfg.Store.Slot)
	if err := presence.Clear(ctx, ref); err != nil {
		fmt.Fprintf(os.Stderr, "weald: clear presence: %v\n", err)
		return 1
	}
	fmt.Printf("cleared conversation presence for %s in slot %d\n", ref, cfg.Store.Slot)
	return 0
}

// ── index maintenance ────────────────────────────────────────────────────────

func runIndexOp(args []string, op string) int {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "weald: %s needs exactly one slot number\n", op)
		return exitUsage
	}
	slot, err := strconv.Atoi(fs.Arg(0))
	if err != nil || slot < 0 {
		fmt.Fprintf(os.Stderr, "weald: bad slot %q\n", fs.Arg(0))
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weald: %v\n", err)
		return 1
	}
	defer closeFn()

	ix := store.NewPlaceIndex(s, slot)
	switch op {
	case "purge-place-entity-index":
		if err := ix.Purge(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "weald: purge index: %v\n", err)
			return 1
		}
		fmt.Printf("purged place-entity index in slot %d\n", slot)
	case "rebuild-place-entity-index":
		if err := ix.Rebuild(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "weald: rebuild index: %v\n", err)
			return 1
		}
		fmt.Printf("rebuilt place-entity index in slot %d\n", slot)
	}
	return 0
}

// openStore connects the configured store backend. Memory-backed tooling
// operates on a fresh empty store, which only makes sense for dry runs; the
// maintenance commands are meant for the postgres backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping: %w", err)
		}
		pg := store.NewPG(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		slog.Warn("store backend is memory; maintenance commands see an empty store")
		return store.NewMemStore(), func() {}, nil
	}
}

// ── Config and providers ─────────────────────────────────────────────────────

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "weald: config file %q not found — copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "weald: %v\n", err)
		}
		return nil, err
	}
	return cfg, nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// Cloud dialogue backends share the pattern: optional APIKey + BaseURL.
	for _, providerName := range config.ValidProviderNames["dialogue"] {
		reg.RegisterDialogue(providerName, dialogueFactory(providerName))
	}

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return oaembed.New(apiKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// dialogueFactory builds the anyllm-backed factory for one backend name.
func dialogueFactory(providerName string) func(config.ProviderEntry) (dialogue.Provider, error) {
	return func(entry config.ProviderEntry) (dialogue.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(providerName, entry.Model, opts...)
	}
}

// buildProviders instantiates the providers named in cfg via the registry,
// in fallback order, for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	appendDialogue := func(entry config.ProviderEntry) error {
		if entry.Name == "" {
			return nil
		}
		p, err := reg.CreateDialogue(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("dialogue provider not registered — skipping", "name", entry.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("create dialogue provider %q: %w", entry.Name, err)
		}
		ps.Dialogue = append(ps.Dialogue, app.DialogueEntry{
			Name:     entry.Name + "/" + entry.Model,
			Provider: p,
		})
		slog.Info("provider created", "kind", "dialogue", "name", entry.Name, "model", entry.Model)
		return nil
	}

	if err := appendDialogue(cfg.Dialogue.Provider); err != nil {
		return nil, err
	}
	for _, fb := range cfg.Dialogue.Fallbacks {
		if err := appendDialogue(fb); err != nil {
			return nil, err
		}
	}

	if name := cfg.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          weald — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Dialogue", cfg.Dialogue.Provider.Name, cfg.Dialogue.Provider.Model)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Dialogue.Fallbacks))
	printProvider("Embeddings", cfg.Embeddings.Name, cfg.Embeddings.Model)
	printValue("Store", string(cfg.Store.Backend))
	printValue("Slot", strconv.Itoa(cfg.Store.Slot))
	if cfg.Rules.Bridge != nil {
		printValue("Rules bridge", string(cfg.Rules.Bridge.Transport))
	} else {
		printValue("Rules bridge", "(builtin)")
	}
	if cfg.Gateway.Enabled == nil || *cfg.Gateway.Enabled {
		printValue("Gateway", cfg.Gateway.Path)
	} else {
		printValue("Gateway", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printValue("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
