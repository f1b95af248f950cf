package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"dialogue":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}
	if cfg.Store.Slot < 0 {
		errs = append(errs, fmt.Errorf("store.slot %d is negative", cfg.Store.Slot))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("dialogue", cfg.Dialogue.Provider.Name)
	for _, fb := range cfg.Dialogue.Fallbacks {
		validateProviderName("dialogue", fb.Name)
	}
	validateProviderName("embeddings", cfg.Embeddings.Name)

	// Dialogue availability
	if cfg.Dialogue.Provider.Name == "" {
		slog.Warn("no dialogue provider configured; NPCs will answer from scripted templates only")
	}
	if cfg.Dialogue.Provider.Name == "" && len(cfg.Dialogue.Fallbacks) > 0 {
		errs = append(errs, errors.New("dialogue.fallbacks set without dialogue.provider"))
	}

	// Embeddings ↔ journal dimensions
	if cfg.Embeddings.Name != "" && cfg.Journal.EmbeddingDimensions <= 0 {
		slog.Warn("embeddings configured but journal.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Journal.Enabled != nil && *cfg.Journal.Enabled &&
		cfg.Journal.PostgresDSN == "" && cfg.Store.PostgresDSN == "" {
		slog.Warn("journal has no postgres dsn; NPC long-term memory stays in process memory")
	}

	// Rules bridge
	if b := cfg.Rules.Bridge; b != nil {
		if !b.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("rules.bridge.transport %q is invalid; valid values: stdio, streamable-http", b.Transport))
		}
		if b.Transport == RulesTransportStdio && b.Command == "" {
			errs = append(errs, errors.New("rules.bridge.command is required when transport is stdio"))
		}
		if b.Transport == RulesTransportHTTP && b.URL == "" {
			errs = append(errs, errors.New("rules.bridge.url is required when transport is streamable-http"))
		}
	}

	// Gateway
	if p := cfg.Gateway.Path; p != "" && p[0] != '/' {
		errs = append(errs, fmt.Errorf("gateway.path %q must start with /", p))
	}

	// Service cadences must stay positive once defaulted.
	for _, c := range []struct {
		name string
		v    int64
	}{
		{"services.pipeline_poll", int64(cfg.Services.PipelinePoll)},
		{"services.adjudication_poll", int64(cfg.Services.AdjudicationPoll)},
		{"services.roll_poll", int64(cfg.Services.RollPoll)},
		{"services.applier_poll", int64(cfg.Services.ApplierPoll)},
		{"services.turn_poll", int64(cfg.Services.TurnPoll)},
		{"services.npc_poll", int64(cfg.Services.NPCPoll)},
		{"services.movement_tick", int64(cfg.Services.MovementTick)},
	} {
		if c.v < 0 {
			errs = append(errs, fmt.Errorf("%s is negative", c.name))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
