// Package observe provides application-wide observability primitives for
// weald: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all weald metrics.
const meterName = "github.com/openweald/weald"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks intent dwell time per pipeline stage. Use with:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// AdjudicationDuration tracks one adjudication iteration end to end.
	AdjudicationDuration metric.Float64Histogram

	// MovementTickDuration tracks one movement engine tick.
	MovementTickDuration metric.Float64Histogram

	// DialogueDuration tracks NPC dialogue provider latency.
	DialogueDuration metric.Float64Histogram

	// --- Counters ---

	// Intents counts submitted intents. Use with attributes:
	//   attribute.String("verb", ...), attribute.String("source", ...)
	Intents metric.Int64Counter

	// IntentFailures counts intents that failed before apply. Use with:
	//   attribute.String("verb", ...), attribute.String("kind", ...)
	IntentFailures metric.Int64Counter

	// PerceptionEvents counts perception events delivered to observers.
	// Use with attribute.String("sense", ...).
	PerceptionEvents metric.Int64Counter

	// Reactions counts witness reaction commands by type.
	Reactions metric.Int64Counter

	// TurnTransitions counts timed-event phase transitions. Use with:
	//   attribute.String("type", ...), attribute.String("phase", ...)
	TurnTransitions metric.Int64Counter

	// NPCReplies counts NPC spoken lines. Use with:
	//   attribute.String("npc", ...), attribute.String("voice", ...)
	NPCReplies metric.Int64Counter

	// --- Gauges ---

	// BusDepth tracks Outbox envelopes awaiting their next consumer.
	BusDepth metric.Int64UpDownCounter

	// ActiveEvents tracks open timed events (combat, conversation, exploration).
	ActiveEvents metric.Int64UpDownCounter

	// GatewayClients tracks connected websocket clients.
	GatewayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// sub-second service polls up to multi-second LLM calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("weald.stage.duration",
		metric.WithDescription("Intent dwell time per pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AdjudicationDuration, err = m.Float64Histogram("weald.adjudication.duration",
		metric.WithDescription("Latency of one adjudication iteration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MovementTickDuration, err = m.Float64Histogram("weald.movement.tick.duration",
		metric.WithDescription("Duration of one movement engine tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialogueDuration, err = m.Float64Histogram("weald.dialogue.duration",
		metric.WithDescription("Latency of NPC dialogue provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Intents, err = m.Int64Counter("weald.intents",
		metric.WithDescription("Total submitted intents by verb and authority."),
	); err != nil {
		return nil, err
	}
	if met.IntentFailures, err = m.Int64Counter("weald.intent.failures",
		metric.WithDescription("Total failed intents by verb and fault kind."),
	); err != nil {
		return nil, err
	}
	if met.PerceptionEvents, err = m.Int64Counter("weald.perception.events",
		metric.WithDescription("Total perception events delivered, by sense."),
	); err != nil {
		return nil, err
	}
	if met.Reactions, err = m.Int64Counter("weald.witness.reactions",
		metric.WithDescription("Total witness reaction commands by type."),
	); err != nil {
		return nil, err
	}
	if met.TurnTransitions, err = m.Int64Counter("weald.turns.transitions",
		metric.WithDescription("Total timed-event phase transitions by type and phase."),
	); err != nil {
		return nil, err
	}
	if met.NPCReplies, err = m.Int64Counter("weald.npc.replies",
		metric.WithDescription("Total NPC spoken lines by NPC and voice source."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.BusDepth, err = m.Int64UpDownCounter("weald.bus.depth",
		metric.WithDescription("Outbox envelopes awaiting their next consumer."),
	); err != nil {
		return nil, err
	}
	if met.ActiveEvents, err = m.Int64UpDownCounter("weald.turns.active_events",
		metric.WithDescription("Open timed events."),
	); err != nil {
		return nil, err
	}
	if met.GatewayClients, err = m.Int64UpDownCounter("weald.gateway.clients",
		metric.WithDescription("Connected websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("weald.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordIntent records one submitted intent.
func (m *Metrics) RecordIntent(ctx context.Context, verb, source string) {
	m.Intents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("verb", verb),
			attribute.String("source", source),
		),
	)
}

// RecordIntentFailure records one failed intent with its fault kind.
func (m *Metrics) RecordIntentFailure(ctx context.Context, verb, kind string) {
	m.IntentFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("verb", verb),
			attribute.String("kind", kind),
		),
	)
}

// RecordStage records the dwell time of an intent in one stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordPerception records n perception events delivered through one sense.
func (m *Metrics) RecordPerception(ctx context.Context, sense string, n int64) {
	m.PerceptionEvents.Add(ctx, n,
		metric.WithAttributes(attribute.String("sense", sense)),
	)
}

// RecordReaction records one witness reaction command.
func (m *Metrics) RecordReaction(ctx context.Context, typ string) {
	m.Reactions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", typ)),
	)
}

// RecordTurnTransition records one timed-event phase transition.
func (m *Metrics) RecordTurnTransition(ctx context.Context, eventType, phase string) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", eventType),
			attribute.String("phase", phase),
		),
	)
}

// RecordNPCReply records one NPC spoken line. voice names the source:
// "scripted" or the dialogue model id.
func (m *Metrics) RecordNPCReply(ctx context.Context, npc, voice string) {
	m.NPCReplies.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("npc", npc),
			attribute.String("voice", voice),
		),
	)
}
