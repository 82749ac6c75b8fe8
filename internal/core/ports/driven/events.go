package driven

// EventSink receives structured events for the external observability
// collector: stage transitions, retrieval latencies, cache hit rates,
// groundedness scores. Each event is one flat key-value record.
//
// Emission must never block or fail the calling pipeline; adapters drop
// events they cannot deliver.
type EventSink interface {
	Emit(event string, fields map[string]any)
}
