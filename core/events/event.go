package events

// Event represents a structured state change emitted by the pricing core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (journal, RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default wiring when a component does not need an audit trail.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
