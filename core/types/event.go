package types

// Event is the wire form of a pricing-core fact: a type tag plus flat string
// attributes, suitable for journaling and replay by downstream indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
