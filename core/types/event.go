package types

// Attribute is a single named field of an Event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event represents a typed event emitted during state transitions. Attributes
// keep their emission order so audit consumers see a stable field layout.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// NewEvent returns an empty event of the given type.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType}
}

// Add appends an attribute and returns the event for chaining.
func (e *Event) Add(key, value string) *Event {
	e.Attributes = append(e.Attributes, Attribute{Key: key, Value: value})
	return e
}

// Get returns the value of the first attribute named key.
func (e *Event) Get(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, attr := range e.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// Map flattens the attributes into a map, mainly for indexers and tests.
func (e *Event) Map() map[string]string {
	out := make(map[string]string, len(e.Attributes))
	for _, attr := range e.Attributes {
		out[attr.Key] = attr.Value
	}
	return out
}
