package dispatch

import "sort"

// Registry maps an exact topic name to its handler.
//
// It is not synchronized: register everything before dispatching starts, after
// which concurrent lookups are safe. Registering a topic twice replaces the
// earlier handler without warning.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(topic string, h Handler) {
	r.handlers[topic] = h
}

func (r *Registry) Lookup(topic string) (Handler, bool) {
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (r *Registry) Len() int {
	return len(r.handlers)
}
