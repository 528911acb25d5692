package kafka

import (
	"fmt"
)

// CommitPolicy selects when a route commits offsets.
type CommitPolicy int

const (
	// PolicyCommitLast commits once the handler has succeeded or the message has been
	// dead-lettered. Failed messages are redelivered.
	PolicyCommitLast CommitPolicy = iota
	// PolicyCommitFirst commits before the handler runs. Failed messages are lost.
	PolicyCommitFirst
)

func (p CommitPolicy) String() string {
	if p == PolicyCommitFirst {
		return "commit-first"
	}
	return "commit-last"
}

type route struct {
	topic   string
	handler Handler
	policy  CommitPolicy
	request bool
}

type RouteOption func(*route)

// WithCommitFirst registers the route with PolicyCommitFirst.
func WithCommitFirst() RouteOption {
	return func(r *route) {
		r.policy = PolicyCommitFirst
	}
}

// Router maps topics to handlers. Register every route before building the consumer.
type Router struct {
	routes map[string]*route
	order  []string
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]*route)}
}

// Handle registers h for topic. Registering a topic twice panics.
func (r *Router) Handle(topic string, h Handler, opts ...RouteOption) {
	r.add(&route{topic: topic, handler: h}, opts)
}

// HandleRequest registers h for topic and publishes its result as the reply to
// requests that name a reply topic.
func (r *Router) HandleRequest(topic string, h Handler, opts ...RouteOption) {
	r.add(&route{topic: topic, handler: h, request: true}, opts)
}

func (r *Router) add(rt *route, opts []RouteOption) {
	if rt.topic == "" {
		panic("kafka: route topic is empty")
	}
	if rt.handler == nil {
		panic(fmt.Sprintf("kafka: nil handler for topic %q", rt.topic))
	}
	if _, exists := r.routes[rt.topic]; exists {
		panic(fmt.Sprintf("kafka: multiple registrations for topic %q", rt.topic))
	}
	for _, opt := range opts {
		opt(rt)
	}
	r.routes[rt.topic] = rt
	r.order = append(r.order, rt.topic)
}

// Topics returns the registered topics in registration order.
func (r *Router) Topics() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Policy returns the commit policy of topic.
func (r *Router) Policy(topic string) (CommitPolicy, bool) {
	rt, ok := r.routes[topic]
	if !ok {
		return 0, false
	}
	return rt.policy, true
}
