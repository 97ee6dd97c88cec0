package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the scalar map shared between agents in one multi-agent plan.
type State struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func NewState() *State {
	return &State{values: make(map[string]interface{})}
}

func (s *State) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *State) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Message is one inter-agent message in a multi-agent plan.
type Message struct {
	From    string
	To      string
	Payload map[string]interface{}
}

// Hub routes messages between the agents of one plan. Each registered agent
// owns a bounded inbox channel; the hub itself holds no message state.
type Hub struct {
	mu       sync.Mutex
	inboxes  map[string]chan Message
	state    *State
	capacity int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 16
	}
	return &Hub{
		inboxes:  make(map[string]chan Message),
		state:    NewState(),
		capacity: capacity,
	}
}

// State returns the shared scalar map.
func (h *Hub) State() *State {
	return h.state
}

// Register creates the inbox for an agent. Registering twice is an error.
func (h *Hub) Register(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxes[name]; ok {
		return fmt.Errorf("agent %q is already registered", name)
	}
	h.inboxes[name] = make(chan Message, h.capacity)
	return nil
}

// Send delivers a message to the recipient's inbox without blocking. A full
// inbox or unknown recipient is an error.
func (h *Hub) Send(msg Message) error {
	h.mu.Lock()
	inbox, ok := h.inboxes[msg.To]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown recipient %q", msg.To)
	}

	select {
	case inbox <- msg:
		return nil
	default:
		return fmt.Errorf("inbox for %q is full", msg.To)
	}
}

// Receive blocks until a message arrives for the agent, the timeout expires,
// or the context is cancelled.
func (h *Hub) Receive(ctx context.Context, name string, timeout time.Duration) (Message, error) {
	h.mu.Lock()
	inbox, ok := h.inboxes[name]
	h.mu.Unlock()
	if !ok {
		return Message{}, fmt.Errorf("agent %q is not registered", name)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-inbox:
		return msg, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("timed out waiting for message to %q", name)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
