package strategy

import (
	"context"
	"sync"
)

// Script is a canned Source: a fixed per-instance sequence of actions,
// replayed one per cycle in the order they were added. The sim run uses it
// to drive the engine's action path without a live decision process.
type Script struct {
	mu     sync.Mutex
	queues map[string][]Action
}

func NewScript() *Script {
	return &Script{queues: make(map[string][]Action)}
}

// Add appends an action to an instance's sequence.
func (s *Script) Add(instanceID string, a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[instanceID] = append(s.queues[instanceID], a)
}

// Actions pops the instance's next action, or nothing once the sequence is
// exhausted.
func (s *Script) Actions(ctx context.Context, instanceID string) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[instanceID]
	if len(q) == 0 {
		return nil, nil
	}
	s.queues[instanceID] = q[1:]
	return []Action{q[0]}, nil
}
