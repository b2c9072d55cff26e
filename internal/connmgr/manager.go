// Package connmgr implements the Connection Manager (C6): per-conversation
// fan-out of task progress and status events to every live observer
// (typically a websocket connection held by C8), grounded on the gateway
// broadcast manager's parallel-fan-out-with-recover idiom but generalized
// from multi-agent routing to multi-observer-per-conversation.
package connmgr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zeusagent/zeus/pkg/models"
)

// Event is a real-time message pushed to observers of a conversation.
type Event struct {
	ConversationID string           `json:"conversation_id"`
	Type           string           `json:"type"`
	Task           *models.Task     `json:"task,omitempty"`
	Progress       *models.Progress `json:"progress,omitempty"`
}

const (
	EventTaskStatus   = "task_status"
	EventTaskProgress = "task_progress"
)

// Observer receives events for conversations it is attached to. Send must
// not block indefinitely; implementations typically write into a buffered
// channel drained by a per-connection write pump.
type Observer interface {
	ID() string
	Send(evt Event) error
}

// Manager tracks which observers are attached to which conversations and
// fans events out to all of them. A connection observes at most one
// conversation at a time; attachedTo tracks that current conversation per
// observer so Attach can move it atomically.
type Manager struct {
	mu         sync.RWMutex
	observers  map[string]map[string]Observer // conversationID -> observerID -> Observer
	attachedTo map[string]string              // observerID -> conversationID
	log        *slog.Logger
}

// New builds an empty connection manager.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		observers:  make(map[string]map[string]Observer),
		attachedTo: make(map[string]string),
		log:        log,
	}
}

// Attach registers an observer for a conversation's events, first removing
// it from whatever conversation it was previously attached to so a
// connection never observes more than one conversation at once.
func (m *Manager) Attach(conversationID string, obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.attachedTo[obs.ID()]; ok && prev != conversationID {
		m.removeLocked(prev, obs.ID())
	}

	set, ok := m.observers[conversationID]
	if !ok {
		set = make(map[string]Observer)
		m.observers[conversationID] = set
	}
	set[obs.ID()] = obs
	m.attachedTo[obs.ID()] = conversationID
}

// Detach removes an observer from a conversation. Safe to call even if the
// observer was never attached or the conversation has no observers.
func (m *Manager) Detach(conversationID string, observerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(conversationID, observerID)
	if m.attachedTo[observerID] == conversationID {
		delete(m.attachedTo, observerID)
	}
}

// DetachAll removes an observer from every conversation it was attached to,
// used when a connection closes.
func (m *Manager) DetachAll(observerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, set := range m.observers {
		delete(set, observerID)
		if len(set) == 0 {
			delete(m.observers, convID)
		}
	}
	delete(m.attachedTo, observerID)
}

// removeLocked deletes observerID from conversationID's set. Caller must
// hold m.mu.
func (m *Manager) removeLocked(conversationID, observerID string) {
	set, ok := m.observers[conversationID]
	if !ok {
		return
	}
	delete(set, observerID)
	if len(set) == 0 {
		delete(m.observers, conversationID)
	}
}

// BroadcastToConversation delivers evt to every observer attached to
// conversationID, in parallel, recovering from any observer panic so one
// bad connection cannot take down delivery to the others.
func (m *Manager) BroadcastToConversation(ctx context.Context, conversationID string, evt Event) {
	m.mu.RLock()
	set := m.observers[conversationID]
	targets := make([]Observer, 0, len(set))
	for _, obs := range set {
		targets = append(targets, obs)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, obs := range targets {
		wg.Add(1)
		go func(o Observer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("observer panicked during send", "observer", o.ID(), "panic", r)
				}
			}()
			if err := o.Send(evt); err != nil {
				m.log.Warn("observer send failed", "observer", o.ID(), "conversation_id", conversationID, "error", err)
			}
		}(obs)
	}
	wg.Wait()
}

// BroadcastAll delivers evt to every observer attached to any conversation.
func (m *Manager) BroadcastAll(ctx context.Context, evt Event) {
	m.mu.RLock()
	seen := make(map[string]Observer)
	for _, set := range m.observers {
		for id, obs := range set {
			seen[id] = obs
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, obs := range seen {
		wg.Add(1)
		go func(o Observer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("observer panicked during broadcast", "observer", o.ID(), "panic", r)
				}
			}()
			if err := o.Send(evt); err != nil {
				m.log.Warn("observer broadcast failed", "observer", o.ID(), "error", err)
			}
		}(obs)
	}
	wg.Wait()
}

// SendTaskStatus is a convenience wrapper emitting a task_status event.
func (m *Manager) SendTaskStatus(ctx context.Context, task *models.Task) {
	m.BroadcastAll(ctx, Event{
		ConversationID: task.ConversationID,
		Type:           EventTaskStatus,
		Task:           task,
	})
}

// SendTaskProgress is a convenience wrapper emitting a task_progress event.
func (m *Manager) SendTaskProgress(ctx context.Context, conversationID string, p models.Progress) {
	m.BroadcastAll(ctx, Event{
		ConversationID: conversationID,
		Type:           EventTaskProgress,
		Progress:       &p,
	})
}

// ObserverCount reports how many observers are attached to a conversation,
// mainly for tests and diagnostics.
func (m *Manager) ObserverCount(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers[conversationID])
}
