package infra

import (
	"strings"
	"sync"
	"time"
)

// SystemEvent is an ephemeral system-state note (e.g. a tier failover)
// destined to be folded into a conversation's next prompt as context.
type SystemEvent struct {
	Text      string
	Timestamp time.Time
}

// SystemEventsQueue buffers per-conversation system events between
// orchestrator runs. A conversation's sandbox session and message history
// persist across multiple Run calls (one per chat turn or background
// task), so an event recorded mid-turn (a tier falling back) needs
// somewhere to live until the next turn picks it up.
type SystemEventsQueue struct {
	mu                 sync.Mutex
	byID               map[string]*conversationEvents
	maxPerConversation int
}

type conversationEvents struct {
	events   []SystemEvent
	lastText string
}

// NewSystemEventsQueue creates an empty queue. At most 20 events are
// retained per conversation before the oldest are dropped.
func NewSystemEventsQueue() *SystemEventsQueue {
	return &SystemEventsQueue{
		byID:               make(map[string]*conversationEvents),
		maxPerConversation: 20,
	}
}

// Enqueue records a system event for conversationID. A text identical to
// the immediately preceding event is suppressed, so a tier stuck in a
// failover loop doesn't spam the next prompt with repeats.
func (q *SystemEventsQueue) Enqueue(conversationID, text string) {
	conversationID = strings.TrimSpace(conversationID)
	text = strings.TrimSpace(text)
	if conversationID == "" || text == "" {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.byID[conversationID]
	if !ok {
		c = &conversationEvents{}
		q.byID[conversationID] = c
	}
	if c.lastText == text {
		return
	}
	c.lastText = text
	c.events = append(c.events, SystemEvent{Text: text, Timestamp: time.Now()})
	if len(c.events) > q.maxPerConversation {
		c.events = c.events[len(c.events)-q.maxPerConversation:]
	}
}

// DrainText removes and returns all pending event texts for a
// conversation, in recorded order. Returns nil if there are none.
func (q *SystemEventsQueue) DrainText(conversationID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.byID[conversationID]
	if !ok || len(c.events) == 0 {
		return nil
	}
	texts := make([]string, len(c.events))
	for i, e := range c.events {
		texts[i] = e.Text
	}
	delete(q.byID, conversationID)
	return texts
}
