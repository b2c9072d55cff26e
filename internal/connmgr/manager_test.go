package connmgr

import (
	"context"
	"sync"
	"testing"

	"github.com/zeusagent/zeus/pkg/models"
)

type fakeObserver struct {
	id      string
	mu      sync.Mutex
	events  []Event
	failing bool
}

func (f *fakeObserver) ID() string { return f.id }

func (f *fakeObserver) Send(evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errFake
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeObserver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

var errFake = &fakeErr{}

type fakeErr struct{}

func (e *fakeErr) Error() string { return "fake send failure" }

func TestAttachAndBroadcastToConversation(t *testing.T) {
	m := New(nil)
	obs1 := &fakeObserver{id: "a"}
	obs2 := &fakeObserver{id: "b"}
	m.Attach("conv-1", obs1)
	m.Attach("conv-1", obs2)
	m.Attach("conv-2", &fakeObserver{id: "c"})

	m.BroadcastToConversation(context.Background(), "conv-1", Event{Type: EventTaskStatus})

	if obs1.count() != 1 || obs2.count() != 1 {
		t.Fatalf("expected both conv-1 observers to receive one event, got %d %d", obs1.count(), obs2.count())
	}
}

func TestDetachRemovesObserver(t *testing.T) {
	m := New(nil)
	obs := &fakeObserver{id: "a"}
	m.Attach("conv-1", obs)
	m.Detach("conv-1", "a")

	if m.ObserverCount("conv-1") != 0 {
		t.Fatal("expected conversation to have no observers after detach")
	}
}

func TestDetachAllRemovesAcrossConversations(t *testing.T) {
	m := New(nil)
	obs := &fakeObserver{id: "a"}
	m.Attach("conv-1", obs)
	m.DetachAll("a")

	if m.ObserverCount("conv-1") != 0 {
		t.Fatal("expected observer removed from its conversation")
	}
}

func TestAttachMovesObserverBetweenConversations(t *testing.T) {
	m := New(nil)
	obs := &fakeObserver{id: "a"}
	m.Attach("conv-1", obs)
	m.Attach("conv-2", obs)

	if m.ObserverCount("conv-1") != 0 {
		t.Fatal("expected observer removed from its previous conversation")
	}
	if m.ObserverCount("conv-2") != 1 {
		t.Fatal("expected observer attached to the new conversation")
	}

	m.BroadcastToConversation(context.Background(), "conv-1", Event{Type: EventTaskStatus})
	if obs.count() != 0 {
		t.Fatal("expected no event delivered for a conversation the observer left")
	}
}

func TestBroadcastSurvivesFailingObserver(t *testing.T) {
	m := New(nil)
	bad := &fakeObserver{id: "bad", failing: true}
	good := &fakeObserver{id: "good"}
	m.Attach("conv-1", bad)
	m.Attach("conv-1", good)

	m.BroadcastToConversation(context.Background(), "conv-1", Event{Type: EventTaskStatus})

	if good.count() != 1 {
		t.Fatal("expected healthy observer to still receive the event")
	}
}

func TestSendTaskStatusUsesConversationFromTask(t *testing.T) {
	m := New(nil)
	obs := &fakeObserver{id: "a"}
	m.Attach("conv-1", obs)

	m.SendTaskStatus(context.Background(), &models.Task{ID: "t1", ConversationID: "conv-1", Status: models.TaskCompleted})

	if obs.count() != 1 {
		t.Fatal("expected task status event delivered")
	}
}
