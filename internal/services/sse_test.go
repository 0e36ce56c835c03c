package services

import (
	"testing"
	"time"
)

func TestSSEHub_NewSSEHub(t *testing.T) {
	hub := NewSSEHub()
	if hub == nil {
		t.Fatal("NewSSEHub should not return nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("new hub should have 0 clients, got %d", hub.ClientCount())
	}
}

func TestSSEHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewSSEHub()

	hub.Subscribe("client1")
	ch2 := hub.Subscribe("client2")
	if hub.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.ClientCount())
	}

	hub.Unsubscribe("client1")
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unsubscribe, got %d", hub.ClientCount())
	}

	hub.Unsubscribe("nonexistent")
	if hub.ClientCount() != 1 {
		t.Errorf("unsubscribing nonexistent should not affect count, got %d", hub.ClientCount())
	}

	hub.Unsubscribe("client2")
	if _, ok := <-ch2; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestSSEHub_PublishMultipleClients(t *testing.T) {
	hub := NewSSEHub()

	ch1 := hub.Subscribe("client1")
	ch2 := hub.Subscribe("client2")

	hub.Publish(PipelineEvent{Stage: StageScraped, Source: "forum", Count: 12})

	for i, ch := range []<-chan PipelineEvent{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Stage != StageScraped || received.Count != 12 {
				t.Errorf("client%d: event = %+v", i+1, received)
			}
			if received.Time.IsZero() {
				t.Errorf("client%d: Time should be stamped on publish", i+1)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client%d: timed out waiting for event", i+1)
		}
	}
}

func TestSSEHub_NonBlockingPublish(t *testing.T) {
	hub := NewSSEHub()
	hub.Subscribe("slow_client")

	for i := range 200 {
		hub.Publish(PipelineEvent{Stage: StageIdea, Count: i})
	}
}

func TestSSEHub_NilHubDiscards(t *testing.T) {
	var hub *SSEHub
	hub.Publish(PipelineEvent{Stage: StageStarted})
}

func TestSSEHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe("client1")

	hub.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, expected 0", hub.ClientCount())
	}
	hub.Unsubscribe("client1")
}
