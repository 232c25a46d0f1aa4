package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventDecision, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventModelReload},
	}}

	decisionEvent := &Event{Type: EventDecision}
	reloadEvent := &Event{Type: EventModelReload}

	if h.shouldSend(client, decisionEvent) {
		t.Error("Should NOT receive decision events")
	}
	if !h.shouldSend(client, reloadEvent) {
		t.Error("Should receive model_reload events")
	}
}

func TestShouldSend_DecisionFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Decisions: []string{"rechazado"},
	}}

	rejected := &Event{
		Type: EventDecision,
		Data: map[string]interface{}{"decision": "rechazado"},
	}
	approved := &Event{
		Type: EventDecision,
		Data: map[string]interface{}{"decision": "aprobado"},
	}

	if !h.shouldSend(client, rejected) {
		t.Error("Should match rechazado decisions")
	}
	if h.shouldSend(client, approved) {
		t.Error("Should NOT match aprobado decisions")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"user-1"},
	}}

	matching := &Event{
		Type: EventDecision,
		Data: map[string]interface{}{"user_id": "user-1"},
	}
	notMatching := &Event{
		Type: EventDecision,
		Data: map[string]interface{}{"user_id": "user-2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on user_id")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated users")
	}
}

func TestShouldSend_MinProbabilityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinProbability: 0.5,
	}}

	high := &Event{
		Type: EventDecision,
		Data: map[string]interface{}{"fraud_probability": 0.8},
	}
	low := &Event{
		Type: EventDecision,
		Data: map[string]interface{}{"fraud_probability": 0.2},
	}
	reload := &Event{
		Type: EventModelReload,
		Data: map[string]interface{}{"version": "v3"},
	}

	if !h.shouldSend(client, high) {
		t.Error("Should receive high-probability decision")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive low-probability decision")
	}
	if !h.shouldSend(client, reload) {
		t.Error("MinProbability filter should only apply to decisions")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventDecision}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"user-1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventModelReload,
		Data: "string data not a map",
	}

	// User filter only applies to decision events, so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-decision event should pass through the user filter")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventDecision, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventDecision,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"decision": "aprobado"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastDecision(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastDecision(map[string]interface{}{
		"credit_uid": "abc", "decision": "rechazado", "fraud_probability": 0.91,
	})
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants model reloads
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventModelReload}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a decision event (should be filtered out)
	h.Broadcast(&Event{Type: EventDecision, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive decision event")
	default:
		// Good - filtered out
	}

	// Send a reload event (should be received)
	h.Broadcast(&Event{Type: EventModelReload, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive model_reload event")
	}
}
