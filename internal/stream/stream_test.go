package stream_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/pubsub"
	"github.com/investomania/trading-engine/internal/stream"
)

func TestHandleWS_RequiresScenarioID(t *testing.T) {
	hub := stream.NewHub(pubsub.NewBus())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without scenario_id, got %d", resp.StatusCode)
	}
}

func TestHandleWS_ForwardsBusEvents(t *testing.T) {
	bus := pubsub.NewBus()
	hub := stream.NewHub(bus)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?scenario_id=scn1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// The subscription exists once the upgrade completes, so this publish
	// cannot race past the client.
	bus.Publish(pubsub.PriceTopic("scn1"), pubsub.Event{
		Type:         pubsub.EventPriceTick,
		ScenarioID:   "scn1",
		InstrumentID: "inst1",
		Price:        decimal.NewFromInt(101),
		TS:           time.Now().UTC(),
	})
	bus.Publish(pubsub.TradeTopic("scn1"), pubsub.Event{
		Type:       pubsub.EventTrade,
		ScenarioID: "scn1",
		UserID:     "user1",
		Side:       "buy",
		Quantity:   decimal.NewFromInt(5),
		Price:      decimal.NewFromInt(101),
		TS:         time.Now().UTC(),
	})

	seen := map[pubsub.EventType]bool{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var ev pubsub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read failed with %d/2 events seen: %v", len(seen), err)
		}
		if ev.ScenarioID != "scn1" {
			t.Errorf("wrong scenario on event: %+v", ev)
		}
		seen[ev.Type] = true
	}

	if !seen[pubsub.EventPriceTick] || !seen[pubsub.EventTrade] {
		t.Errorf("missing event types: %v", seen)
	}
}

func TestHandleWS_OtherScenarioEventsNotDelivered(t *testing.T) {
	bus := pubsub.NewBus()
	hub := stream.NewHub(bus)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?scenario_id=scn1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	bus.Publish(pubsub.PriceTopic("scn2"), pubsub.Event{Type: pubsub.EventPriceTick, ScenarioID: "scn2"})
	bus.Publish(pubsub.PriceTopic("scn1"), pubsub.Event{Type: pubsub.EventPriceTick, ScenarioID: "scn1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev pubsub.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	// The first (and only) delivery must be scn1's event.
	if ev.ScenarioID != "scn1" {
		t.Errorf("received another scenario's event: %+v", ev)
	}
}
