package events

import "testing"

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventCycleLog, 1)
	defer unsub()

	bus.Publish(EventCycleLog, CycleLogEvent{TraderID: 1, Message: "hello"})

	got, ok := (<-ch).(CycleLogEvent)
	if !ok || got.Message != "hello" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderDispatched, 1)
	defer unsub()

	// Second publish must not block the trading loop.
	bus.Publish(EventOrderDispatched, OrderEvent{Ticket: 1})
	bus.Publish(EventOrderDispatched, OrderEvent{Ticket: 2})

	got := (<-ch).(OrderEvent)
	if got.Ticket != 1 {
		t.Fatalf("expected first message kept, got ticket %d", got.Ticket)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected overflow dropped, got %v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventDecision, 1)
	unsub()

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventDecision, DecisionEvent{TraderID: 1})
}
