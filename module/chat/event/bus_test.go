package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexport/chatlink/module/chat/model"
)

func TestBusDeliversInEmissionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.On(MessageReceived, func(ev Event) {
		me := ev.(MessageEvent)
		got = append(got, me.Message.ID)
	})

	for _, id := range []string{"m1", "m2", "m3"} {
		bus.Emit(MessageEvent{Kind: MessageReceived, Message: &model.Message{ID: id}})
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestBusListenersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var got []int
	bus.On(TypingStarted, func(Event) { got = append(got, 1) })
	bus.On(TypingStarted, func(Event) { got = append(got, 2) })
	bus.On(TypingStarted, func(Event) { got = append(got, 3) })

	bus.Emit(TypingEvent{Kind: TypingStarted})
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestBusTypeIsolation(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.On(TypingStopped, func(Event) { calls++ })

	bus.Emit(TypingEvent{Kind: TypingStarted})
	assert.Zero(t, calls)
	bus.Emit(TypingEvent{Kind: TypingStopped})
	assert.Equal(t, 1, calls)
}

func TestBusOffIsIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	off := bus.On(PresenceChanged, func(Event) { calls++ })

	bus.Emit(PresenceEvent{})
	off()
	off()
	bus.Emit(PresenceEvent{})
	assert.Equal(t, 1, calls)
}

func TestBusOffRemovesOnlyItsListener(t *testing.T) {
	bus := NewBus()
	var got []int
	off1 := bus.On(ConnStatusChanged, func(Event) { got = append(got, 1) })
	bus.On(ConnStatusChanged, func(Event) { got = append(got, 2) })

	off1()
	bus.Emit(ConnStatusEvent{State: model.ConnConnected})
	assert.Equal(t, []int{2}, got)
}

func TestBusPanickingListenerIsIsolated(t *testing.T) {
	bus := NewBus()
	var got []int
	bus.On(MessageDeleted, func(Event) { got = append(got, 1) })
	bus.On(MessageDeleted, func(Event) { panic("listener blew up") })
	bus.On(MessageDeleted, func(Event) { got = append(got, 3) })

	assert.NotPanics(t, func() {
		bus.Emit(MessageDeletedEvent{ConversationID: "c1", MessageID: "m1"})
	})
	assert.Equal(t, []int{1, 3}, got)
}

func TestBusReset(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.On(ConversationUpdated, func(Event) { calls++ })

	bus.Reset()
	bus.Emit(ConversationEvent{Conversation: &model.Conversation{ID: "c1"}})
	assert.Zero(t, calls)
}
