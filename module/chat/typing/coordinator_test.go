package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexport/chatlink/module/chat/event"
	"github.com/lexport/chatlink/module/chat/model"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []model.TypingIndicator
}

func (f *fakePublisher) PublishTyping(ind model.TypingIndicator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ind)
	return nil
}

func (f *fakePublisher) snapshot() []model.TypingIndicator {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.TypingIndicator, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestCoordinator(t *testing.T, expiry time.Duration) (*Coordinator, *fakePublisher, *event.Bus) {
	t.Helper()
	pub := &fakePublisher{}
	bus := event.NewBus()
	c := NewCoordinator(Conf{UserID: "self", Expiry: expiry}, pub, nil, bus)
	c.Start()
	t.Cleanup(c.Close)
	return c, pub, bus
}

func TestStartTypingPublishesOnce(t *testing.T) {
	c, pub, _ := newTestCoordinator(t, time.Second)

	require.NoError(t, c.StartTyping("c1"))
	require.NoError(t, c.StartTyping("c1"))
	require.NoError(t, c.StartTyping("c1"))

	sent := pub.snapshot()
	require.Len(t, sent, 1, "keystrokes inside the window only reset the timer")
	assert.True(t, sent[0].IsTyping)
	assert.Equal(t, "c1", sent[0].ConversationID)
	assert.Equal(t, "self", sent[0].UserID)
}

func TestStopTypingPublishesStop(t *testing.T) {
	c, pub, _ := newTestCoordinator(t, time.Second)

	require.NoError(t, c.StartTyping("c1"))
	require.NoError(t, c.StopTyping("c1"))

	sent := pub.snapshot()
	require.Len(t, sent, 2)
	assert.False(t, sent[1].IsTyping)
}

func TestStopTypingWithoutStartIsNoop(t *testing.T) {
	c, pub, _ := newTestCoordinator(t, time.Second)
	require.NoError(t, c.StopTyping("c1"))
	assert.Empty(t, pub.snapshot())
}

func TestTypingExpiresIntoStop(t *testing.T) {
	c, pub, _ := newTestCoordinator(t, 30*time.Millisecond)

	require.NoError(t, c.StartTyping("c1"))
	assert.Eventually(t, func() bool {
		sent := pub.snapshot()
		return len(sent) == 2 && !sent[1].IsTyping
	}, time.Second, 5*time.Millisecond)

	// a fresh start after expiry publishes again
	require.NoError(t, c.StartTyping("c1"))
	assert.Len(t, pub.snapshot(), 3)
}

func TestRepeatedStartDefersExpiry(t *testing.T) {
	c, pub, _ := newTestCoordinator(t, 50*time.Millisecond)

	require.NoError(t, c.StartTyping("c1"))
	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		require.NoError(t, c.StartTyping("c1"))
	}
	// the window kept sliding, so no stop has been published yet
	assert.Len(t, pub.snapshot(), 1)

	assert.Eventually(t, func() bool {
		return len(pub.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestConversationsTrackIndependently(t *testing.T) {
	c, pub, _ := newTestCoordinator(t, time.Second)

	require.NoError(t, c.StartTyping("c1"))
	require.NoError(t, c.StartTyping("c2"))
	require.NoError(t, c.StopTyping("c1"))

	sent := pub.snapshot()
	require.Len(t, sent, 3)
	assert.Equal(t, "c2", sent[1].ConversationID)
	assert.Equal(t, "c1", sent[2].ConversationID)
	assert.False(t, sent[2].IsTyping)
}

func TestRemoteTypingTable(t *testing.T) {
	c, _, bus := newTestCoordinator(t, time.Second)

	bus.Emit(event.TypingEvent{Kind: event.TypingStarted, Indicator: model.TypingIndicator{
		ConversationID: "c1", UserID: "u2", IsTyping: true,
	}})
	bus.Emit(event.TypingEvent{Kind: event.TypingStarted, Indicator: model.TypingIndicator{
		ConversationID: "c1", UserID: "u3", IsTyping: true,
	}})
	assert.ElementsMatch(t, []string{"u2", "u3"}, c.Users("c1"))

	bus.Emit(event.TypingEvent{Kind: event.TypingStopped, Indicator: model.TypingIndicator{
		ConversationID: "c1", UserID: "u2",
	}})
	assert.Equal(t, []string{"u3"}, c.Users("c1"))
}

func TestRemoteTableSkipsSelf(t *testing.T) {
	c, _, bus := newTestCoordinator(t, time.Second)

	bus.Emit(event.TypingEvent{Kind: event.TypingStarted, Indicator: model.TypingIndicator{
		ConversationID: "c1", UserID: "self", IsTyping: true,
	}})
	assert.Empty(t, c.Users("c1"))
}

func TestRemoteEntryExpiresWithoutStop(t *testing.T) {
	c, _, bus := newTestCoordinator(t, 20*time.Millisecond)

	bus.Emit(event.TypingEvent{Kind: event.TypingStarted, Indicator: model.TypingIndicator{
		ConversationID: "c1", UserID: "u2", IsTyping: true,
	}})
	require.Equal(t, []string{"u2"}, c.Users("c1"))

	// the peer vanished without publishing a stop
	assert.Eventually(t, func() bool {
		return len(c.Users("c1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestClearConversation(t *testing.T) {
	c, pub, bus := newTestCoordinator(t, time.Second)

	require.NoError(t, c.StartTyping("c1"))
	bus.Emit(event.TypingEvent{Kind: event.TypingStarted, Indicator: model.TypingIndicator{
		ConversationID: "c1", UserID: "u2", IsTyping: true,
	}})

	c.ClearConversation("c1")
	assert.Empty(t, c.Users("c1"))

	// the expiry was canceled, so no stop gets published later
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, pub.snapshot(), 1)
	// and a stop after the clear is a no-op
	require.NoError(t, c.StopTyping("c1"))
	assert.Len(t, pub.snapshot(), 1)
}
