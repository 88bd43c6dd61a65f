package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexport/chatlink/module/chat/model"
)

var windowEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, at time.Duration) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "other",
		Body:           "body " + id,
		Kind:           model.KindUser,
		Status:         model.StatusSent,
		CreatedAt:      windowEpoch.Add(at),
	}
}

func idsOf(msgs []*model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestWindowOrdersByCreationTime(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("m3", 3*time.Second))
	w.Upsert(msg("m1", 1*time.Second))
	w.Upsert(msg("m2", 2*time.Second))

	assert.Equal(t, []string{"m1", "m2", "m3"}, idsOf(w.Snapshot()))
}

func TestWindowTieBreaksOnID(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("mB", time.Second))
	w.Upsert(msg("mA", time.Second))

	assert.Equal(t, []string{"mA", "mB"}, idsOf(w.Snapshot()))
}

func TestWindowUpsertIsIdempotent(t *testing.T) {
	w := NewWindow("c1")
	assert.True(t, w.Upsert(msg("m1", time.Second)))
	assert.False(t, w.Upsert(msg("m1", time.Second)))
	assert.Equal(t, 1, w.Len())
}

func TestWindowUpsertRejectsForeignConversation(t *testing.T) {
	w := NewWindow("c1")
	m := msg("m1", time.Second)
	m.ConversationID = "c2"
	assert.False(t, w.Upsert(m))
	assert.Zero(t, w.Len())
}

func TestWindowUpdateMergesBody(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("m1", time.Second))

	upd := msg("m1", time.Second)
	upd.Body = "edited"
	upd.Edited = true
	w.Upsert(upd)

	got := w.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "edited", got[0].Body)
	assert.True(t, got[0].Edited)
}

func TestWindowDeleteWinsOverLateUpdate(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("m1", time.Second))
	assert.True(t, w.Delete("m1"))

	// an out-of-order update must not resurrect the row
	assert.False(t, w.Upsert(msg("m1", time.Second)))
	assert.Zero(t, w.Len())
}

func TestWindowDeleteIsIdempotent(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("m1", time.Second))
	assert.True(t, w.Delete("m1"))
	assert.False(t, w.Delete("m1"))
	assert.False(t, w.Delete("never-there"))
}

func TestWindowStatusOnlyMovesForward(t *testing.T) {
	w := NewWindow("c1")
	m := msg("m1", time.Second)
	m.Status = model.StatusDelivered
	w.Upsert(m)

	assert.False(t, w.SetStatus("m1", model.StatusSent), "no regression")
	assert.True(t, w.SetStatus("m1", model.StatusRead))
	assert.False(t, w.SetStatus("m1", model.StatusError), "read is terminal")
}

func TestWindowStatusRegressionViaUpsertIgnored(t *testing.T) {
	w := NewWindow("c1")
	m := msg("m1", time.Second)
	m.Status = model.StatusRead
	w.Upsert(m)

	stale := msg("m1", time.Second)
	stale.Status = model.StatusDelivered
	w.Upsert(stale)

	assert.Equal(t, model.StatusRead, w.Snapshot()[0].Status)
}

func TestWindowReconcileReplacesPendingEntry(t *testing.T) {
	w := NewWindow("c1")
	pending := msg("pending:abc", time.Second)
	pending.Status = model.StatusSending
	pending.ClientMsgID = "abc"
	w.Upsert(pending)

	durable := msg("m-durable", time.Second)
	durable.ClientMsgID = "abc"
	require.True(t, w.Reconcile("abc", durable))

	assert.Equal(t, []string{"m-durable"}, idsOf(w.Snapshot()))
}

func TestWindowInboundEventReconcilesPending(t *testing.T) {
	w := NewWindow("c1")
	pending := msg("pending:abc", time.Second)
	pending.Status = model.StatusSending
	pending.ClientMsgID = "abc"
	w.Upsert(pending)

	// the change notification for our own send arrives before the API reply
	durable := msg("m-durable", time.Second)
	durable.ClientMsgID = "abc"
	assert.True(t, w.Upsert(durable))
	assert.Equal(t, []string{"m-durable"}, idsOf(w.Snapshot()))

	// the late Reconcile then finds the durable row already present
	assert.True(t, w.Reconcile("abc", durable))
	assert.Equal(t, 1, w.Len())
}

func TestWindowMergeOlderPagePrepends(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("m10", 10*time.Second))
	w.Upsert(msg("m11", 11*time.Second))

	w.Merge([]*model.Message{
		msg("m1", 1*time.Second),
		msg("m2", 2*time.Second),
	})
	assert.Equal(t, []string{"m1", "m2", "m10", "m11"}, idsOf(w.Snapshot()))

	oldest, ok := w.Oldest()
	require.True(t, ok)
	assert.Equal(t, "m1", oldest.ID)
}

func TestWindowOldestEmpty(t *testing.T) {
	w := NewWindow("c1")
	_, ok := w.Oldest()
	assert.False(t, ok)
}

func TestWindowSnapshotIsACopy(t *testing.T) {
	w := NewWindow("c1")
	w.Upsert(msg("m1", time.Second))

	snap := w.Snapshot()
	snap[0].Body = "mutated"
	assert.Equal(t, "body m1", w.Snapshot()[0].Body)
}
