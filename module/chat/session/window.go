package session

import (
	"sort"
	"sync"

	"github.com/lexport/chatlink/module/chat/model"
)

// Window is the consumer-visible message slice of one conversation. It
// absorbs unordered, at-least-once change events and always renders in
// ascending creation order: upserts are idempotent by id, deletes win over
// late updates via tombstones, and delivery status only moves forward.
type Window struct {
	mu         sync.Mutex
	convID     string
	msgs       []*model.Message
	byID       map[string]*model.Message
	byClient   map[string]*model.Message // client_msg_id -> pending entry
	tombstones map[string]struct{}
}

func NewWindow(convID string) *Window {
	return &Window{
		convID:     convID,
		byID:       make(map[string]*model.Message),
		byClient:   make(map[string]*model.Message),
		tombstones: make(map[string]struct{}),
	}
}

func (w *Window) ConversationID() string { return w.convID }

// Upsert applies an insert or update. Returns true when a new entry
// appeared (as opposed to an existing one being updated or the event being
// dropped).
func (w *Window) Upsert(m *model.Message) bool {
	if m == nil || m.ConversationID != w.convID {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dead := w.tombstones[m.ID]; dead {
		return false
	}
	// reconcile an optimistic entry once the durable row shows up
	if m.ClientMsgID != "" {
		if pending, ok := w.byClient[m.ClientMsgID]; ok && pending.ID != m.ID {
			w.removeLocked(pending.ID)
			delete(w.tombstones, pending.ID)
		}
	}
	if existing, ok := w.byID[m.ID]; ok {
		w.mergeLocked(existing, m)
		return false
	}

	cp := *m
	w.msgs = append(w.msgs, &cp)
	w.byID[cp.ID] = &cp
	if cp.ClientMsgID != "" {
		w.byClient[cp.ClientMsgID] = &cp
	}
	w.sortLocked()
	return true
}

// mergeLocked folds an update into an existing entry, keeping the forward-
// only status rule.
func (w *Window) mergeLocked(dst, src *model.Message) {
	dst.Body = src.Body
	dst.Edited = src.Edited
	dst.EditedAt = src.EditedAt
	dst.Metadata = src.Metadata
	dst.Attachments = src.Attachments
	if src.Status != dst.Status && model.CanTransition(dst.Status, src.Status) {
		dst.Status = src.Status
	}
	if !src.CreatedAt.IsZero() && !src.CreatedAt.Equal(dst.CreatedAt) {
		dst.CreatedAt = src.CreatedAt
		w.sortLocked()
	}
}

// Delete removes the message and tombstones its id so a late update cannot
// resurrect it. Idempotent.
func (w *Window) Delete(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tombstones[id] = struct{}{}
	return w.removeLocked(id)
}

func (w *Window) removeLocked(id string) bool {
	m, ok := w.byID[id]
	if !ok {
		return false
	}
	delete(w.byID, id)
	if m.ClientMsgID != "" && w.byClient[m.ClientMsgID] == m {
		delete(w.byClient, m.ClientMsgID)
	}
	for i, x := range w.msgs {
		if x == m {
			w.msgs = append(w.msgs[:i:i], w.msgs[i+1:]...)
			break
		}
	}
	return true
}

// SetStatus moves one entry's delivery status, enforcing forward-only (with
// error reachable from any non-terminal state).
func (w *Window) SetStatus(id, status string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.byID[id]
	if !ok || !model.CanTransition(m.Status, status) {
		return false
	}
	m.Status = status
	return true
}

// Reconcile replaces the optimistic entry identified by clientMsgID with
// its durable row.
func (w *Window) Reconcile(clientMsgID string, durable *model.Message) bool {
	if durable == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	pending, ok := w.byClient[clientMsgID]
	if !ok {
		return false
	}
	if pending.ID != durable.ID {
		w.removeLocked(pending.ID)
	}
	if _, dup := w.byID[durable.ID]; dup {
		return true // inbound event beat us to it
	}
	cp := *durable
	w.msgs = append(w.msgs, &cp)
	w.byID[cp.ID] = &cp
	if cp.ClientMsgID != "" {
		w.byClient[cp.ClientMsgID] = &cp
	}
	w.sortLocked()
	return true
}

// Merge folds a fetched page into the window (older pages prepend
// naturally through sorting).
func (w *Window) Merge(page []*model.Message) {
	for _, m := range page {
		w.Upsert(m)
	}
}

// Snapshot returns a copy of the window in display order.
func (w *Window) Snapshot() []*model.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.Message, len(w.msgs))
	for i, m := range w.msgs {
		cp := *m
		out[i] = &cp
	}
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// Oldest returns the earliest entry, used as the pagination cursor.
func (w *Window) Oldest() (*model.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) == 0 {
		return nil, false
	}
	cp := *w.msgs[0]
	return &cp, true
}

func (w *Window) sortLocked() {
	sort.SliceStable(w.msgs, func(i, j int) bool {
		return w.msgs[i].Before(w.msgs[j])
	})
}
