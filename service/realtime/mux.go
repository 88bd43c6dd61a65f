package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/event"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/decode"
	"github.com/lexport/chatlink/tools/errs"
)

const presenceChannel = "presence"

// Handle is the opaque reference to one live conversation subscription. At
// most one handle exists per conversation id; subscribing again returns the
// existing one.
type Handle struct {
	ConversationID string
	Channel        string
	Topics         []string
}

// ChannelMux maps conversation ids onto logical channels of the transport
// and normalizes the backend's heterogeneous change notifications into the
// typed event vocabulary. It also keeps the ordered desired-subscription
// list replayed after a reconnect.
type ChannelMux struct {
	tr       Transport
	bus      *event.Bus
	topics   TopicSet
	selfUser string

	mu           sync.Mutex
	order        []string // conversation ids in original open order
	active       map[string]*Handle
	keys         map[string]*sync.Mutex
	presenceOpen bool
}

func NewChannelMux(tr Transport, bus *event.Bus, topics TopicSet, selfUserID string) *ChannelMux {
	return &ChannelMux{
		tr:       tr,
		bus:      bus,
		topics:   topics,
		selfUser: selfUserID,
		active:   make(map[string]*Handle),
		keys:     make(map[string]*sync.Mutex),
	}
}

// keyLock serializes subscribe/unsubscribe per conversation id, so a
// subscribe racing an unsubscribe of the same id becomes two queued steps.
func (m *ChannelMux) keyLock(convID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[convID]
	if !ok {
		k = &sync.Mutex{}
		m.keys[convID] = k
	}
	return k
}

// Subscribe opens the conversation's channel, wiring message and typing
// topics scoped to it plus the global presence topic. Calling it again for
// a live id is a no-op returning the existing handle.
func (m *ChannelMux) Subscribe(convID string) (*Handle, error) {
	if convID == "" {
		return nil, errs.ErrArgs.WrapMsg("subscribe: empty conversation id")
	}
	k := m.keyLock(convID)
	k.Lock()
	defer k.Unlock()

	m.mu.Lock()
	if h, ok := m.active[convID]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	m.ensurePresence()

	h := &Handle{
		ConversationID: convID,
		Channel:        "conv:" + convID,
		Topics: []string{
			m.topics.ConvMessages(convID),
			m.topics.ConvTyping(convID),
		},
	}
	if err := m.tr.OpenChannel(h.Channel, h.Topics, m.normalize); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active[convID] = h
	found := false
	for _, id := range m.order {
		if id == convID {
			found = true
			break
		}
	}
	if !found {
		m.order = append(m.order, convID)
	}
	m.mu.Unlock()
	return h, nil
}

// Unsubscribe closes the conversation's channel. Idempotent: unknown ids
// and repeated calls are no-ops.
func (m *ChannelMux) Unsubscribe(convID string) error {
	if convID == "" {
		return nil
	}
	k := m.keyLock(convID)
	k.Lock()
	defer k.Unlock()

	m.mu.Lock()
	h, ok := m.active[convID]
	if ok {
		delete(m.active, convID)
		for i, id := range m.order {
			if id == convID {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.tr.CloseChannel(h.Channel)
}

// Active returns the live conversation ids in original open order.
func (m *ChannelMux) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ResubscribeAll replays every desired subscription, in the order the
// conversations were originally opened, against a freshly connected
// transport.
func (m *ChannelMux) ResubscribeAll() error {
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.presenceOpen = false
	m.mu.Unlock()

	m.ensurePresence()

	var firstErr error
	for _, convID := range ids {
		m.mu.Lock()
		h, ok := m.active[convID]
		m.mu.Unlock()
		if !ok {
			continue
		}
		_ = m.tr.CloseChannel(h.Channel)
		if err := m.tr.OpenChannel(h.Channel, h.Topics, m.normalize); err != nil {
			logger.Error("resubscribe failed",
				zap.String("conversation", convID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close tears down every channel and forgets the desired list.
func (m *ChannelMux) Close() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	m.active = make(map[string]*Handle)
	m.order = nil
	presence := m.presenceOpen
	m.presenceOpen = false
	m.mu.Unlock()

	for _, h := range handles {
		_ = m.tr.CloseChannel(h.Channel)
	}
	if presence {
		_ = m.tr.CloseChannel(presenceChannel)
	}
}

// ensurePresence opens the global presence channel once. Presence is not
// per-conversation; a failure degrades (logged) without failing the
// conversation subscribe.
func (m *ChannelMux) ensurePresence() {
	m.mu.Lock()
	if m.presenceOpen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	err := m.tr.OpenChannel(presenceChannel, []string{m.topics.Presence()}, m.normalize)
	if err != nil {
		logger.Warn("presence channel unavailable", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.presenceOpen = true
	m.mu.Unlock()
}

// PublishTyping sends the caller's typing indicator upstream. A stop is a
// delete of the ephemeral row.
func (m *ChannelMux) PublishTyping(ind model.TypingIndicator) error {
	op := OpInsert
	if !ind.IsTyping {
		op = OpDelete
	}
	return m.tr.Publish(m.topics.ConvTyping(ind.ConversationID), ChangeEvent{
		Operation: op,
		Table:     TableTyping,
		Row:       RowOf(ind),
	})
}

// PublishPresence upserts the caller's presence record on the global topic.
func (m *ChannelMux) PublishPresence(rec model.PresenceRecord) error {
	return m.tr.Publish(m.topics.Presence(), ChangeEvent{
		Operation: OpUpdate,
		Table:     TablePresence,
		Row:       RowOf(rec),
	})
}

// normalize converts one backend change notification into the typed event
// it stands for and emits it on the bus. Malformed rows are dropped with a
// log line; at-least-once delivery means downstream state is idempotent
// anyway.
func (m *ChannelMux) normalize(topic string, ev ChangeEvent) {
	switch ev.Table {
	case TableMessages:
		m.normalizeMessage(topic, ev)
	case TableTyping:
		m.normalizeTyping(topic, ev)
	case TablePresence:
		m.normalizePresence(topic, ev)
	default:
		logger.Debug("ignore change for unknown table",
			zap.String("table", ev.Table), zap.String("topic", topic))
	}
}

func (m *ChannelMux) normalizeMessage(topic string, ev ChangeEvent) {
	if ev.Operation == OpDelete {
		row := ev.Row
		if len(row) == 0 {
			row = ev.OldRow
		}
		msg, err := decode.Row[model.Message](row)
		if err != nil || msg.ID == "" {
			logger.Warn("drop message delete without id",
				zap.String("topic", topic), zap.Error(err))
			return
		}
		m.bus.Emit(event.MessageDeletedEvent{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
		})
		return
	}

	msg, err := decode.Row[model.Message](ev.Row)
	if err != nil {
		logger.Warn("drop malformed message row",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	kind := event.MessageReceived
	if ev.Operation == OpUpdate {
		kind = event.MessageUpdated
	}
	m.bus.Emit(event.MessageEvent{Kind: kind, Message: msg})
}

func (m *ChannelMux) normalizeTyping(topic string, ev ChangeEvent) {
	row := ev.Row
	if len(row) == 0 {
		row = ev.OldRow
	}
	ind, err := decode.Row[model.TypingIndicator](row)
	if err != nil {
		logger.Warn("drop malformed typing row",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	// the local user's own indicator is never a remote one
	if ind.UserID == m.selfUser {
		return
	}
	kind := event.TypingStarted
	if ev.Operation == OpDelete || !ind.IsTyping {
		kind = event.TypingStopped
	}
	m.bus.Emit(event.TypingEvent{Kind: kind, Indicator: *ind})
}

func (m *ChannelMux) normalizePresence(topic string, ev ChangeEvent) {
	rec, err := decode.Row[model.PresenceRecord](ev.Row)
	if err != nil {
		logger.Warn("drop malformed presence row",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	if ev.Operation == OpDelete {
		rec.Status = model.PresenceOffline
	}
	m.bus.Emit(event.PresenceEvent{Record: *rec})
}
