package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/event"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
	"github.com/lexport/chatlink/tools/ids"
)

// State of the active-conversation machine. Error is reached from Loading
// on fetch failure; where possible the previous conversation's window stays
// usable.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Store is the slice of the durable storage contract the session consumes.
type Store interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]*model.Conversation, error)
	RecentMessages(ctx context.Context, convID string, limit int) ([]*model.Message, error)
	MessagesBefore(ctx context.Context, convID string, before time.Time, limit int) ([]*model.Message, error)
	InsertMessage(ctx context.Context, m *model.Message) (*model.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string) error
	MarkReadBefore(ctx context.Context, convID, reader string, upTo time.Time) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// Subscriber is the multiplexer surface the session drives.
type Subscriber interface {
	Subscribe(convID string) error
	Unsubscribe(convID string) error
}

// TypingCtl lets the session suppress its own typing indicator on send and
// drop typing state when switching away.
type TypingCtl interface {
	StopTyping(convID string) error
	ClearConversation(convID string)
}

// PresenceCtl reflects the active conversation into presence.
type PresenceCtl interface {
	SetViewing(convID string)
}

type Conf struct {
	UserID   string
	PageSize int
	Clock    func() time.Time
}

func (c *Conf) norm() {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Session owns the active conversation: its paginated message window,
// switching, sending, and read state. Inbound events and user actions are
// serialized through the bus and the session mutex; in-flight loads are
// invalidated by a generation counter when the user switches away.
type Session struct {
	conf     Conf
	store    Store
	sub      Subscriber
	typing   TypingCtl
	presence PresenceCtl
	bus      *event.Bus

	mu         sync.Mutex
	state      State
	lastErr    error
	active     *model.Conversation
	window     *Window
	hasMore    bool
	unread     int
	gen        int64 // bumped on every switch; stale loads are dropped
	loadCancel context.CancelFunc

	offs []func()
}

func NewSession(conf Conf, store Store, sub Subscriber, typing TypingCtl, presence PresenceCtl, bus *event.Bus) *Session {
	conf.norm()
	return &Session{
		conf:     conf,
		store:    store,
		sub:      sub,
		typing:   typing,
		presence: presence,
		bus:      bus,
		state:    StateIdle,
	}
}

// Start wires the session to inbound message events.
func (s *Session) Start() {
	s.offs = append(s.offs,
		s.bus.On(event.MessageReceived, s.onMessage),
		s.bus.On(event.MessageUpdated, s.onMessage),
		s.bus.On(event.MessageDeleted, s.onDeleted),
	)
}

// SwitchConversation makes id the active conversation: the previous
// channel is released with its typing/unread/cursor state, the newest page
// is loaded in ascending order, the new channel subscribed, and presence
// updated. A fetch failure surfaces as StateError while keeping the
// previous conversation's window where feasible.
func (s *Session) SwitchConversation(ctx context.Context, id string) error {
	if id == "" {
		return errs.ErrArgs.WrapMsg("switch: empty conversation id")
	}

	s.mu.Lock()
	if s.active != nil && s.active.ID == id && s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	prev := s.active
	s.gen++
	gen := s.gen
	if s.loadCancel != nil {
		s.loadCancel() // abandon any in-flight page load
	}
	lctx, cancel := context.WithCancel(ctx)
	s.loadCancel = cancel
	s.state = StateLoading
	s.mu.Unlock()

	if prev != nil {
		_ = s.typing.StopTyping(prev.ID)
		s.typing.ClearConversation(prev.ID)
		if err := s.sub.Unsubscribe(prev.ID); err != nil {
			logger.Warn("unsubscribe previous conversation",
				zap.String("conversation", prev.ID), zap.Error(err))
		}
	}

	conv, err := s.store.GetConversation(lctx, id)
	if err == nil {
		var page []*model.Message
		page, err = s.store.RecentMessages(lctx, id, s.conf.PageSize)
		if err == nil {
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return nil // a later switch superseded this one
			}
			s.active = conv
			s.window = NewWindow(id)
			s.window.Merge(page)
			s.hasMore = len(page) >= s.conf.PageSize
			s.unread = 0
			s.state = StateReady
			s.lastErr = nil
			s.mu.Unlock()

			if serr := s.sub.Subscribe(id); serr != nil {
				logger.Warn("subscribe conversation",
					zap.String("conversation", id), zap.Error(serr))
			}
			s.presence.SetViewing(id)
			return nil
		}
	}

	werr := errs.ErrFetchFailed.WrapMsg("switch conversation", "id", id, "err", err)
	s.mu.Lock()
	if s.gen == gen {
		s.state = StateError
		s.lastErr = werr
		// the previous window stays; only the failed target is lost
	}
	s.mu.Unlock()
	return werr
}

// LoadMoreMessages fetches the next older page. The cursor only advances
// after a successful fetch; a partial page marks the end of history and
// turns further calls into no-ops.
func (s *Session) LoadMoreMessages(ctx context.Context) error {
	s.mu.Lock()
	if s.active == nil || s.window == nil {
		s.mu.Unlock()
		return errs.ErrNoActiveConv.Wrap()
	}
	if !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	convID := s.active.ID
	oldest, ok := s.window.Oldest()
	s.mu.Unlock()
	if !ok {
		return nil
	}

	page, err := s.store.MessagesBefore(ctx, convID, oldest.CreatedAt, s.conf.PageSize)
	if err != nil {
		return errs.ErrFetchFailed.WrapMsg("load more", "conversation", convID, "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil // switched away while the fetch was in flight
	}
	s.window.Merge(page)
	s.hasMore = len(page) >= s.conf.PageSize
	return nil
}

// SendMessage appends an optimistic `sending` entry, persists it, and
// reconciles the entry with the backend-assigned id. On failure the entry
// stays in the window with status error for an explicit retry or discard.
// Sending always suppresses the sender's own typing indicator.
func (s *Session) SendMessage(ctx context.Context, body, kind string) (*model.Message, error) {
	s.mu.Lock()
	if s.active == nil || s.window == nil {
		s.mu.Unlock()
		return nil, errs.ErrNoActiveConv.Wrap()
	}
	convID := s.active.ID
	window := s.window
	s.mu.Unlock()

	if body == "" {
		return nil, errs.ErrArgs.WrapMsg("send: empty body")
	}
	if kind == "" {
		kind = model.KindUser
	}

	_ = s.typing.StopTyping(convID)

	clientID := ids.GenerateString()
	optimistic := &model.Message{
		ID:             "pending:" + clientID,
		ConversationID: convID,
		SenderID:       s.conf.UserID,
		Body:           body,
		Kind:           kind,
		Status:         model.StatusSending,
		ClientMsgID:    clientID,
		CreatedAt:      s.conf.Clock(),
	}
	window.Upsert(optimistic)

	durable, err := s.store.InsertMessage(ctx, optimistic)
	if err != nil {
		window.SetStatus(optimistic.ID, model.StatusError)
		return nil, errs.ErrSendFailed.WrapMsg("send message",
			"conversation", convID, "err", err)
	}
	window.Reconcile(clientID, durable)
	if terr := s.store.TouchConversation(ctx, convID, durable.CreatedAt); terr != nil {
		logger.Debug("touch conversation failed", zap.Error(terr))
	}

	s.mu.Lock()
	if s.active != nil && s.active.ID == convID {
		s.active.LastActivity = durable.CreatedAt
		s.active.MessageCount++
		cp := *s.active
		s.mu.Unlock()
		s.bus.Emit(event.ConversationEvent{Conversation: &cp})
	} else {
		s.mu.Unlock()
	}
	return durable, nil
}

// DiscardMessage drops an errored optimistic entry from the window.
func (s *Session) DiscardMessage(id string) bool {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()
	if w == nil {
		return false
	}
	return w.Delete(id)
}

// MarkRead advances received messages in the window to read and clears the
// unread counter.
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	if s.active == nil || s.window == nil {
		s.mu.Unlock()
		return errs.ErrNoActiveConv.Wrap()
	}
	convID := s.active.ID
	w := s.window
	s.unread = 0
	s.mu.Unlock()

	now := s.conf.Clock()
	for _, m := range w.Snapshot() {
		if m.SenderID != s.conf.UserID {
			w.SetStatus(m.ID, model.StatusRead)
		}
	}
	return s.store.MarkReadBefore(ctx, convID, s.conf.UserID, now)
}

// Deactivate drops the active conversation if it matches convID (used when
// the conversation is deleted out from under the session). The session
// returns to idle.
func (s *Session) Deactivate(convID string) {
	s.mu.Lock()
	if s.active == nil || s.active.ID != convID {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.loadCancel != nil {
		s.loadCancel()
	}
	s.active = nil
	s.window = nil
	s.hasMore = false
	s.unread = 0
	s.state = StateIdle
	s.mu.Unlock()

	s.typing.ClearConversation(convID)
	_ = s.sub.Unsubscribe(convID)
}

// Close releases the active subscription and detaches from the bus.
func (s *Session) Close() {
	s.mu.Lock()
	if s.loadCancel != nil {
		s.loadCancel()
	}
	active := s.active
	s.active = nil
	s.window = nil
	s.state = StateIdle
	s.mu.Unlock()

	if active != nil {
		_ = s.sub.Unsubscribe(active.ID)
	}
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
}

// --- observable state ---

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Active() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	cp := *s.active
	return &cp
}

func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Snapshot()
}

func (s *Session) HasMoreMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Conversations loads the user's conversation list for the initial view.
func (s *Session) Conversations(ctx context.Context) ([]*model.Conversation, error) {
	return s.store.ListConversations(ctx, s.conf.UserID)
}

// --- inbound events ---

func (s *Session) onMessage(ev event.Event) {
	me, ok := ev.(event.MessageEvent)
	if !ok || me.Message == nil {
		return
	}
	s.mu.Lock()
	w := s.window
	active := s.active
	s.mu.Unlock()
	if w == nil || active == nil || me.Message.ConversationID != active.ID {
		return
	}
	inserted := w.Upsert(me.Message)
	if inserted && me.Kind == event.MessageReceived && me.Message.SenderID != s.conf.UserID {
		s.mu.Lock()
		s.unread++
		s.mu.Unlock()
	}
}

func (s *Session) onDeleted(ev event.Event) {
	de, ok := ev.(event.MessageDeletedEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	w := s.window
	active := s.active
	s.mu.Unlock()
	if w == nil || active == nil || de.ConversationID != active.ID {
		return
	}
	w.Delete(de.MessageID)
}
