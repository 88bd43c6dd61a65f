package session

import (
	"context"
	"sync"

	"github.com/lexport/chatlink/global"
	"github.com/lexport/chatlink/module/chat/event"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/module/chat/presence"
	"github.com/lexport/chatlink/module/chat/typing"
	"github.com/lexport/chatlink/service/realtime"
	"github.com/lexport/chatlink/service/storage"
	"github.com/lexport/chatlink/tools/errs"
	"github.com/lexport/chatlink/tools/security"
)

// ManagerOptions carries the collaborators a Manager composes. Transport
// and API default from config when nil; Redis and Presence are optional
// mirrors.
type ManagerOptions struct {
	Transport realtime.Transport
	Store     Store
	Redis     *storage.Redis
	Presence  presence.DurableWriter
	API       *APIClient
}

// Manager is the consumer-facing facade of the chat layer: one explicitly
// constructed object owning the single connection, with an explicit
// lifecycle. Construct it, Initialize it, pass it by reference, Close it.
type Manager struct {
	cfg  *global.Config
	opts ManagerOptions

	mu          sync.Mutex
	initialized bool
	ident       realtime.Identity

	tr       realtime.Transport
	bus      *event.Bus
	mux      *realtime.ChannelMux
	typing   *typing.Coordinator
	presence *presence.Tracker
	session  *Session
	api      *APIClient
	offState func()
}

func NewManager(cfg *global.Config, opts ManagerOptions) (*Manager, error) {
	if cfg == nil {
		return nil, errs.ErrArgs.WrapMsg("nil config")
	}
	if opts.Store == nil {
		return nil, errs.ErrArgs.WrapMsg("nil store")
	}
	cfg.Norm()
	return &Manager{cfg: cfg, opts: opts}, nil
}

// muxSubscriber narrows the multiplexer to what the session needs.
type muxSubscriber struct {
	mux *realtime.ChannelMux
}

func (a muxSubscriber) Subscribe(id string) error {
	_, err := a.mux.Subscribe(id)
	return err
}

func (a muxSubscriber) Unsubscribe(id string) error {
	return a.mux.Unsubscribe(id)
}

// Initialize builds the component graph for userID and connects. Idempotent
// for the same user; a second call while initialized is a no-op.
func (m *Manager) Initialize(ctx context.Context, userID string) error {
	if userID == "" {
		return errs.ErrArgs.WrapMsg("initialize: empty user id")
	}
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}

	token, _, err := security.Generate(
		security.DefaultOptions([]byte(m.cfg.Manage.JWTSecret)), userID, []string{"chat"})
	if err != nil {
		m.mu.Unlock()
		return errs.WrapMsg(err, "mint access token")
	}
	m.ident = realtime.Identity{UserID: userID, Token: token}

	m.tr = m.opts.Transport
	if m.tr == nil {
		tc := realtime.Conf{
			Servers:           m.cfg.Realtime.Servers,
			Name:              m.cfg.Realtime.Name,
			ConnectTimeout:    m.cfg.Realtime.ConnectTimeout,
			HeartbeatInterval: m.cfg.Realtime.HeartbeatInterval,
		}
		switch m.cfg.Realtime.Driver {
		case "websocket":
			m.tr = realtime.NewWsConn(tc)
		default:
			m.tr = realtime.NewNatsConn(tc)
		}
	}

	m.bus = event.NewBus()
	topics := realtime.NewTopicSet(m.cfg.Realtime.SubjectPrefix)
	m.mux = realtime.NewChannelMux(m.tr, m.bus, topics, userID)

	m.typing = typing.NewCoordinator(typing.Conf{
		UserID: userID,
		Expiry: m.cfg.Chat.TypingExpiry,
	}, m.mux, m.opts.Redis, m.bus)

	m.presence = presence.NewTracker(presence.Conf{
		UserID: userID,
		TTL:    m.cfg.Chat.PresenceTTL,
	}, m.mux, m.opts.Redis, m.opts.Presence, m.bus)

	m.session = NewSession(Conf{
		UserID:   userID,
		PageSize: m.cfg.Chat.PageSize,
	}, m.opts.Store, muxSubscriber{m.mux}, m.typing, m.presence, m.bus)

	m.api = m.opts.API
	if m.api == nil {
		m.api = NewAPIClient(m.cfg.Manage.BaseURL, token, m.cfg.Manage.Timeout)
	}

	// observers first, so the connect transition is seen by everyone
	m.offState = m.tr.OnStateChange(func(st model.ConnState, err error) {
		m.bus.Emit(event.ConnStatusEvent{State: st, Err: err})
	})
	m.tr.OnHeartbeat(m.presence.Heartbeat)
	m.typing.Start()
	m.presence.Start()
	m.session.Start()

	m.initialized = true
	ident := m.ident
	m.mu.Unlock()

	return m.tr.Connect(ctx, ident)
}

// Reconnect is the deliberate recovery action after a connection failure:
// tear down every channel, re-establish the connection, and replay the
// previously active subscriptions in the order they were first opened.
// Presence is republished as online by the reconnect transition.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return errs.ErrNotReady.Wrap()
	}
	tr, ident := m.tr, m.ident
	m.mu.Unlock()

	_ = tr.Close()
	if err := tr.Connect(ctx, ident); err != nil {
		return err
	}
	return m.mux.ResubscribeAll()
}

// Close publishes a best-effort offline presence and releases everything.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = false
	m.mu.Unlock()

	m.presence.Offline()
	m.session.Close()
	m.typing.Close()
	m.presence.Close()
	m.mux.Close()
	err := m.tr.Close()
	if m.offState != nil {
		m.offState()
	}
	m.bus.Reset()
	return err
}

// --- conversation lifecycle (via the management API) ---

func (m *Manager) CreateConversation(ctx context.Context, title, topic string) (*model.Conversation, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	conv, err := m.api.CreateConversation(ctx, title, topic)
	if err != nil {
		return nil, err
	}
	m.bus.Emit(event.ConversationEvent{Conversation: conv})
	return conv, nil
}

func (m *Manager) UpdateConversationTitle(ctx context.Context, id, title string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.api.UpdateConversationTitle(ctx, id, title); err != nil {
		return err
	}
	if conv, err := m.opts.Store.GetConversation(ctx, id); err == nil {
		m.bus.Emit(event.ConversationEvent{Conversation: conv})
	}
	return nil
}

func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	m.session.Deactivate(id)
	return nil
}

// --- session pass-throughs ---

func (m *Manager) SwitchConversation(ctx context.Context, id string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.session.SwitchConversation(ctx, id)
}

func (m *Manager) LoadMoreMessages(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.session.LoadMoreMessages(ctx)
}

func (m *Manager) SendMessage(ctx context.Context, body, kind string) (*model.Message, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.session.SendMessage(ctx, body, kind)
}

func (m *Manager) MarkRead(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.session.MarkRead(ctx)
}

func (m *Manager) Conversations(ctx context.Context) ([]*model.Conversation, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.session.Conversations(ctx)
}

// StartTyping signals typing in the active conversation.
func (m *Manager) StartTyping() error {
	if err := m.ready(); err != nil {
		return err
	}
	active := m.session.Active()
	if active == nil {
		return errs.ErrNoActiveConv.Wrap()
	}
	return m.typing.StartTyping(active.ID)
}

func (m *Manager) StopTyping() error {
	if err := m.ready(); err != nil {
		return err
	}
	active := m.session.Active()
	if active == nil {
		return nil
	}
	return m.typing.StopTyping(active.ID)
}

// --- observable state ---

func (m *Manager) ConnState() model.ConnState {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()
	if tr == nil {
		return model.ConnDisconnected
	}
	return tr.State()
}

func (m *Manager) SessionState() State {
	if m.ready() != nil {
		return StateIdle
	}
	return m.session.State()
}

func (m *Manager) ActiveConversation() *model.Conversation {
	if m.ready() != nil {
		return nil
	}
	return m.session.Active()
}

func (m *Manager) Messages() []*model.Message {
	if m.ready() != nil {
		return nil
	}
	return m.session.Messages()
}

func (m *Manager) HasMoreMessages() bool {
	return m.ready() == nil && m.session.HasMoreMessages()
}

func (m *Manager) Unread() int {
	if m.ready() != nil {
		return 0
	}
	return m.session.Unread()
}

// TypingUsers returns the remote users typing in the active conversation.
func (m *Manager) TypingUsers() []string {
	if m.ready() != nil {
		return nil
	}
	active := m.session.Active()
	if active == nil {
		return nil
	}
	return m.typing.Users(active.ID)
}

// OnlineUsers returns the known online users.
func (m *Manager) OnlineUsers() []model.PresenceRecord {
	if m.ready() != nil {
		return nil
	}
	return m.presence.Online()
}

// Bus exposes the dispatcher for consumers that want raw events.
func (m *Manager) Bus() *event.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus
}

func (m *Manager) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return errs.ErrNotReady.Wrap()
	}
	return nil
}
