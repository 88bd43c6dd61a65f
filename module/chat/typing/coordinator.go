package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/event"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/service/storage"
	"github.com/lexport/chatlink/tools/timer"
)

// Publisher is the outbound half the coordinator needs from the multiplexer.
type Publisher interface {
	PublishTyping(ind model.TypingIndicator) error
}

type Conf struct {
	UserID string
	Expiry time.Duration    // typing window, default 3s
	Clock  func() time.Time // injectable for tests
}

func (c *Conf) norm() {
	if c.Expiry <= 0 {
		c.Expiry = 3 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type remoteEntry struct {
	ind    model.TypingIndicator
	expire *timer.Task
}

// Coordinator converts raw keystroke signals into debounced, self-expiring
// typing indicators, and mirrors remote users' indicators into a local
// table. Repeated starts inside the window reset the timer instead of
// republishing; silence past the window publishes the stop automatically.
type Coordinator struct {
	conf  Conf
	pub   Publisher
	redis *storage.Redis // optional ephemeral mirror; nil in tests
	bus   *event.Bus
	sched *timer.Scheduler

	mu     sync.Mutex
	own    map[string]*timer.Task             // conversation -> expiry task
	remote map[string]map[string]*remoteEntry // conversation -> user -> entry
	offs   []func()
}

func NewCoordinator(conf Conf, pub Publisher, redis *storage.Redis, bus *event.Bus) *Coordinator {
	conf.norm()
	return &Coordinator{
		conf:   conf,
		pub:    pub,
		redis:  redis,
		bus:    bus,
		sched:  timer.NewScheduler(),
		own:    make(map[string]*timer.Task),
		remote: make(map[string]map[string]*remoteEntry),
	}
}

// Start wires the coordinator to remote typing events.
func (c *Coordinator) Start() {
	c.offs = append(c.offs,
		c.bus.On(event.TypingStarted, c.onRemote),
		c.bus.On(event.TypingStopped, c.onRemote),
	)
}

// StartTyping marks the local user typing in the conversation. The first
// call inside a window publishes the start and arms the expiry; further
// calls only reset the timer.
func (c *Coordinator) StartTyping(convID string) error {
	if convID == "" {
		return nil
	}
	c.mu.Lock()
	if task, ok := c.own[convID]; ok {
		task.Reset(c.conf.Expiry)
		c.mu.Unlock()
		return nil
	}
	task := c.sched.After(c.conf.Expiry, func() { c.expireOwn(convID) })
	c.own[convID] = task
	c.mu.Unlock()

	ind := model.TypingIndicator{
		ConversationID: convID,
		UserID:         c.conf.UserID,
		IsTyping:       true,
		UpdatedAt:      c.conf.Clock(),
	}
	c.mirror(func(ctx context.Context) error {
		return c.redis.TypingSet(ctx, ind, c.conf.Expiry)
	})
	return c.pub.PublishTyping(ind)
}

// StopTyping publishes the explicit stop and cancels the pending expiry.
// No-op when the user is not marked typing.
func (c *Coordinator) StopTyping(convID string) error {
	c.mu.Lock()
	task, ok := c.own[convID]
	if ok {
		delete(c.own, convID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	task.Cancel()
	return c.publishStop(convID)
}

// expireOwn is the timer path: the window elapsed with no further signal.
func (c *Coordinator) expireOwn(convID string) {
	c.mu.Lock()
	_, ok := c.own[convID]
	if ok {
		delete(c.own, convID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.publishStop(convID); err != nil {
		logger.Warn("typing expiry publish failed",
			zap.String("conversation", convID), zap.Error(err))
	}
}

func (c *Coordinator) publishStop(convID string) error {
	c.mirror(func(ctx context.Context) error {
		return c.redis.TypingClear(ctx, convID, c.conf.UserID)
	})
	return c.pub.PublishTyping(model.TypingIndicator{
		ConversationID: convID,
		UserID:         c.conf.UserID,
		IsTyping:       false,
		UpdatedAt:      c.conf.Clock(),
	})
}

// onRemote maintains the table of other users' indicators. A remote entry
// also expires locally after two windows, covering peers that vanish
// without publishing a stop.
func (c *Coordinator) onRemote(ev event.Event) {
	te, ok := ev.(event.TypingEvent)
	if !ok {
		return
	}
	ind := te.Indicator
	if ind.UserID == c.conf.UserID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	users := c.remote[ind.ConversationID]
	if te.Kind == event.TypingStopped {
		if users != nil {
			if e, ok := users[ind.UserID]; ok {
				e.expire.Cancel()
				delete(users, ind.UserID)
			}
			if len(users) == 0 {
				delete(c.remote, ind.ConversationID)
			}
		}
		return
	}

	if users == nil {
		users = make(map[string]*remoteEntry)
		c.remote[ind.ConversationID] = users
	}
	if e, ok := users[ind.UserID]; ok {
		e.ind = ind
		e.expire.Reset(2 * c.conf.Expiry)
		return
	}
	convID, userID := ind.ConversationID, ind.UserID
	users[ind.UserID] = &remoteEntry{
		ind: ind,
		expire: c.sched.After(2*c.conf.Expiry, func() {
			c.dropRemote(convID, userID)
		}),
	}
}

func (c *Coordinator) dropRemote(convID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if users := c.remote[convID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(c.remote, convID)
		}
	}
}

// Users returns the ids of remote users currently typing in convID.
func (c *Coordinator) Users(convID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.remote[convID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}

// ClearConversation drops local and remote typing state tied to a
// conversation; used when switching away.
func (c *Coordinator) ClearConversation(convID string) {
	c.mu.Lock()
	task, owned := c.own[convID]
	if owned {
		delete(c.own, convID)
	}
	users := c.remote[convID]
	delete(c.remote, convID)
	c.mu.Unlock()

	if owned {
		task.Cancel()
	}
	for _, e := range users {
		e.expire.Cancel()
	}
}

// Close cancels every timer and detaches from the bus.
func (c *Coordinator) Close() {
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	c.sched.StopAll()
	c.mu.Lock()
	c.own = make(map[string]*timer.Task)
	c.remote = make(map[string]map[string]*remoteEntry)
	c.mu.Unlock()
}

// mirror runs a redis write with a short deadline, logging failures; the
// realtime publish is the signal of record, redis only backs lookups.
func (c *Coordinator) mirror(f func(ctx context.Context) error) {
	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f(ctx); err != nil {
		logger.Debug("typing mirror write failed", zap.Error(err))
	}
}
