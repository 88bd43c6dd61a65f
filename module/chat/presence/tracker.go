package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/event"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/service/storage"
)

// Publisher is the outbound half the tracker needs from the multiplexer.
type Publisher interface {
	PublishPresence(rec model.PresenceRecord) error
}

// DurableWriter persists the last-seen row; optional.
type DurableWriter interface {
	UpsertPresence(ctx context.Context, rec model.PresenceRecord) error
}

type Conf struct {
	UserID string
	TTL    time.Duration    // redis validity window, default 90s
	Clock  func() time.Time // injectable for tests
}

func (c *Conf) norm() {
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Tracker publishes the local user's heartbeat and maintains the table of
// other users' presence. Heartbeats only run while the transport is
// connected; the transport owns the interval, the tracker owns the payload.
type Tracker struct {
	conf    Conf
	pub     Publisher
	redis   *storage.Redis // optional
	durable DurableWriter  // optional
	bus     *event.Bus

	mu        sync.Mutex
	online    map[string]model.PresenceRecord
	viewing   string
	status    string
	connected bool
	offs      []func()
}

func NewTracker(conf Conf, pub Publisher, redis *storage.Redis, durable DurableWriter, bus *event.Bus) *Tracker {
	conf.norm()
	return &Tracker{
		conf:    conf,
		pub:     pub,
		redis:   redis,
		durable: durable,
		bus:     bus,
		status:  model.PresenceOnline,
		online:  make(map[string]model.PresenceRecord),
	}
}

// Start wires the tracker to remote presence events and connection status.
func (t *Tracker) Start() {
	t.offs = append(t.offs,
		t.bus.On(event.PresenceChanged, t.onRemote),
		t.bus.On(event.ConnStatusChanged, t.onConnStatus),
	)
}

// Heartbeat publishes the local user's current presence. Invoked by the
// transport's heartbeat loop, and directly after a reconnect. A heartbeat
// while not connected publishes nothing.
func (t *Tracker) Heartbeat() {
	t.mu.Lock()
	connected := t.connected
	rec := model.PresenceRecord{
		UserID:              t.conf.UserID,
		Status:              t.status,
		LastSeen:            t.conf.Clock(),
		ViewingConversation: t.viewing,
	}
	t.mu.Unlock()
	if !connected {
		return
	}
	if err := t.pub.PublishPresence(rec); err != nil {
		logger.Warn("presence publish failed", zap.Error(err))
		return
	}
	t.mirror(rec, false)
}

// SetViewing records the conversation the user has open; picked up by the
// next heartbeat and published immediately.
func (t *Tracker) SetViewing(convID string) {
	t.mu.Lock()
	t.viewing = convID
	t.status = model.PresenceOnline
	t.mu.Unlock()
	t.Heartbeat()
}

// SetAway marks the local user away without tearing anything down.
func (t *Tracker) SetAway() {
	t.mu.Lock()
	t.status = model.PresenceAway
	t.mu.Unlock()
	t.Heartbeat()
}

// Offline publishes a best-effort offline record; called before teardown.
func (t *Tracker) Offline() {
	t.mu.Lock()
	rec := model.PresenceRecord{
		UserID:   t.conf.UserID,
		Status:   model.PresenceOffline,
		LastSeen: t.conf.Clock(),
	}
	t.mu.Unlock()
	if err := t.pub.PublishPresence(rec); err != nil {
		logger.Debug("offline publish failed", zap.Error(err))
	}
	t.mirror(rec, true)
}

// Online returns the users currently known online or away, sorted by id.
func (t *Tracker) Online() []model.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.PresenceRecord, 0, len(t.online))
	for _, rec := range t.online {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Close detaches from the bus.
func (t *Tracker) Close() {
	for _, off := range t.offs {
		off()
	}
	t.offs = nil
}

// onRemote replaces the stored record per user; offline removes the entry
// instead of retaining a stale row.
func (t *Tracker) onRemote(ev event.Event) {
	pe, ok := ev.(event.PresenceEvent)
	if !ok {
		return
	}
	rec := pe.Record
	if rec.UserID == t.conf.UserID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec.Status == model.PresenceOffline {
		delete(t.online, rec.UserID)
		return
	}
	t.online[rec.UserID] = rec
}

func (t *Tracker) onConnStatus(ev event.Event) {
	ce, ok := ev.(event.ConnStatusEvent)
	if !ok {
		return
	}
	t.mu.Lock()
	t.connected = ce.State == model.ConnConnected
	connected := t.connected
	t.mu.Unlock()
	if connected {
		// fresh connection: make the user visible without waiting a tick
		t.Heartbeat()
	}
}

// mirror writes the record to redis and the durable row, best effort.
func (t *Tracker) mirror(rec model.PresenceRecord, remove bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if t.redis != nil {
		var err error
		if remove {
			err = t.redis.PresenceRemove(ctx, rec.UserID)
		} else {
			err = t.redis.PresenceUpsert(ctx, rec, t.conf.TTL)
		}
		if err != nil {
			logger.Debug("presence mirror write failed", zap.Error(err))
		}
	}
	if t.durable != nil {
		if err := t.durable.UpsertPresence(ctx, rec); err != nil {
			logger.Debug("presence durable write failed", zap.Error(err))
		}
	}
}
