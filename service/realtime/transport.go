package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/safe"
	"github.com/lexport/chatlink/tools/timer"
)

// Identity authenticates a connection. Token is a signed access token
// minted by the host application (tools/security); the transport only
// carries it.
type Identity struct {
	UserID string
	Token  string
}

// MsgHandler receives every decoded change event of one logical channel.
type MsgHandler func(topic string, ev ChangeEvent)

// StateListener observes connection state transitions. err is non-nil only
// for the Error state.
type StateListener func(state model.ConnState, err error)

// Conf is shared transport configuration.
type Conf struct {
	Servers           []string
	Name              string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
}

func (c *Conf) Norm() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.Name == "" {
		c.Name = "chatlink"
	}
}

// Transport owns the single physical connection to the messaging backend
// and the logical channels multiplexed over it. A transport never retries
// on its own: any failure parks it in the Error state until the owner calls
// Connect again (see ChannelMux.ResubscribeAll for the replay half).
type Transport interface {
	// Connect is idempotent: calls while connecting or connected return
	// immediately. A connect that cannot confirm within ConnectTimeout
	// resolves to the Error state, never to a stuck Connecting.
	Connect(ctx context.Context, ident Identity) error
	// Close tears down every channel and the connection; state ends
	// Disconnected.
	Close() error
	State() model.ConnState
	// OpenChannel subscribes the named logical channel to the given topics.
	// Closing the channel unregisters every backend listener it installed.
	OpenChannel(name string, topics []string, h MsgHandler) error
	// CloseChannel is safe to call for unknown names.
	CloseChannel(name string) error
	Publish(topic string, ev ChangeEvent) error
	// OnStateChange registers a state observer; the returned func removes it.
	OnStateChange(fn StateListener) func()
	// OnHeartbeat registers the callback the transport fires on its
	// heartbeat interval while (and only while) connected.
	OnHeartbeat(fn func())
}

// connCore carries the state machine, observer list, and heartbeat loop
// shared by both transport implementations.
type connCore struct {
	mu        sync.Mutex
	state     model.ConnState
	observers map[int64]StateListener
	nextObsID int64

	heartbeat  func()
	hbTicker   *timer.Ticker
	hbInterval time.Duration
	sched      *timer.Scheduler
}

func newConnCore(hbInterval time.Duration) *connCore {
	return &connCore{
		state:      model.ConnDisconnected,
		observers:  make(map[int64]StateListener),
		hbInterval: hbInterval,
		sched:      timer.NewScheduler(),
	}
}

func (c *connCore) State() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connCore) OnStateChange(fn StateListener) func() {
	c.mu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *connCore) OnHeartbeat(fn func()) {
	c.mu.Lock()
	c.heartbeat = fn
	c.mu.Unlock()
}

// setState transitions the state machine, manages the heartbeat loop, and
// notifies observers outside the lock.
func (c *connCore) setState(s model.ConnState, err error) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	obs := make([]StateListener, 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.mu.Unlock()

	if s == model.ConnConnected {
		c.startHeartbeat()
	} else {
		c.stopHeartbeat()
	}
	logger.Debug("transport state", zap.Stringer("state", s), zap.Error(err))
	for _, fn := range obs {
		fn := fn
		safe.Call(func() { fn(s, err) })
	}
}

func (c *connCore) startHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hbTicker != nil {
		return
	}
	c.hbTicker = c.sched.Every(c.hbInterval, func() {
		c.mu.Lock()
		fn := c.heartbeat
		connected := c.state == model.ConnConnected
		c.mu.Unlock()
		// disconnects between the tick and this check must not publish
		if fn != nil && connected {
			fn()
		}
	})
}

func (c *connCore) stopHeartbeat() {
	c.mu.Lock()
	tk := c.hbTicker
	c.hbTicker = nil
	c.mu.Unlock()
	if tk != nil {
		tk.Stop()
	}
}
