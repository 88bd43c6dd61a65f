package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

// NatsConn is the primary transport: one NATS connection, one subscription
// per channel topic. Automatic client reconnection is disabled on purpose —
// recovery is a deliberate caller action so subscriptions can be replayed
// in a controlled order.
type NatsConn struct {
	*connCore
	cfg Conf

	mu      sync.Mutex
	nc      *nats.Conn
	chans   map[string][]*nats.Subscription
	closing bool
}

func NewNatsConn(cfg Conf) *NatsConn {
	cfg.Norm()
	return &NatsConn{
		connCore: newConnCore(cfg.HeartbeatInterval),
		cfg:      cfg,
		chans:    make(map[string][]*nats.Subscription),
	}
}

func (c *NatsConn) Connect(ctx context.Context, ident Identity) error {
	switch c.State() {
	case model.ConnConnecting, model.ConnConnected:
		return nil
	}
	if len(c.cfg.Servers) == 0 {
		return errs.ErrArgs.WrapMsg("nats servers missing")
	}
	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()
	c.setState(model.ConnConnecting, nil)

	opts := []nats.Option{
		nats.Name(c.cfg.Name + "/" + ident.UserID),
		nats.NoReconnect(),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			deliberate := c.closing
			c.mu.Unlock()
			if !deliberate {
				c.setState(model.ConnError, errs.ErrConnClosed.Wrap())
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			// channel-level failure: degrade, do not crash
			subj := ""
			if sub != nil {
				subj = sub.Subject
			}
			logger.Warn("nats subscription error",
				zap.String("subject", subj), zap.Error(err))
		}),
	}
	if ident.Token != "" {
		opts = append(opts, nats.Token(ident.Token))
	}

	nc, err := nats.Connect(strings.Join(c.cfg.Servers, ","), opts...)
	if err != nil {
		werr := errs.ErrConnFailed.WrapMsg("nats connect", "err", err)
		if err == nats.ErrTimeout || ctx.Err() != nil {
			werr = errs.ErrConnTimeout.WrapMsg("nats connect", "err", err)
		}
		c.setState(model.ConnError, werr)
		return werr
	}

	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()
	c.setState(model.ConnConnected, nil)
	return nil
}

func (c *NatsConn) Close() error {
	c.mu.Lock()
	c.closing = true
	nc := c.nc
	c.nc = nil
	for name, subs := range c.chans {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		delete(c.chans, name)
	}
	c.mu.Unlock()

	var err error
	if nc != nil {
		err = nc.Drain()
	}
	c.setState(model.ConnDisconnected, nil)
	return err
}

func (c *NatsConn) OpenChannel(name string, topics []string, h MsgHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return errs.ErrConnClosed.WrapMsg("open channel", "name", name)
	}
	if _, ok := c.chans[name]; ok {
		return nil
	}
	subs := make([]*nats.Subscription, 0, len(topics))
	for _, topic := range topics {
		topic := topic
		sub, err := c.nc.Subscribe(topic, func(m *nats.Msg) {
			ev, derr := DecodeChange(m.Data)
			if derr != nil {
				logger.Warn("drop malformed change event",
					zap.String("topic", topic), zap.Error(derr))
				return
			}
			h(topic, ev)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return errs.ErrSubscribe.WrapMsg("subscribe", "topic", topic, "err", err)
		}
		subs = append(subs, sub)
	}
	c.chans[name] = subs
	return nil
}

func (c *NatsConn) CloseChannel(name string) error {
	c.mu.Lock()
	subs := c.chans[name]
	delete(c.chans, name)
	c.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (c *NatsConn) Publish(topic string, ev ChangeEvent) error {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return errs.ErrConnClosed.WrapMsg("publish", "topic", topic)
	}
	raw, err := EncodeChange(ev)
	if err != nil {
		return err
	}
	if err := nc.Publish(topic, raw); err != nil {
		return errs.ErrSendFailed.WrapMsg("nats publish", "topic", topic, "err", err)
	}
	return nil
}
