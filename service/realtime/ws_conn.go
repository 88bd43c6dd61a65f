package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
	"github.com/lexport/chatlink/tools/safe"
	"github.com/lexport/chatlink/tools/timer"
)

// wsFrame is the JSON envelope spoken with socket-style backends. Client to
// server: subscribe / unsubscribe / publish / pong. Server to client:
// event / ping.
type wsFrame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Topics  []string        `json:"topics,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	frameEvent       = "event"
	framePing        = "ping"
	framePong        = "pong"
)

// WsConn implements Transport over a single websocket, for backends that
// expose their change feed on a socket endpoint instead of a broker.
type WsConn struct {
	*connCore
	cfg Conf

	mu       sync.Mutex
	conn     *websocket.Conn
	chans    map[string][]string   // channel name -> topics
	handlers map[string]MsgHandler // topic -> handler
	closing  bool

	writeMu sync.Mutex
	pinger  *timer.Ticker
	sched   *timer.Scheduler
}

func NewWsConn(cfg Conf) *WsConn {
	cfg.Norm()
	return &WsConn{
		connCore: newConnCore(cfg.HeartbeatInterval),
		cfg:      cfg,
		chans:    make(map[string][]string),
		handlers: make(map[string]MsgHandler),
		sched:    timer.NewScheduler(),
	}
}

func (c *WsConn) Connect(ctx context.Context, ident Identity) error {
	switch c.State() {
	case model.ConnConnecting, model.ConnConnected:
		return nil
	}
	if len(c.cfg.Servers) == 0 {
		return errs.ErrArgs.WrapMsg("websocket endpoint missing")
	}
	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()
	c.setState(model.ConnConnecting, nil)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	hdr := http.Header{}
	if ident.Token != "" {
		hdr.Set("Authorization", "Bearer "+ident.Token)
	}
	hdr.Set("X-Client-Name", c.cfg.Name+"/"+ident.UserID)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dctx, c.cfg.Servers[0], hdr)
	if err != nil {
		werr := errs.ErrConnFailed.WrapMsg("ws dial", "err", err)
		if dctx.Err() != nil {
			werr = errs.ErrConnTimeout.WrapMsg("ws dial", "err", err)
		}
		c.setState(model.ConnError, werr)
		return werr
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	safe.Go(func() { c.readLoop(conn) })
	c.startPinger()
	c.setState(model.ConnConnected, nil)
	return nil
}

func (c *WsConn) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.chans = make(map[string][]string)
	c.handlers = make(map[string]MsgHandler)
	c.mu.Unlock()

	c.stopPinger()
	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}
	c.setState(model.ConnDisconnected, nil)
	return err
}

func (c *WsConn) OpenChannel(name string, topics []string, h MsgHandler) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return errs.ErrConnClosed.WrapMsg("open channel", "name", name)
	}
	if _, ok := c.chans[name]; ok {
		c.mu.Unlock()
		return nil
	}
	c.chans[name] = topics
	for _, t := range topics {
		c.handlers[t] = h
	}
	c.mu.Unlock()

	if err := c.writeFrame(wsFrame{Type: frameSubscribe, Topics: topics}); err != nil {
		c.mu.Lock()
		delete(c.chans, name)
		for _, t := range topics {
			delete(c.handlers, t)
		}
		c.mu.Unlock()
		return errs.ErrSubscribe.WrapMsg("ws subscribe", "name", name, "err", err)
	}
	return nil
}

func (c *WsConn) CloseChannel(name string) error {
	c.mu.Lock()
	topics, ok := c.chans[name]
	delete(c.chans, name)
	for _, t := range topics {
		delete(c.handlers, t)
	}
	conn := c.conn
	c.mu.Unlock()
	if !ok || conn == nil {
		return nil
	}
	// best effort: the server stops sending either way once we drop handlers
	_ = c.writeFrame(wsFrame{Type: frameUnsubscribe, Topics: topics})
	return nil
}

func (c *WsConn) Publish(topic string, ev ChangeEvent) error {
	raw, err := EncodeChange(ev)
	if err != nil {
		return err
	}
	if err := c.writeFrame(wsFrame{Type: framePublish, Topic: topic, Payload: raw}); err != nil {
		return errs.ErrSendFailed.WrapMsg("ws publish", "topic", topic, "err", err)
	}
	return nil
}

func (c *WsConn) writeFrame(f wsFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errs.ErrConnClosed.Wrap()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (c *WsConn) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.closing || c.conn != conn
			c.mu.Unlock()
			c.stopPinger()
			if !deliberate {
				c.setState(model.ConnError, errs.ErrConnClosed.WrapMsg("ws read", "err", err))
			}
			return
		}
		var f wsFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Warn("drop malformed ws frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case frameEvent:
			c.mu.Lock()
			h := c.handlers[f.Topic]
			c.mu.Unlock()
			if h == nil {
				continue
			}
			ev, derr := DecodeChange(f.Payload)
			if derr != nil {
				logger.Warn("drop malformed change event",
					zap.String("topic", f.Topic), zap.Error(derr))
				continue
			}
			h(f.Topic, ev)
		case framePing:
			_ = c.writeFrame(wsFrame{Type: framePong})
		}
	}
}

func (c *WsConn) startPinger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinger != nil {
		return
	}
	c.pinger = c.sched.Every(c.cfg.HeartbeatInterval, func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		c.writeMu.Unlock()
	})
}

func (c *WsConn) stopPinger() {
	c.mu.Lock()
	p := c.pinger
	c.pinger = nil
	c.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}
