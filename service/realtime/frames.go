package realtime

import (
	"encoding/json"

	"github.com/lexport/chatlink/tools/errs"
)

// Change notification vocabulary of the messaging backend. Delivery is
// at-least-once and unordered; every consumer of these frames must be
// idempotent.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

const (
	TableMessages = "messages"
	TableTyping   = "typing_indicators"
	TablePresence = "presence"
)

// ChangeEvent is the backend's wire shape for a single row change. Row
// carries the new row for insert/update; for delete it may hold only the
// key columns, with the full previous row in OldRow when the backend
// provides it.
type ChangeEvent struct {
	Operation string         `json:"operation"`
	Table     string         `json:"table"`
	Row       map[string]any `json:"row,omitempty"`
	OldRow    map[string]any `json:"old_row,omitempty"`
}

func EncodeChange(ev ChangeEvent) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode change event")
	}
	return raw, nil
}

func DecodeChange(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, errs.WrapMsg(err, "decode change event")
	}
	return ev, nil
}

// RowOf flattens an entity into the map row shape used on the wire.
func RowOf(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// TopicSet derives the topic names multiplexed over the connection.
// Messages and typing are scoped per conversation; presence is global.
type TopicSet struct {
	prefix string
}

func NewTopicSet(prefix string) TopicSet {
	if prefix == "" {
		prefix = "chat"
	}
	return TopicSet{prefix: prefix}
}

func (t TopicSet) ConvMessages(convID string) string {
	return t.prefix + ".conv." + convID + ".messages"
}

func (t TopicSet) ConvTyping(convID string) string {
	return t.prefix + ".conv." + convID + ".typing"
}

func (t TopicSet) Presence() string {
	return t.prefix + ".presence"
}
