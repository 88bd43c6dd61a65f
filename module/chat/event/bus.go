package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/tools/safe"
)

// Listener receives events of the type it registered for.
type Listener func(Event)

type entry struct {
	id int64
	fn Listener
}

// Bus is the in-process dispatcher decoupling transport normalization from
// state holders. Delivery to listeners of one type is FIFO in registration
// order; no ordering is promised across types. A panicking listener is
// isolated and logged, the remaining listeners still run.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	lists  map[Type][]entry
}

func NewBus() *Bus {
	return &Bus{lists: make(map[Type][]entry)}
}

// On registers a listener and returns its cancel func. The cancel func is
// idempotent.
func (b *Bus) On(t Type, fn Listener) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.lists[t] = append(b.lists[t], entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(t, id) })
	}
}

func (b *Bus) off(t Type, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.lists[t]
	for i, e := range list {
		if e.id == id {
			b.lists[t] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit delivers ev synchronously to the listeners of its type, preserving
// emission order for each listener.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	list := b.lists[ev.EventType()]
	b.mu.RUnlock()

	for _, e := range list {
		fn := e.fn
		if ok := safe.Call(func() { fn(ev) }); !ok {
			logger.Warn("event listener panicked",
				zap.Stringer("type", ev.EventType()))
		}
	}
}

// Reset drops all listeners; used on teardown.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.lists = make(map[Type][]entry)
	b.mu.Unlock()
}
