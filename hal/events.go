package hal

import (
	"context"
	"sync"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// Handler receives emitted events. Handlers must not block for long;
// dispatch is synchronous with respect to the emitting goroutine.
type Handler func(model.Event)

// Emitter is a small subscribe/emit hub. Handler panics are recovered and
// logged so one bad subscriber can never take down an adapter or engine.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      logging.Logger
}

// NewEmitter builds an emitter; a nil logger degrades to Noop.
func NewEmitter(log logging.Logger) *Emitter {
	if log == nil {
		log = logging.Noop()
	}
	return &Emitter{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the named event. There is no
// unsubscribe; subscriber lifetime matches the owning component.
func (e *Emitter) Subscribe(event string, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], h)
}

// Emit dispatches ev to every handler subscribed to its type.
func (e *Emitter) Emit(ev model.Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()

	for _, h := range handlers {
		e.dispatch(ev, h)
	}
}

func (e *Emitter) dispatch(ev model.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error(context.Background(), "event handler panicked",
				logging.String("event", ev.Type),
				logging.String("source", ev.Source),
				logging.Any("panic", r),
			)
		}
	}()
	h(ev)
}
