package emitter

import "sync"

// Emitter delivers values of type T to subscribed handlers.
// Components hold an Emitter and expose only the subscribe side of it,
// keeping Emit private to the component.
type Emitter[T any] struct {
	mutex    sync.RWMutex
	nextId   uint64
	handlers map[uint64]func(T)
	order    []uint64
}

// Subscribe registers handler and returns a function that removes it.
// The returned function is safe to call more than once.
func (e *Emitter[T]) Subscribe(handler func(T)) (unsubscribe func()) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[uint64]func(T))
	}
	id := e.nextId
	e.nextId++
	e.handlers[id] = handler
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.handlers, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
}

// Emit calls every handler with value, in subscription order.
// Handlers run on the calling goroutine, outside of the emitter lock,
// so they may subscribe or unsubscribe while being called.
func (e *Emitter[T]) Emit(value T) {
	e.mutex.RLock()
	handlers := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		handlers = append(handlers, e.handlers[id])
	}
	e.mutex.RUnlock()

	for _, handler := range handlers {
		handler(value)
	}
}

// Len returns the number of subscribed handlers.
func (e *Emitter[T]) Len() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return len(e.handlers)
}
