package manager

import (
	"sync"

	"wg-tunnels/internal/core"
)

// Subscription delivers manager events in publication order. Events are
// queued without limit, so a slow reader never stalls the manager and may
// call back into it from the receiving goroutine.
type Subscription struct {
	C <-chan core.Event

	ch          chan core.Event
	mu          sync.Mutex
	queue       []core.Event
	wake        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
	onClose     func(*Subscription)
}

func newSubscription(bus *core.EventBus, types []core.EventType, onClose func(*Subscription)) *Subscription {
	ch := make(chan core.Event)
	s := &Subscription{
		C:       ch,
		ch:      ch,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	if len(types) == 0 {
		types = core.AllEventTypes()
	}
	s.unsubscribe = bus.Subscribe(s.enqueue, types...)
	go s.pump()
	return s
}

func (s *Subscription) enqueue(e core.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = core.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- e:
		case <-s.done:
			return
		}
	}
}

// Close stops delivery and closes C. Queued events are dropped.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}
