package store

import (
	"context"
	"sync"

	"github.com/habiliai/parley/entity"
)

// hub fans parts out to every live subscriber of a thread. Delivery is
// unbounded: a slow subscriber queues parts instead of blocking appenders.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]*subscriber
	nextID int64
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int64]*subscriber)}
}

func (h *hub) publish(threadID string, part entity.Part) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[threadID] {
		sub.push(part)
	}
}

func (h *hub) subscribe(ctx context.Context, threadID string) <-chan entity.Part {
	sub := newSubscriber()

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[threadID] == nil {
		h.subs[threadID] = make(map[int64]*subscriber)
	}
	h.subs[threadID][id] = sub
	h.mu.Unlock()

	go sub.run()
	go func() {
		<-ctx.Done()
		h.unsubscribe(threadID, id)
	}()

	return sub.out
}

func (h *hub) unsubscribe(threadID string, id int64) {
	h.mu.Lock()
	sub, ok := h.subs[threadID][id]
	if ok {
		delete(h.subs[threadID], id)
		if len(h.subs[threadID]) == 0 {
			delete(h.subs, threadID)
		}
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// subscriber buffers pushed parts in an unbounded queue drained by run.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []entity.Part
	closed bool

	out  chan entity.Part
	done chan struct{}
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:  make(chan entity.Part),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(part entity.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, part)
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		part := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- part:
		case <-s.done:
			close(s.out)
			return
		}
	}
}
