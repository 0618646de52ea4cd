package queue

import (
	"sync"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

type item struct {
	id  string
	msg models.RawMessage
}

// fifo is an unbounded in-memory queue; Push never blocks.
type fifo struct {
	mu     sync.Mutex
	items  []item
	notify chan struct{}
}

func newFIFO() *fifo {
	return &fifo{notify: make(chan struct{}, 1)}
}

func (f *fifo) Push(it item) {
	f.mu.Lock()
	f.items = append(f.items, it)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for an item.
func (f *fifo) Pop(timeout time.Duration) (item, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			it := f.items[0]
			f.items[0] = item{}
			f.items = f.items[1:]
			f.mu.Unlock()
			return it, true
		}
		f.mu.Unlock()

		select {
		case <-f.notify:
		case <-deadline.C:
			return item{}, false
		}
	}
}

func (f *fifo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
