package progress

import (
	"fmt"
	"sync"
)

// Progress represents a progress update during long operations
type Progress struct {
	Current int64
	Total   int64
	Label   string
	Done    bool
}

// Channel is a Tracker that publishes Progress values on a buffered channel.
// Sends never block: when the consumer lags behind, intermediate updates are
// dropped. The final Done update makes room by discarding the oldest pending
// update, so it is queued even when nobody reads.
type Channel struct {
	C chan Progress

	mu      sync.Mutex
	total   int64
	current int64
	label   func(item any) string
}

// NewChannel creates a channel tracker with the given buffer size. label
// formats the item being processed; nil uses fmt.Sprint.
func NewChannel(buffer int, label func(item any) string) *Channel {
	if buffer <= 0 {
		buffer = 100
	}
	if label == nil {
		label = func(item any) string { return fmt.Sprint(item) }
	}
	return &Channel{C: make(chan Progress, buffer), label: label}
}

func (c *Channel) Begin(total int) {
	c.mu.Lock()
	c.total = int64(total)
	c.current = 0
	c.mu.Unlock()
	c.send(Progress{Total: int64(total)})
}

func (c *Channel) Processing(item any) {
	c.mu.Lock()
	p := Progress{Current: c.current, Total: c.total, Label: c.label(item)}
	c.mu.Unlock()
	c.send(p)
}

func (c *Channel) ProcessingDone(seq int, item any) {
	c.mu.Lock()
	c.current++
	p := Progress{Current: c.current, Total: c.total, Label: c.label(item)}
	c.mu.Unlock()
	c.send(p)
}

func (c *Channel) Completed() {
	c.mu.Lock()
	p := Progress{Current: c.current, Total: c.total, Done: true}
	c.mu.Unlock()
	for {
		select {
		case c.C <- p:
			return
		default:
		}
		select {
		case <-c.C:
		default:
		}
	}
}

func (c *Channel) Clear() {
	c.mu.Lock()
	c.total = 0
	c.current = 0
	c.mu.Unlock()
}

func (c *Channel) send(p Progress) {
	select {
	case c.C <- p:
	default:
		// Channel full, skip this update
	}
}
