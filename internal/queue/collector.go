package queue

import (
	"context"
	"sync"

	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

// Collector records submitted tasks in memory instead of running them.
// Tasks with a key it has already seen are ignored.
type Collector struct {
	seen  map[string]bool
	tasks []notifications.Task
	mu    sync.Mutex
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]bool)}
}

var _ notifications.Submitter = (*Collector)(nil)

// Submit records the task
func (c *Collector) Submit(ctx context.Context, task notifications.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := task.Key()
	if c.seen[key] {
		return nil
	}
	c.seen[key] = true
	c.tasks = append(c.tasks, task)
	return nil
}

// Tasks returns a copy of the recorded tasks in submission order
func (c *Collector) Tasks() []notifications.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifications.Task(nil), c.tasks...)
}

// Reset forgets every recorded task
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = nil
	c.seen = make(map[string]bool)
}
