// Package pool provides bounded slot tables for concurrent sessions.
package pool

import (
	"sync"
	"time"

	"github.com/tOgg1/jumpshell/internal/models"
)

// DefaultCapacity is used when a pool is created with a non-positive capacity.
const DefaultCapacity = 10

// SlotStatus is the state of a single slot.
type SlotStatus string

const (
	SlotIdle      SlotStatus = "idle"
	SlotAllocated SlotStatus = "allocated"
)

// Slot is one unit of concurrency capacity.
type Slot struct {
	Number      int        `json:"number"`
	Occupant    string     `json:"occupant,omitempty"`
	Status      SlotStatus `json:"status"`
	AllocatedAt time.Time  `json:"allocated_at,omitempty"`
}

// Pool is a fixed set of numbered slots plus a FIFO queue of pending tasks.
// All methods are safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	name      string
	slots     []Slot
	allocated int
	queue     []*models.Task
	now       func() time.Time
}

// New creates a pool with slots numbered 1..capacity.
func New(name string, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	slots := make([]Slot, capacity)
	for i := range slots {
		slots[i] = Slot{Number: i + 1, Status: SlotIdle}
	}
	return &Pool{
		name:  name,
		slots: slots,
		now:   time.Now,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// Allocate claims the first idle slot for occupant and returns its number.
// It returns 0 when the pool is full or occupant already holds a slot.
func (p *Pool) Allocate(occupant string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked(occupant)
}

func (p *Pool) allocateLocked(occupant string) int {
	if p.allocated >= len(p.slots) {
		return 0
	}
	free := -1
	for i := range p.slots {
		s := &p.slots[i]
		if s.Status == SlotAllocated {
			if s.Occupant == occupant {
				return 0
			}
			continue
		}
		if free < 0 {
			free = i
		}
	}
	if free < 0 {
		return 0
	}

	s := &p.slots[free]
	s.Status = SlotAllocated
	s.Occupant = occupant
	s.AllocatedAt = p.now()
	p.allocated++
	return s.Number
}

// Release frees the slot held by occupant and returns its number, or 0 if
// occupant holds no slot.
func (p *Pool) Release(occupant string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.Status == SlotAllocated && s.Occupant == occupant {
			s.Status = SlotIdle
			s.Occupant = ""
			s.AllocatedAt = time.Time{}
			p.allocated--
			return s.Number
		}
	}
	return 0
}

// Allocated returns the number of allocated slots.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Free returns the number of idle slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - p.allocated
}

// Enqueue appends a task to the pending queue.
func (p *Pool) Enqueue(task *models.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, task)
}

// Dequeue removes and returns the oldest pending task.
func (p *Pool) Dequeue() (*models.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task, true
}

// Drain removes and returns every pending task.
func (p *Pool) Drain() []*models.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks := p.queue
	p.queue = nil
	return tasks
}

// QueueLen returns the number of pending tasks.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Idle reports whether no slot is allocated and the queue is empty.
func (p *Pool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated == 0 && len(p.queue) == 0
}

// Claim dequeues the next task and allocates a slot for it in one step.
// The task stays queued when no slot is free.
func (p *Pool) Claim() (*models.Task, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, 0, false
	}
	task := p.queue[0]
	slot := p.allocateLocked(task.ID)
	if slot == 0 {
		return nil, 0, false
	}
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task, slot, true
}

// Slots returns a snapshot of the slot table.
func (p *Pool) Slots() []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Slot, len(p.slots))
	copy(out, p.slots)
	return out
}

// Stats is a point-in-time summary of a pool.
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Allocated int    `json:"allocated"`
	Queued    int    `json:"queued"`
}

// Stats returns a summary of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:      p.name,
		Capacity:  len(p.slots),
		Allocated: p.allocated,
		Queued:    len(p.queue),
	}
}
