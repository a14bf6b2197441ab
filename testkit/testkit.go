package testkit

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/history"
	"github.com/theory-cloud/sitetheory/pkg/provision"
)

// Env is a deterministic local test environment for site deploys.
type Env struct {
	Clock   *ManualClock
	IDs     *ManualIDGenerator
	Journal *history.MemoryStore
}

func New() *Env {
	return NewWithTime(time.Unix(0, 0).UTC())
}

func NewWithTime(now time.Time) *Env {
	return &Env{
		Clock:   NewManualClock(now),
		IDs:     NewManualIDGenerator(),
		Journal: history.NewMemoryStore(),
	}
}

// EngineOptions wires the environment's clock, ID generator, and journal
// into engine options. Caller options follow, so they win where they
// overlap.
func (e *Env) EngineOptions(opts ...provision.Option) []provision.Option {
	combined := make([]provision.Option, 0, len(opts)+3)
	combined = append(combined,
		provision.WithClock(e.Clock),
		provision.WithIDGenerator(e.IDs),
		provision.WithHistory(e.Journal),
	)
	return append(combined, opts...)
}

// ManualClock is a deterministic, mutable clock for tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ sitetheory.Clock = (*ManualClock)(nil)

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	out := c.now
	c.mu.Unlock()
	return out
}

// ManualIDGenerator is a deterministic, predictable ID generator for tests.
type ManualIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int64
	queue  []string
}

var _ sitetheory.IDGenerator = (*ManualIDGenerator)(nil)

func NewManualIDGenerator() *ManualIDGenerator {
	return &ManualIDGenerator{prefix: "test-id", next: 1}
}

// Queue pins the next IDs in order; generated IDs resume after the queue
// drains.
func (g *ManualIDGenerator) Queue(ids ...string) {
	g.mu.Lock()
	g.queue = append(g.queue, ids...)
	g.mu.Unlock()
}

func (g *ManualIDGenerator) Reset() {
	g.mu.Lock()
	g.queue = nil
	g.next = 1
	g.mu.Unlock()
}

func (g *ManualIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) > 0 {
		out := g.queue[0]
		g.queue = g.queue[1:]
		return out
	}

	out := fmt.Sprintf("%s-%s", g.prefix, strconv.FormatInt(g.next, 10))
	g.next++
	return out
}
