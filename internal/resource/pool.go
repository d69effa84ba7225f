package resource

import (
	"sync"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/errs"
)

// PoolConfig tunes a Pool's capacity and idle expiry.
type PoolConfig struct {
	// MaxIdle caps how many items the pool holds at once. Zero means
	// unlimited; Release on a full pool closes the item instead of
	// retaining it.
	MaxIdle int
	// IdleTimeout is how long an item may sit unused before Sweep closes
	// it. Zero disables idle expiry.
	IdleTimeout time.Duration
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

// entry pairs a pooled item with when it was released back to the pool,
// mirroring the stream.Manager pattern of a small per-item record kept
// under a single map/mutex.
type entry[T any] struct {
	item   T
	idleAt time.Time
}

// Pool is a bounded cache of idle, reusable items of type T (e.g.
// transport sessions or send streams kept warm between uses). Acquire
// removes an item if one is idle, otherwise the caller must create one;
// Release returns it to the pool unless the pool is full, in which case it
// is closed instead; Sweep closes items that have sat idle too long.
type Pool[T any] struct {
	cfg   PoolConfig
	clk   clock.Clock
	close func(T)

	mu    sync.Mutex
	items []entry[T]
}

// NewPool constructs a Pool. close is called on any item the pool
// discards rather than hands back out (on overflow or idle expiry).
func NewPool[T any](cfg PoolConfig, close func(T)) *Pool[T] {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Pool[T]{cfg: cfg, clk: clk, close: close}
}

// Acquire removes and returns the most recently released item, if any is
// idle. ok is false if the pool is empty.
func (p *Pool[T]) Acquire() (item T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return item, false
	}
	last := len(p.items) - 1
	e := p.items[last]
	p.items = p.items[:last]
	return e.item, true
}

// Release returns item to the pool, or closes it immediately if the pool
// is already at MaxIdle. Returns ResourceExhausted (after closing item)
// when the pool was full, purely informational since the item was still
// disposed of correctly.
func (p *Pool[T]) Release(item T) error {
	p.mu.Lock()
	if p.cfg.MaxIdle > 0 && len(p.items) >= p.cfg.MaxIdle {
		p.mu.Unlock()
		if p.close != nil {
			p.close(item)
		}
		return &errs.ResourceExhausted{Resource: "idle pool"}
	}
	p.items = append(p.items, entry[T]{item: item, idleAt: p.clk.Now()})
	p.mu.Unlock()
	return nil
}

// Sweep closes and evicts every item that has been idle longer than
// IdleTimeout, returning the count evicted. A zero IdleTimeout disables
// sweeping.
func (p *Pool[T]) Sweep() int {
	if p.cfg.IdleTimeout <= 0 {
		return 0
	}
	p.mu.Lock()
	now := p.clk.Now()
	kept := p.items[:0]
	var expired []T
	for _, e := range p.items {
		if now.Sub(e.idleAt) > p.cfg.IdleTimeout {
			expired = append(expired, e.item)
			continue
		}
		kept = append(kept, e)
	}
	p.items = kept
	p.mu.Unlock()

	for _, item := range expired {
		if p.close != nil {
			p.close(item)
		}
	}
	return len(expired)
}

// Len returns the number of items currently idle in the pool.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
