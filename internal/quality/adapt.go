package quality

import (
	"sync"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
)

// Resolution is a frame width/height pair.
type Resolution struct {
	Width  int
	Height int
}

// Step is one rung of an adaptation ladder: a resolution and the bitrate
// a publisher should target at it.
type Step struct {
	Resolution  Resolution
	BitrateKbps int
}

// AdapterConfig tunes an Adapter's reaction speed.
type AdapterConfig struct {
	// MinInterval is the minimum time between two adaptation changes.
	// Zero defaults to 2 seconds.
	MinInterval time.Duration
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

const defaultMinAdaptInterval = 2 * time.Second

// Adapter walks a fixed bitrate/resolution ladder up or down in response
// to congestion level, never changing more often than MinInterval so a
// momentary blip doesn't cause rapid oscillation. The ladder must be
// ordered from highest quality (index 0) to lowest.
type Adapter struct {
	cfg    AdapterConfig
	clk    clock.Clock
	ladder []Step

	mu         sync.Mutex
	currentIdx int
	lastChange time.Time
}

// NewAdapter constructs an Adapter starting at the top of ladder (index
// 0, the highest quality rung).
func NewAdapter(ladder []Step, cfg AdapterConfig) *Adapter {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinAdaptInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Adapter{cfg: cfg, clk: clk, ladder: ladder}
}

// Current returns the ladder step currently in effect.
func (a *Adapter) Current() Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ladder[a.currentIdx]
}

// Adapt reacts to the given congestion level: heavy congestion steps down
// two rungs, moderate steps down one, light holds steady, and no
// congestion steps up one rung toward recovery. It returns the resulting
// step and whether a change was actually applied — a change within
// MinInterval of the last one is suppressed and the current step is
// returned unchanged.
func (a *Adapter) Adapt(level Level) (Step, bool) {
	now := a.clk.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastChange.IsZero() && now.Sub(a.lastChange) < a.cfg.MinInterval {
		return a.ladder[a.currentIdx], false
	}

	newIdx := a.currentIdx
	switch level {
	case LevelHeavy:
		newIdx = clampIdx(a.currentIdx+2, len(a.ladder))
	case LevelModerate:
		newIdx = clampIdx(a.currentIdx+1, len(a.ladder))
	case LevelLight:
		// Hold steady: don't make things worse, but don't celebrate a
		// single light-congestion sample into stepping up either.
	case LevelNone:
		newIdx = clampIdx(a.currentIdx-1, len(a.ladder))
	}

	if newIdx == a.currentIdx {
		return a.ladder[a.currentIdx], false
	}
	a.currentIdx = newIdx
	a.lastChange = now
	return a.ladder[a.currentIdx], true
}

func clampIdx(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
