package resource

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/errs"
)

// Level is the Monitor's assessment of current usage against MaxMemoryBytes.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelExceeded
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarning:
		return "warning"
	case LevelExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// UsageFunc samples current resource usage in bytes.
type UsageFunc func() int64

// MonitorConfig tunes a Monitor's thresholds and sampling source.
type MonitorConfig struct {
	Limits Limits
	// WarnThreshold is the fraction of MaxMemoryBytes (0, 1) at which Check
	// starts reporting LevelWarning. Zero defaults to 0.8.
	WarnThreshold float64
	// Usage samples current usage; required.
	Usage UsageFunc
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

const defaultWarnThreshold = 0.8

// Monitor periodically samples resource usage (driven by the owner
// calling Check, not an internal timer) and classifies it against
// Limits.MaxMemoryBytes. A MaxMemoryBytes of zero disables monitoring
// entirely: Check always reports LevelOK.
type Monitor struct {
	cfg MonitorConfig
	clk clock.Clock
	log *slog.Logger

	mu        sync.Mutex
	lastLevel Level
	lastCheck time.Time
}

// NewMonitor constructs a Monitor from cfg.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = defaultWarnThreshold
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{cfg: cfg, clk: clk, log: log.With("component", "resource-monitor")}
}

// Check samples current usage and returns the resulting Level. At
// LevelExceeded it also returns a ResourceLimit error describing the
// overage; callers should treat this as a signal to shed load or refuse
// new work, not necessarily to tear down the session.
func (m *Monitor) Check() (Level, error) {
	if m.cfg.Limits.MaxMemoryBytes <= 0 {
		return LevelOK, nil
	}
	usage := m.cfg.Usage()
	ratio := float64(usage) / float64(m.cfg.Limits.MaxMemoryBytes)

	m.mu.Lock()
	prev := m.lastLevel
	m.lastCheck = m.clk.Now()

	var level Level
	switch {
	case ratio >= 1:
		level = LevelExceeded
	case ratio >= m.cfg.WarnThreshold:
		level = LevelWarning
	default:
		level = LevelOK
	}
	m.lastLevel = level
	m.mu.Unlock()

	if level != prev {
		m.log.Warn("resource usage level changed", "level", level.String(), "usage", usage, "max", m.cfg.Limits.MaxMemoryBytes)
	}

	if level == LevelExceeded {
		return level, &errs.ResourceLimit{Resource: "memory"}
	}
	return level, nil
}

// LastLevel returns the Level from the most recent Check call, or
// LevelOK if Check has never run.
func (m *Monitor) LastLevel() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLevel
}
