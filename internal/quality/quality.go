// Package quality estimates delivery bandwidth and loss from a rolling
// window of recent object deliveries, derives a congestion level from
// that window, and applies bitrate/resolution adaptation rules bounded by
// a minimum interval between changes. The rolling window is grounded on
// distribution.DemuxStats' sliding-window FPS/bitrate computation
// (append a timestamped sample, trim anything older than a cutoff,
// compute a rate over what remains), adapted to use internal/clock so the
// window trims deterministically under test instead of against
// time.Now().
package quality

import (
	"sync"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
)

// Config tunes an Estimator's sampling behavior.
type Config struct {
	// MaxSamples caps how many delivery samples the rolling window keeps.
	// Zero defaults to 10.
	MaxSamples int
	// MinSampleInterval is the minimum spacing between accepted samples;
	// RecordDelivery calls arriving sooner are ignored. Zero defaults to
	// 100ms.
	MinSampleInterval time.Duration
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

const (
	defaultMaxSamples        = 10
	defaultMinSampleInterval = 100 * time.Millisecond
)

type deliverySample struct {
	at    time.Time
	bytes int64
	delay time.Duration
}

// Estimator tracks recent object deliveries to derive bandwidth, average
// delivery delay, and loss ratio.
type Estimator struct {
	cfg Config
	clk clock.Clock

	mu             sync.Mutex
	samples        []deliverySample
	lastSampleAt   time.Time
	delivered      uint64
	lost           uint64
	retransmitReqs uint64
}

// NewEstimator constructs an Estimator from cfg.
func NewEstimator(cfg Config) *Estimator {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = defaultMaxSamples
	}
	if cfg.MinSampleInterval <= 0 {
		cfg.MinSampleInterval = defaultMinSampleInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Estimator{cfg: cfg, clk: clk}
}

// RecordDelivery records a successfully delivered object of the given
// size after the given end-to-end delay. It returns false, without
// recording a sample, if called again sooner than MinSampleInterval since
// the last accepted sample — delivery loss is still counted via
// RecordLoss regardless of sampling spacing.
func (e *Estimator) RecordDelivery(bytes int64, delay time.Duration) bool {
	now := e.clk.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.delivered++
	if !e.lastSampleAt.IsZero() && now.Sub(e.lastSampleAt) < e.cfg.MinSampleInterval {
		return false
	}
	e.lastSampleAt = now
	e.samples = append(e.samples, deliverySample{at: now, bytes: bytes, delay: delay})
	if len(e.samples) > e.cfg.MaxSamples {
		e.samples = e.samples[len(e.samples)-e.cfg.MaxSamples:]
	}
	return true
}

// RecordLoss records an object that was dropped or never delivered,
// counting toward LossRatio.
func (e *Estimator) RecordLoss() {
	e.mu.Lock()
	e.lost++
	e.mu.Unlock()
}

// RecordRetransmissionRequest counts one more retransmission request raised
// for this subscription's delivery, the retransmission_requests field of
// the delivery-metrics model a quality controller consumes.
func (e *Estimator) RecordRetransmissionRequest() {
	e.mu.Lock()
	e.retransmitReqs++
	e.mu.Unlock()
}

// RetransmissionRequests returns how many retransmission requests have
// been recorded since the Estimator was created.
func (e *Estimator) RetransmissionRequests() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retransmitReqs
}

// BandwidthKbps computes throughput in kbps over the current sample
// window: total sampled bytes divided by the span between the oldest and
// newest sample. Fewer than two samples yields 0.
func (e *Estimator) BandwidthKbps() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) < 2 {
		return 0
	}
	var totalBytes int64
	for _, s := range e.samples {
		totalBytes += s.bytes
	}
	span := e.samples[len(e.samples)-1].at.Sub(e.samples[0].at)
	if span <= 0 {
		return 0
	}
	return float64(totalBytes*8) / 1000 / span.Seconds()
}

// AvgDeliveryTime averages the recorded delay across the current sample
// window.
func (e *Estimator) AvgDeliveryTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range e.samples {
		total += s.delay
	}
	return total / time.Duration(len(e.samples))
}

// LossRatio returns lost/(lost+delivered) since the Estimator was
// created. 0 when nothing has been recorded yet.
func (e *Estimator) LossRatio() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.delivered + e.lost
	if total == 0 {
		return 0
	}
	return float64(e.lost) / float64(total)
}

// SampleCount returns how many samples are currently in the window.
func (e *Estimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}

// Level is the derived congestion severity, ordered from best to worst.
type Level int

const (
	LevelNone Level = iota
	LevelLight
	LevelModerate
	LevelHeavy
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLight:
		return "light"
	case LevelModerate:
		return "moderate"
	case LevelHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}

// Thresholds configures the loss-ratio and average-delay boundaries
// CongestionLevel uses to classify the current window. A level triggers
// if either its loss or delay threshold is met.
type Thresholds struct {
	LightLossRatio    float64
	ModerateLossRatio float64
	HeavyLossRatio    float64
	LightDelay        time.Duration
	ModerateDelay     time.Duration
	HeavyDelay        time.Duration
}

// DefaultThresholds returns reasonable defaults for live media delivery.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LightLossRatio:    0.02,
		ModerateLossRatio: 0.05,
		HeavyLossRatio:    0.15,
		LightDelay:        100 * time.Millisecond,
		ModerateDelay:     300 * time.Millisecond,
		HeavyDelay:        800 * time.Millisecond,
	}
}

// CongestionLevel classifies the Estimator's current window against th.
func (e *Estimator) CongestionLevel(th Thresholds) Level {
	loss := e.LossRatio()
	delay := e.AvgDeliveryTime()
	switch {
	case loss >= th.HeavyLossRatio || delay >= th.HeavyDelay:
		return LevelHeavy
	case loss >= th.ModerateLossRatio || delay >= th.ModerateDelay:
		return LevelModerate
	case loss >= th.LightLossRatio || delay >= th.LightDelay:
		return LevelLight
	default:
		return LevelNone
	}
}
