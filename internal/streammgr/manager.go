// Package streammgr owns the inventory of unidirectional data streams a
// session has open, gates how many may be created concurrently, and applies
// per-stream back-pressure so a slow peer sheds objects instead of
// unbounded buffering. The single control stream is owned by the session
// package; the manager does not track it and it is not counted in Stats.
package streammgr

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/transport"
	"github.com/zsiec/moqtcore/internal/wire"
)

// unboundedStreamLimit is the semaphore weight used when Config leaves
// MaxConcurrentStreams at zero.
const unboundedStreamLimit = math.MaxInt64

// Config holds the Manager's tunables.
type Config struct {
	// Transport is the session's underlying connection.
	Transport transport.Session
	// MaxConcurrentStreams bounds how many unidirectional streams (send or
	// receive) may be open at once. Zero means unlimited.
	MaxConcurrentStreams int64
	// PendingQueueDepth is how many encoded objects a send stream buffers
	// before Enqueue starts reporting ResourceExhausted and dropping.
	PendingQueueDepth int
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Manager tracks a session's data streams.
type Manager struct {
	cfg Config
	log *slog.Logger
	sem *semaphore.Weighted

	mu      sync.Mutex
	streams map[uint64]*SendDataStream

	controlOpened atomic.Bool
}

// New constructs a Manager. A MaxConcurrentStreams of zero removes the
// concurrency cap.
func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := cfg.MaxConcurrentStreams
	if limit <= 0 {
		limit = unboundedStreamLimit
	}
	return &Manager{
		cfg:     cfg,
		log:     log.With("component", "streammgr"),
		sem:     semaphore.NewWeighted(limit),
		streams: make(map[uint64]*SendDataStream),
	}
}

// OpenDataStream opens a new unidirectional send stream for trackAlias,
// blocking on the concurrency semaphore if MaxConcurrentStreams streams are
// already open. The returned stream buffers up to PendingQueueDepth
// encoded objects before Enqueue starts shedding.
func (m *Manager) OpenDataStream(ctx context.Context, trackAlias uint64) (*SendDataStream, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, &errs.ResourceExhausted{Resource: "concurrent data streams"}
	}

	send, err := m.cfg.Transport.OpenUniStreamSync(ctx)
	if err != nil {
		m.sem.Release(1)
		return nil, &errs.Transport{Reason: "open unidirectional stream", Err: err}
	}

	depth := m.cfg.PendingQueueDepth
	if depth <= 0 {
		depth = defaultPendingQueueDepth
	}

	ds := &SendDataStream{
		id:         send.StreamID(),
		trackAlias: trackAlias,
		send:       send,
		pending:    make(chan wire.StreamObject, depth),
		done:       make(chan struct{}),
		log:        m.log.With("stream", send.StreamID(), "track_alias", trackAlias),
		release:    func() { m.sem.Release(1) },
	}

	m.mu.Lock()
	m.streams[ds.id] = ds
	m.mu.Unlock()

	go ds.writeLoop()
	return ds, nil
}

// CloseDataStream closes and deregisters the stream with the given ID, a
// no-op if the ID is not (or is no longer) open.
func (m *Manager) CloseDataStream(id uint64) {
	m.mu.Lock()
	ds, ok := m.streams[id]
	if ok {
		delete(m.streams, id)
	}
	m.mu.Unlock()
	if ok {
		ds.Close()
	}
}

// AcceptDataStreams accepts incoming unidirectional streams until ctx is
// cancelled, handing each to handler on its own goroutine gated by the same
// concurrency semaphore as outbound streams. handler is responsible for
// reading the stream.
func (m *Manager) AcceptDataStreams(ctx context.Context, handler func(transport.ReceiveStream)) error {
	for {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		recv, err := m.cfg.Transport.AcceptUniStream(ctx)
		if err != nil {
			m.sem.Release(1)
			return err
		}
		go func() {
			defer m.sem.Release(1)
			handler(recv)
		}()
	}
}

// Stats aggregates delivery counters across every currently-open send
// stream.
type Stats struct {
	OpenStreams    int
	SentObjects    int64
	DroppedObjects int64
	SentBytes      int64
}

// Stats returns the current aggregate stats across all open send streams.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{OpenStreams: len(m.streams)}
	for _, ds := range m.streams {
		s.SentObjects += ds.sentCount.Load()
		s.DroppedObjects += ds.droppedCount.Load()
		s.SentBytes += ds.sentBytes.Load()
	}
	return s
}
