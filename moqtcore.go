// Package moqtcore wires the session, stream, delivery, reassembly,
// quality, and resource packages into a single per-connection Engine: the
// publish side queues and caches outgoing objects per track and drains
// them onto data streams opened on demand when a peer subscribes; the
// subscribe side accepts inbound data streams, reconstructs each group's
// objects into a single media frame, and hands the result to the caller.
package moqtcore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/delivery"
	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/object"
	"github.com/zsiec/moqtcore/internal/quality"
	"github.com/zsiec/moqtcore/internal/reassemble"
	"github.com/zsiec/moqtcore/internal/resource"
	"github.com/zsiec/moqtcore/internal/session"
	"github.com/zsiec/moqtcore/internal/streammgr"
	"github.com/zsiec/moqtcore/internal/transport"
	"github.com/zsiec/moqtcore/internal/wire"
)

// Config holds the dependencies and tunables for a single connection's
// Engine.
type Config struct {
	// Transport is the underlying connection.
	Transport transport.Session
	// Control is the control stream: already accepted (server) or already
	// opened (client) by the caller, same as session.Config.Control.
	Control transport.Stream
	// IsClient selects the setup handshake side, same as session.Config.
	IsClient bool
	// Local is this side's advertised capabilities.
	Local object.Capabilities
	// Limits bounds streams, cache memory, and overall resource usage.
	// The zero value (resource.UnlimitedLimits) disables every cap.
	Limits resource.Limits
	// CacheTTL bounds how long published objects are retained for replay
	// to late-joining subscribers. Zero disables TTL expiry (the byte and
	// count caps in Limits still apply).
	CacheTTL time.Duration
	// GapTimeout bounds how long a subscriber's reassembler waits for a
	// group to complete before force-assembling a partial frame from
	// whatever arrived. Zero disables the bounded wait: an incomplete
	// group is held forever.
	GapTimeout time.Duration
	// CongestionThresholds holds loss/delay boundaries for classifying
	// subscriber delivery health. The Engine stores it but does not read
	// it: no congestion level is computed and shedding is driven only by
	// the resource monitor and ShedTrack.
	CongestionThresholds quality.Thresholds
	// OnAnnounce accepts or rejects a peer's ANNOUNCE for a track this
	// side would consume. Nil rejects every announce.
	OnAnnounce func(track wire.Namespace) error
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

// publishedTrack is the publish-side state for one announced track: a
// priority queue of not-yet-sent objects, a replay cache for late
// subscribers, and (once a subscriber attaches) the data stream the queue
// drains onto.
type publishedTrack struct {
	track wire.Namespace
	alias uint64
	queue *delivery.Queue

	mu   sync.Mutex
	ds   *streammgr.SendDataStream
	seen bool // a subscriber has attached and a drain goroutine is running
}

// Engine is one MoQ connection: the session control-plane state machine,
// plus the data-plane plumbing (stream manager, object cache, reassembler,
// and quality controller) needed to actually move objects.
type Engine struct {
	cfg  Config
	log  *slog.Logger
	clk  clock.Clock
	sess *session.Session

	streams *streammgr.Manager
	cache   *delivery.Cache
	monitor *resource.Monitor

	nextAlias atomic.Uint64

	runCtx atomic.Pointer[context.Context]

	mu        sync.Mutex
	published map[wire.NamespaceKey]*publishedTrack
	aliases   map[uint64]*publishedTrack
	subs      map[uint64]*subscription // keyed by track alias, subscribe side
}

// subscription is the subscribe-side state for one track this Engine has
// subscribed to: a reassembler isolating just that track's groups, and the
// channel completed (or timed-out partial) frames are delivered to the
// caller on.
type subscription struct {
	track       wire.Namespace
	reassembler *reassemble.Reassembler
	estimator   *quality.Estimator
	out         chan reassemble.Frame
}

// New constructs an Engine. The setup handshake and control loop do not
// run until Run is called.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	e := &Engine{
		cfg:       cfg,
		log:       log.With("component", "moqtcore"),
		clk:       clk,
		published: make(map[wire.NamespaceKey]*publishedTrack),
		aliases:   make(map[uint64]*publishedTrack),
		subs:      make(map[uint64]*subscription),
	}

	e.streams = streammgr.New(streammgr.Config{
		Transport:            cfg.Transport,
		MaxConcurrentStreams: cfg.Limits.MaxConcurrentStreams,
		Logger:               log,
	})
	e.cache = delivery.NewCache(delivery.CacheConfig{
		MaxBytes:           cfg.Limits.MaxCacheBytes,
		MaxObjectsPerTrack: cfg.Limits.MaxObjectsPerTrack,
		TTL:                cfg.CacheTTL,
		Clock:              clk,
	})
	if cfg.Limits.MaxMemoryBytes > 0 {
		e.monitor = resource.NewMonitor(resource.MonitorConfig{
			Limits: cfg.Limits,
			Usage:  func() int64 { return e.cache.TotalBytes() },
			Clock:  clk,
			Logger: log,
		})
	}

	e.sess = session.New(session.Config{
		Transport:     cfg.Transport,
		Control:       cfg.Control,
		IsClient:      cfg.IsClient,
		Local:         cfg.Local,
		Logger:        log,
		OnAnnounce:    cfg.OnAnnounce,
		OnSubscribe:   e.onSubscribe,
		OnUnsubscribe: e.onUnsubscribe,
	})

	return e
}

// Run performs the setup handshake, starts accepting inbound data streams,
// and services control messages until ctx is cancelled or the session
// ends. It blocks until both the control session and the accept loop have
// returned.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runCtx.Store(&ctx)

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- e.streams.AcceptDataStreams(ctx, e.handleInboundStream) }()

	sessErr := e.sess.Run(ctx)
	cancel()
	<-acceptErr
	return sessErr
}

// State returns the underlying session's lifecycle stage.
func (e *Engine) State() session.State { return e.sess.State() }

// EffectiveCapabilities returns the negotiated min(local, peer) capabilities.
func (e *Engine) EffectiveCapabilities() object.Capabilities { return e.sess.EffectiveCapabilities() }

// Announce tells the peer this Engine publishes track and registers the
// per-track publish-side state (queue and cache) so PublishObject has
// somewhere to put objects even before a subscriber attaches.
func (e *Engine) Announce(ctx context.Context, track wire.Namespace) error {
	if err := e.sess.Announce(ctx, track); err != nil {
		return err
	}
	e.mu.Lock()
	if _, ok := e.published[track.Key()]; !ok {
		pt := &publishedTrack{track: track, alias: e.nextAlias.Add(1), queue: delivery.NewQueue()}
		e.published[track.Key()] = pt
		e.aliases[pt.alias] = pt
	}
	e.mu.Unlock()
	return nil
}

// PublishObject enqueues obj for delivery on track and caches it for
// replay to subscribers that attach later. It returns TrackNotFound if
// track has not been Announce-d on this Engine.
func (e *Engine) PublishObject(track wire.Namespace, obj object.MoqObject) error {
	e.mu.Lock()
	pt, ok := e.published[track.Key()]
	e.mu.Unlock()
	if !ok {
		return &errs.TrackNotFound{Namespace: string(track.TrackName)}
	}

	e.cache.Sweep()
	if err := e.cache.Put(track, obj); err != nil {
		e.log.Warn("cache put failed, object still queued for live delivery", "track", string(track.TrackName), "error", err)
	}
	pt.queue.Push(obj)
	return nil
}

// onSubscribe is the session.Config.OnSubscribe hook: it assigns the
// published track's alias, opens a send data stream for the subscriber,
// replays the cached objects of the subscription's start group (if one was
// requested), and starts the drain goroutine that pumps the track's queue
// onto the stream. Only the start group is replayed from the cache; later
// groups of a requested range are not.
func (e *Engine) onSubscribe(req session.SubscribeRequest) (uint64, error) {
	e.mu.Lock()
	pt, ok := e.published[req.Track.Key()]
	e.mu.Unlock()
	if !ok {
		return 0, &errs.TrackNotFound{Namespace: string(req.Track.TrackName)}
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.seen {
		return pt.alias, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ds, err := e.streams.OpenDataStream(ctx, pt.alias)
	if err != nil {
		return 0, fmt.Errorf("open data stream for subscriber: %w", err)
	}
	pt.ds = ds
	pt.seen = true

	if req.HasStart {
		for _, o := range e.cache.GroupObjects(pt.track, req.StartGroup) {
			pt.queue.Push(o)
		}
	}

	go e.drainPublishedTrack(pt)
	return pt.alias, nil
}

func (e *Engine) onUnsubscribe(requestID uint64) {
	// Nothing currently tracks requestID -> track on the publish side;
	// the send stream is torn down when the session itself ends.
}

// drainPublishedTrack pops objects from pt's queue and writes them to its
// data stream until Engine.Run's context ends or an EndOfTrack object is
// sent. While a monitor reports the warning level or above, every pending
// object less urgent than priority 1 is shed; audio, keyframes and
// closers are never shed here.
func (e *Engine) drainPublishedTrack(pt *publishedTrack) {
	ctx := context.Background()
	if p := e.runCtx.Load(); p != nil {
		ctx = *p
	}

	for {
		if ctx.Err() != nil {
			return
		}
		obj, ok := pt.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		so := wire.StreamObject{
			TrackAlias: pt.alias,
			GroupID:    obj.GroupID,
			Priority:   obj.PublisherPriority,
			ObjectID:   obj.ObjectID,
			Status:     obj.Status,
			Payload:    obj.Payload,
		}
		if err := pt.ds.Enqueue(so); err != nil {
			e.log.Debug("drain enqueue failed", "track", string(pt.track.TrackName), "error", err)
		}
		if obj.Status == object.StatusEndOfTrack {
			return
		}
		if e.monitor != nil {
			if level, _ := e.monitor.Check(); level >= resource.LevelWarning {
				pt.queue.ShedBelow(1)
			}
		}
	}
}

// ShedTrack drops every object of priority less urgent than threshold
// still pending for track, returning the count dropped. Exposed so a
// caller can react to transport-level congestion signals the Engine
// itself doesn't observe (e.g. a QUIC congestion window callback).
func (e *Engine) ShedTrack(track wire.Namespace, threshold byte) int {
	e.mu.Lock()
	pt, ok := e.published[track.Key()]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	return pt.queue.ShedBelow(threshold)
}

// Subscribe requests track from the peer and returns a channel delivering
// one reassembled Frame per completed (or timed-out) group, in the order
// groups complete. The channel is closed when ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context, track wire.Namespace, opts session.SubscribeOptions) (<-chan reassemble.Frame, error) {
	res, err := e.sess.Subscribe(ctx, track, opts)
	if err != nil {
		return nil, err
	}

	estimator := quality.NewEstimator(quality.Config{Clock: e.clk})
	sub := &subscription{
		track: track,
		reassembler: reassemble.NewReassembler(reassemble.Config{
			GapTimeout: e.cfg.GapTimeout,
			Clock:      e.clk,
			OnFrameAssembled: func(track wire.Namespace, groupID uint64, _ reassemble.Frame) {
				e.log.Debug("frame assembled", "track", string(track.TrackName), "group", groupID)
			},
			OnFramePartial: func(track wire.Namespace, groupID uint64, reason string) {
				e.log.Debug("partial frame", "track", string(track.TrackName), "group", groupID, "reason", reason)
			},
			OnRetransmissionRequested: func(track wire.Namespace, groupID uint64, missing []uint64) {
				estimator.RecordRetransmissionRequest()
				e.log.Warn("gap detected, retransmission requested", "track", string(track.TrackName), "group", groupID, "missing", missing)
			},
		}),
		estimator: estimator,
		out:       make(chan reassemble.Frame, 64),
	}
	e.mu.Lock()
	e.subs[res.TrackAlias] = sub
	e.mu.Unlock()

	go e.expireSubscriptionGaps(ctx, sub)

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.subs, res.TrackAlias)
		e.mu.Unlock()
		close(sub.out)
	}()

	return sub.out, nil
}

// expireSubscriptionGaps drives sub's reassembler's bounded wait on its own
// schedule, the caller side of the reassembler's pull-based ExpireGaps:
// there is no timer inside the reassembler itself. A zero GapTimeout
// disables the bounded wait entirely, so the ticker is never started.
func (e *Engine) expireSubscriptionGaps(ctx context.Context, sub *subscription) {
	if e.cfg.GapTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.GapTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, frame := range sub.reassembler.ExpireGaps(e.clk.Now()) {
				select {
				case sub.out <- frame:
				default:
					sub.estimator.RecordLoss()
					e.log.Debug("subscriber output channel full, dropping partial frame", "track", string(sub.track.TrackName))
				}
			}
		}
	}
}

// handleInboundStream is the streammgr.AcceptDataStreams handler: it reads
// StreamObject frames until EOF, routes each to the subscription matching
// its track alias (if any is currently subscribed), and feeds the
// reassembler.
func (e *Engine) handleInboundStream(rs transport.ReceiveStream) {
	data, err := io.ReadAll(rs)
	if err != nil {
		e.log.Debug("inbound stream read failed", "error", err)
		return
	}

	for len(data) > 0 {
		so, n, err := wire.DecodeStreamObject(data)
		if err != nil {
			e.log.Warn("inbound stream decode failed", "error", err)
			return
		}
		data = data[n:]

		e.mu.Lock()
		sub, ok := e.subs[so.TrackAlias]
		e.mu.Unlock()
		if !ok {
			continue
		}

		obj := object.MoqObject{
			Track:             sub.track,
			GroupID:           so.GroupID,
			ObjectID:          so.ObjectID,
			PublisherPriority: so.Priority,
			Payload:           so.Payload,
			Status:            so.Status,
			CreatedAt:         e.clk.Now(),
			Size:              len(so.Payload),
		}
		sub.estimator.RecordDelivery(int64(len(so.Payload)), 0)
		frame, err := sub.reassembler.Push(obj)
		if err != nil {
			e.log.Debug("frame assembly failed", "track", string(sub.track.TrackName), "group", so.GroupID, "error", err)
			continue
		}
		if frame == nil {
			continue
		}
		select {
		case sub.out <- *frame:
		default:
			sub.estimator.RecordLoss()
			e.log.Debug("subscriber output channel full, dropping frame", "track", string(sub.track.TrackName))
		}
	}
}

// Stats aggregates delivery counters across every open data stream.
func (e *Engine) Stats() streammgr.Stats { return e.streams.Stats() }
