package streammgr

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/transport"
	"github.com/zsiec/moqtcore/internal/wire"
)

// defaultPendingQueueDepth is used when Config.PendingQueueDepth is unset.
const defaultPendingQueueDepth = 64

// SendDataStream is one unidirectional stream carrying a sequence of
// objects for a single track. Enqueue is non-blocking: once the pending
// queue is full, further objects are dropped rather than buffered, so a
// slow reader sheds load instead of growing memory without bound.
type SendDataStream struct {
	id         uint64
	trackAlias uint64
	send       transport.SendStream
	pending    chan wire.StreamObject
	done       chan struct{}
	log        *slog.Logger
	release    func()

	closeOnce   atomic.Bool
	sentCount   atomic.Int64
	droppedCount atomic.Int64
	sentBytes   atomic.Int64
}

// ID returns the underlying transport stream ID.
func (s *SendDataStream) ID() uint64 { return s.id }

// TrackAlias returns the track this stream carries.
func (s *SendDataStream) TrackAlias() uint64 { return s.trackAlias }

// Enqueue hands obj to the write loop. If the pending queue is full, obj is
// dropped and ResourceExhausted is returned; callers should treat this as
// expected back-pressure, not a fatal error.
func (s *SendDataStream) Enqueue(obj wire.StreamObject) error {
	select {
	case s.pending <- obj:
		return nil
	default:
		s.droppedCount.Add(1)
		return &errs.ResourceExhausted{Resource: "data stream pending queue"}
	}
}

// StreamStats are snapshot counters for one stream.
type StreamStats struct {
	Sent    int64
	Dropped int64
	Bytes   int64
}

// Stats returns this stream's delivery counters.
func (s *SendDataStream) Stats() StreamStats {
	return StreamStats{
		Sent:    s.sentCount.Load(),
		Dropped: s.droppedCount.Load(),
		Bytes:   s.sentBytes.Load(),
	}
}

// Close stops the write loop and releases the stream's concurrency permit.
// Safe to call more than once.
func (s *SendDataStream) Close() {
	if !s.closeOnce.CompareAndSwap(false, true) {
		return
	}
	close(s.pending)
	<-s.done
	s.send.Close()
	if s.release != nil {
		s.release()
	}
}

func (s *SendDataStream) writeLoop() {
	defer close(s.done)
	for obj := range s.pending {
		buf, err := wire.EncodeStreamObject(obj)
		if err != nil {
			s.log.Warn("encode stream object failed", "error", err)
			continue
		}
		n, err := s.send.Write(buf)
		if err != nil {
			s.log.Debug("stream write failed, stopping write loop", "error", err)
			return
		}
		s.sentCount.Add(1)
		s.sentBytes.Add(int64(n))
	}
}
