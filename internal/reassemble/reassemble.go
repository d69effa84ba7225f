// Package reassemble reconstructs media frames from potentially
// out-of-order, possibly incomplete per-group object sequences. It is
// grounded on the same per-key accumulate-until-boundary pattern
// internal/mpegts uses to reassemble PSI sections from out-of-order
// transport packets, adapted from "flush on boundary" to "flush exactly
// once per group, on completion or on a bounded wait timing out".
package reassemble

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/object"
	"github.com/zsiec/moqtcore/internal/wire"
)

// TrackKind is the coarse media type a reassembled Frame carries, inferred
// from the track's namespace when the track registry doesn't already know
// it.
type TrackKind int

// Track kinds.
const (
	KindData TrackKind = iota
	KindVideo
	KindAudio
)

func (k TrackKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "data"
	}
}

// InferTrackKind guesses a TrackKind from namespace/track-name substrings,
// the same heuristic the teacher's demuxer uses to classify an elementary
// stream it hasn't been told the type of: "video"/"camera"/"screen" names
// a video track, "audio"/"mic"/"microphone" names an audio track,
// otherwise it's treated as opaque data.
func InferTrackKind(track wire.Namespace) TrackKind {
	s := strings.ToLower(string(track.Namespace) + "/" + string(track.TrackName))
	switch {
	case strings.Contains(s, "video"), strings.Contains(s, "camera"), strings.Contains(s, "screen"):
		return KindVideo
	case strings.Contains(s, "audio"), strings.Contains(s, "mic"):
		return KindAudio
	default:
		return KindData
	}
}

// Frame is one reconstructed (track, group): the ordered concatenation of
// that group's object payloads, plus the metadata an embedder needs to
// hand it to a decoder.
type Frame struct {
	Track      wire.Namespace
	GroupID    uint64
	Kind       TrackKind
	Payload    []byte
	Timestamp  uint64 // equals GroupID
	IsKeyframe bool
	// Partial is true when the frame was force-assembled by ExpireGaps
	// before every object in the group arrived.
	Partial bool
	// MissingIDs lists the object IDs absent at assembly time, present only
	// on a Partial frame.
	MissingIDs []uint64
}

// Config holds a Reassembler's tunables.
type Config struct {
	// GapTimeout bounds how long a group may sit incomplete before
	// ExpireGaps force-assembles it into a partial frame. Zero disables
	// expiry: ExpireGaps becomes a no-op and a permanently incomplete group
	// is held forever.
	GapTimeout time.Duration
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
	// OnFrameAssembled, if set, is called synchronously (while the
	// Reassembler's lock is held) whenever Push completes a group in full.
	OnFrameAssembled func(track wire.Namespace, groupID uint64, frame Frame)
	// OnFramePartial, if set, is called synchronously whenever a partial
	// frame is emitted: either ExpireGaps forcing an incomplete group, or
	// an assembly that fails outright (dropped instead, frame omitted).
	OnFramePartial func(track wire.Namespace, groupID uint64, reason string)
	// OnRetransmissionRequested, if set, is called synchronously the first
	// time a gap is observed within a group's present object IDs (a
	// retransmission policy is out of scope here; this is the hook a
	// transport-level collaborator would use to actually request one).
	// Fired at most once per group.
	OnRetransmissionRequested func(track wire.Namespace, groupID uint64, missing []uint64)
}

type groupKey struct {
	track wire.NamespaceKey
	group uint64
}

type pendingGroup struct {
	track       wire.Namespace
	kind        TrackKind
	firstSeenAt time.Time
	objects     map[uint64][]byte

	haveLowest   bool
	lowestID     uint64
	lowestPrio   byte
	endOfGroup   bool
	expectedSize uint64 // valid only once endOfGroup is true

	highestID           uint64
	retransmitRequested bool
}

// Reassembler buffers objects per (track, group) and emits exactly one
// frame per group, once every object up to the EndOfGroup marker's object
// ID has arrived, or once the group has been pending longer than
// GapTimeout (a partial frame, via ExpireGaps).
type Reassembler struct {
	cfg Config
	clk clock.Clock

	mu     sync.Mutex
	groups map[groupKey]*pendingGroup
	// closedGroups remembers every (track, group) that has already yielded
	// its one frame (by completion or by timeout), so a late-arriving
	// object for it is ignored instead of opening a second assembly.
	closedGroups map[groupKey]struct{}
	// closedTracks remembers every track that has seen EndOfTrack: per
	// §4.6/property 9, nothing for it is ever emitted again.
	closedTracks map[wire.NamespaceKey]struct{}

	retransmissionRequests int
}

// NewReassembler constructs a Reassembler from cfg.
func NewReassembler(cfg Config) *Reassembler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Reassembler{
		cfg:          cfg,
		clk:          clk,
		groups:       make(map[groupKey]*pendingGroup),
		closedGroups: make(map[groupKey]struct{}),
		closedTracks: make(map[wire.NamespaceKey]struct{}),
	}
}

// Push admits obj. It returns a non-nil Frame exactly when obj completes
// its group (every data object up to the EndOfGroup marker's object ID is
// now present). EndOfTrack abandons every pending assembly for the track
// (nothing further will ever arrive for it) and never itself yields a
// frame. A completed group whose payload turns out empty reports
// InvalidData instead of a Frame.
func (r *Reassembler) Push(obj object.MoqObject) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if obj.Status == object.StatusEndOfTrack {
		r.dropTrack(obj.Track)
		return nil, nil
	}

	trackKey := obj.Track.Key()
	if _, dead := r.closedTracks[trackKey]; dead {
		return nil, nil
	}

	key := groupKey{track: trackKey, group: obj.GroupID}
	if _, done := r.closedGroups[key]; done {
		return nil, nil
	}

	pg := r.groups[key]
	if pg == nil {
		pg = &pendingGroup{
			track:       obj.Track,
			kind:        InferTrackKind(obj.Track),
			firstSeenAt: r.clk.Now(),
			objects:     make(map[uint64][]byte),
		}
		r.groups[key] = pg
	}

	switch obj.Status {
	case object.StatusEndOfGroup:
		pg.endOfGroup = true
		pg.expectedSize = obj.ObjectID
	default:
		pg.objects[obj.ObjectID] = obj.Payload
		if !pg.haveLowest || obj.ObjectID < pg.lowestID {
			pg.haveLowest = true
			pg.lowestID = obj.ObjectID
			pg.lowestPrio = obj.PublisherPriority
		}
		if obj.ObjectID > pg.highestID {
			pg.highestID = obj.ObjectID
		}
		r.checkGap(pg, key)
	}

	if !pg.endOfGroup || uint64(len(pg.objects)) < pg.expectedSize {
		return nil, nil
	}

	delete(r.groups, key)
	r.closedGroups[key] = struct{}{}
	frame, err := assemble(key.group, pg, false, nil)
	if err != nil {
		return nil, err
	}
	if r.cfg.OnFrameAssembled != nil {
		r.cfg.OnFrameAssembled(pg.track, key.group, *frame)
	}
	return frame, nil
}

// checkGap implements step 5 of the reassembly procedure: within the span
// of object IDs seen so far for pg (its lowest through its highest), any
// absent ID is a gap. The first time a group shows a gap, it's reported via
// OnRetransmissionRequested and never reported again for that group — the
// exact retransmission mechanism is a transport-level concern this package
// doesn't own, so this is only ever a one-shot notification.
func (r *Reassembler) checkGap(pg *pendingGroup, key groupKey) {
	if pg.retransmitRequested || !pg.haveLowest {
		return
	}
	var missing []uint64
	for id := pg.lowestID; id < pg.highestID; id++ {
		if _, ok := pg.objects[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}
	pg.retransmitRequested = true
	r.retransmissionRequests++
	if r.cfg.OnRetransmissionRequested != nil {
		r.cfg.OnRetransmissionRequested(pg.track, key.group, missing)
	}
}

// RetransmissionRequests returns how many groups have had a gap reported
// via OnRetransmissionRequested since construction.
func (r *Reassembler) RetransmissionRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retransmissionRequests
}

// dropTrack discards every pending assembly for track and marks it dead:
// per §4.6, EndOfTrack means nothing later can possibly arrive, so partial
// state is simply abandoned rather than force-assembled, and no further
// object for the track is ever admitted again.
func (r *Reassembler) dropTrack(track wire.Namespace) {
	trackKey := track.Key()
	r.closedTracks[trackKey] = struct{}{}
	for k := range r.groups {
		if k.track == trackKey {
			delete(r.groups, k)
		}
	}
	for k := range r.closedGroups {
		if k.track == trackKey {
			delete(r.closedGroups, k)
		}
	}
}

// assemble concatenates pg's buffered payloads in ascending object ID
// order. An empty result (every buffered object carried no payload, or
// none arrived at all) is reported as InvalidData rather than silently
// emitting an empty frame.
func assemble(groupID uint64, pg *pendingGroup, partial bool, missing []uint64) (*Frame, error) {
	ids := make([]uint64, 0, len(pg.objects))
	for id := range pg.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf bytes.Buffer
	for _, id := range ids {
		buf.Write(pg.objects[id])
	}
	if buf.Len() == 0 {
		return nil, &errs.InvalidData{Reason: "frame has no data"}
	}

	return &Frame{
		Track:      pg.track,
		GroupID:    groupID,
		Kind:       pg.kind,
		Payload:    buf.Bytes(),
		Timestamp:  groupID,
		IsKeyframe: pg.haveLowest && pg.lowestID == 0 && pg.lowestPrio == 1,
		Partial:    partial,
		MissingIDs: missing,
	}, nil
}

// missingIDs reports which object IDs in [0, expected) are not yet
// buffered, in ascending order. expected is pg.expectedSize once
// endOfGroup is seen; for a group with no marker yet, ExpireGaps passes
// the highest buffered ID + 1 so a force-assembly can still report what a
// contiguous run up to that point is missing.
func missingIDs(pg *pendingGroup, expected uint64) []uint64 {
	var missing []uint64
	for id := uint64(0); id < expected; id++ {
		if _, ok := pg.objects[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// ExpireGaps force-assembles every group that has been pending longer than
// GapTimeout into a single partial frame (or drops it, if the assembly
// would be empty), and returns the frames produced. Called periodically by
// the owner: there is no internal timer, the same pull-based shape as
// delivery.Cache.Sweep, so behavior stays deterministic under a
// clock.Manual in tests.
func (r *Reassembler) ExpireGaps(now time.Time) []Frame {
	if r.cfg.GapTimeout <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []groupKey
	for key, pg := range r.groups {
		if now.Sub(pg.firstSeenAt) >= r.cfg.GapTimeout {
			expired = append(expired, key)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].group < expired[j].group })

	var frames []Frame
	for _, key := range expired {
		pg := r.groups[key]
		delete(r.groups, key)
		r.closedGroups[key] = struct{}{}

		expected := pg.expectedSize
		if !pg.endOfGroup {
			expected = 0
			for id := range pg.objects {
				if id+1 > expected {
					expected = id + 1
				}
			}
		}
		frame, err := assemble(key.group, pg, true, missingIDs(pg, expected))
		if err != nil {
			if r.cfg.OnFramePartial != nil {
				r.cfg.OnFramePartial(pg.track, key.group, "timed out with no data, assembly dropped")
			}
			continue
		}
		frames = append(frames, *frame)
		if r.cfg.OnFramePartial != nil {
			r.cfg.OnFramePartial(pg.track, key.group, "max wait time exceeded")
		}
	}
	return frames
}

// PendingCount returns how many objects are currently buffered awaiting
// group completion or expiry, across every track and group.
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, pg := range r.groups {
		n += len(pg.objects)
	}
	return n
}
