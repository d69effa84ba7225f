package reassemble

import (
	"bytes"
	"testing"
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/object"
	"github.com/zsiec/moqtcore/internal/wire"
)

func videoTrack() wire.Namespace {
	return wire.Namespace{Namespace: []byte("example.com"), TrackName: []byte("live/camera1")}
}

func audioTrack() wire.Namespace {
	return wire.Namespace{Namespace: []byte("example.com"), TrackName: []byte("live/mic")}
}

func dataTrack() wire.Namespace {
	return wire.Namespace{Namespace: []byte("example.com"), TrackName: []byte("telemetry")}
}

func normal(tr wire.Namespace, groupID, objectID uint64, payload string) object.MoqObject {
	return object.MoqObject{Track: tr, GroupID: groupID, ObjectID: objectID, Status: object.StatusNormal, Payload: []byte(payload)}
}

func endOfGroup(tr wire.Namespace, groupID, markerObjectID uint64) object.MoqObject {
	return object.MoqObject{Track: tr, GroupID: groupID, ObjectID: markerObjectID, Status: object.StatusEndOfGroup}
}

func endOfTrack(tr wire.Namespace, groupID uint64) object.MoqObject {
	return object.MoqObject{Track: tr, GroupID: groupID, Status: object.StatusEndOfTrack}
}

func TestInferTrackKind(t *testing.T) {
	cases := []struct {
		track wire.Namespace
		want  TrackKind
	}{
		{videoTrack(), KindVideo},
		{wire.Namespace{Namespace: []byte("room"), TrackName: []byte("screen-share")}, KindVideo},
		{audioTrack(), KindAudio},
		{wire.Namespace{Namespace: []byte("room"), TrackName: []byte("microphone")}, KindAudio},
		{dataTrack(), KindData},
	}
	for _, c := range cases {
		if got := InferTrackKind(c.track); got != c.want {
			t.Errorf("InferTrackKind(%q/%q) = %v, want %v", c.track.Namespace, c.track.TrackName, got, c.want)
		}
	}
}

// TestReassemblerGapThenCompletion implements the reassembly gap-then-
// completion scenario: object_ids 0, 1, 2 arrive, then an EndOfGroup
// marker at object_id 4 (implying 4 data objects, 0..3); object 3 is
// still missing so no frame is emitted yet. Once object 3 arrives, the
// group completes and the frame's payload is the ordered concatenation of
// all four payloads.
func TestReassemblerGapThenCompletion(t *testing.T) {
	r := NewReassembler(Config{})
	tr := videoTrack()

	for i, payload := range []string{"a", "b", "c"} {
		if frame, err := r.Push(normal(tr, 0, uint64(i), payload)); err != nil || frame != nil {
			t.Fatalf("push %d: frame = %v, err = %v, want nil, nil", i, frame, err)
		}
	}

	frame, err := r.Push(endOfGroup(tr, 0, 4))
	if err != nil {
		t.Fatalf("push end-of-group: %v", err)
	}
	if frame != nil {
		t.Fatalf("expected no frame with object 3 still missing, got %+v", frame)
	}

	frame, err = r.Push(normal(tr, 0, 3, "d"))
	if err != nil {
		t.Fatalf("push 3: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a completed frame once object 3 fills the gap")
	}
	if !bytes.Equal(frame.Payload, []byte("abcd")) {
		t.Fatalf("payload = %q, want %q", frame.Payload, "abcd")
	}
	if frame.Partial {
		t.Error("expected a fully assembled frame, not partial")
	}
	if frame.Kind != KindVideo {
		t.Errorf("kind = %v, want KindVideo", frame.Kind)
	}
	if frame.Timestamp != 0 {
		t.Errorf("timestamp = %d, want group id 0", frame.Timestamp)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", r.PendingCount())
	}
}

// TestReassemblerTimeout implements the reassembly timeout scenario:
// object_ids 0 and 1 are delivered, no EndOfGroup ever arrives; once
// GapTimeout elapses, ExpireGaps force-assembles exactly one partial
// frame from what's buffered, and further objects for that group never
// produce a second frame.
func TestReassemblerTimeout(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	r := NewReassembler(Config{GapTimeout: 100 * time.Millisecond, Clock: mc})
	tr := videoTrack()

	r.Push(normal(tr, 0, 0, "a"))
	r.Push(normal(tr, 0, 1, "b"))

	if frames := r.ExpireGaps(mc.Now()); frames != nil {
		t.Fatalf("expire before timeout: frames = %v, want none", frames)
	}

	mc.Advance(150 * time.Millisecond)
	frames := r.ExpireGaps(mc.Now())
	if len(frames) != 1 {
		t.Fatalf("expire after timeout: got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, []byte("ab")) {
		t.Fatalf("payload = %q, want %q", frames[0].Payload, "ab")
	}
	if !frames[0].Partial {
		t.Error("expected the timed-out frame to be marked partial")
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", r.PendingCount())
	}

	// A further object for the same (track, group) must not resurrect the
	// assembly or yield a second frame.
	frame, err := r.Push(normal(tr, 0, 2, "c"))
	if err != nil || frame != nil {
		t.Fatalf("push after timeout: frame = %v, err = %v, want nil, nil", frame, err)
	}
	if frames := r.ExpireGaps(mc.Now()); frames != nil {
		t.Fatalf("expire after late push: frames = %v, want none", frames)
	}
}

// TestReassemblerEndOfGroupWaitsForMissingObject implements the
// completion test directly: an EndOfGroup marker does not flush a group
// past an open gap, even when the group's first object is present.
func TestReassemblerEndOfGroupWaitsForMissingObject(t *testing.T) {
	r := NewReassembler(Config{})
	tr := videoTrack()

	r.Push(normal(tr, 0, 0, "a"))
	r.Push(normal(tr, 0, 2, "c")) // gap at 1, buffered

	frame, err := r.Push(endOfGroup(tr, 0, 3))
	if err != nil {
		t.Fatalf("push end-of-group: %v", err)
	}
	if frame != nil {
		t.Fatalf("expected no frame while object 1 is missing, got %+v", frame)
	}
	if r.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", r.PendingCount())
	}

	frame, err = r.Push(normal(tr, 0, 1, "b"))
	if err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a completed frame once object 1 fills the gap")
	}
	if !bytes.Equal(frame.Payload, []byte("abc")) {
		t.Fatalf("payload = %q, want %q", frame.Payload, "abc")
	}
}

// TestReassemblerEndOfTrackAbandonsPending implements property 9
// (EndOfTrack drains): every assembly still pending for the track is
// abandoned, no frame is ever produced for it, and no later object for
// the track produces one either.
func TestReassemblerEndOfTrackAbandonsPending(t *testing.T) {
	r := NewReassembler(Config{})
	tr := videoTrack()

	r.Push(normal(tr, 0, 0, "a"))
	r.Push(normal(tr, 1, 5, "z")) // a later group, also incomplete

	frame, err := r.Push(endOfTrack(tr, 0))
	if err != nil || frame != nil {
		t.Fatalf("push end-of-track: frame = %v, err = %v, want nil, nil", frame, err)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0 after end-of-track", r.PendingCount())
	}

	frame, err = r.Push(normal(tr, 0, 1, "b"))
	if err != nil || frame != nil {
		t.Fatalf("push after end-of-track: frame = %v, err = %v, want nil, nil", frame, err)
	}
}

func TestReassemblerGapTimeoutDisabledByDefault(t *testing.T) {
	r := NewReassembler(Config{})
	r.Push(normal(videoTrack(), 0, 1, "x"))
	if frames := r.ExpireGaps(time.Now()); frames != nil {
		t.Fatalf("expected ExpireGaps to be a no-op with GapTimeout unset, got %v", frames)
	}
}

// TestReassemblerEmptyGroupReportsInvalidData implements the empty-result
// edge case: an EndOfGroup marker at object_id 0 means zero data objects
// were ever expected, so completion fires immediately but there is
// nothing to concatenate.
func TestReassemblerEmptyGroupReportsInvalidData(t *testing.T) {
	r := NewReassembler(Config{})
	tr := videoTrack()

	frame, err := r.Push(endOfGroup(tr, 0, 0))
	if frame != nil {
		t.Fatalf("expected no frame, got %+v", frame)
	}
	if _, ok := err.(*errs.InvalidData); !ok {
		t.Fatalf("err type = %T, want *errs.InvalidData", err)
	}
}

// TestReassemblerKeyframeFromLowestObjectPriority implements keyframe
// inference: the lowest-numbered object in the group carries the
// keyframe-marking priority.
func TestReassemblerKeyframeFromLowestObjectPriority(t *testing.T) {
	r := NewReassembler(Config{})
	tr := videoTrack()

	keyObj := normal(tr, 0, 0, "a")
	keyObj.PublisherPriority = 1
	r.Push(keyObj)

	frame, err := r.Push(endOfGroup(tr, 0, 1))
	if err != nil {
		t.Fatalf("push end-of-group: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a completed frame")
	}
	if !frame.IsKeyframe {
		t.Error("expected IsKeyframe true when object 0 carries priority 1")
	}
}

// TestReassemblerRetransmissionRequestedOnceForGap implements gap
// detection (step 5): a missing object_id strictly between the lowest and
// highest IDs seen so far fires OnRetransmissionRequested exactly once,
// even as further objects arrive before the group completes.
func TestReassemblerRetransmissionRequestedOnceForGap(t *testing.T) {
	var requests int
	var lastMissing []uint64
	r := NewReassembler(Config{
		OnRetransmissionRequested: func(_ wire.Namespace, _ uint64, missing []uint64) {
			requests++
			lastMissing = missing
		},
	})
	tr := videoTrack()

	r.Push(normal(tr, 0, 0, "a"))
	r.Push(normal(tr, 0, 2, "c")) // gap at 1
	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
	if len(lastMissing) != 1 || lastMissing[0] != 1 {
		t.Fatalf("missing = %v, want [1]", lastMissing)
	}

	// A further push into the same still-open gap must not request again.
	r.Push(normal(tr, 0, 3, "d"))
	if requests != 1 {
		t.Fatalf("requests after second push = %d, want still 1", requests)
	}
	if r.RetransmissionRequests() != 1 {
		t.Fatalf("RetransmissionRequests() = %d, want 1", r.RetransmissionRequests())
	}

	frame, err := r.Push(normal(tr, 0, 1, "b"))
	if err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if frame != nil {
		t.Fatalf("expected no frame without an end-of-group marker, got %+v", frame)
	}
}

func TestReassemblerOnFrameCallbacks(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	var assembled, partial int
	r := NewReassembler(Config{
		GapTimeout: 100 * time.Millisecond,
		Clock:      mc,
		OnFrameAssembled: func(wire.Namespace, uint64, Frame) {
			assembled++
		},
		OnFramePartial: func(wire.Namespace, uint64, string) {
			partial++
		},
	})
	tr := videoTrack()

	r.Push(normal(tr, 0, 0, "a"))
	if _, err := r.Push(endOfGroup(tr, 0, 1)); err != nil {
		t.Fatalf("push end-of-group: %v", err)
	}
	if assembled != 1 {
		t.Fatalf("assembled callbacks = %d, want 1", assembled)
	}

	r.Push(normal(tr, 1, 0, "b"))
	mc.Advance(150 * time.Millisecond)
	r.ExpireGaps(mc.Now())
	if partial != 1 {
		t.Fatalf("partial callbacks = %d, want 1", partial)
	}
}
