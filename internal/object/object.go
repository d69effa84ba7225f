// Package object defines the MoQ object and track data model:
// the immutable delivery unit, the track/capability types exchanged during
// session setup, and the typed constructors that wrap media or control
// markers into a MoqObject with consistent metadata.
package object

import (
	"time"

	"github.com/zsiec/moqtcore/internal/clock"
	"github.com/zsiec/moqtcore/internal/wire"
)

// Status re-exports the wire status enum: the object model and the codec
// share one closure vocabulary, Normal/EndOfGroup/EndOfTrack.
type Status = wire.Status

const (
	StatusNormal     = wire.StatusNormal
	StatusEndOfGroup = wire.StatusEndOfGroup
	StatusEndOfTrack = wire.StatusEndOfTrack
)

// Kind is the media type a track carries.
type Kind int

// Track kinds.
const (
	KindAudio Kind = iota
	KindVideo
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Track is a MoqTrack: a namespace/name pair with its media kind,
// announced by a publisher and remembered by both peers for the session's
// lifetime.
type Track struct {
	Namespace wire.Namespace
	Kind      Kind
}

// Capabilities is exchanged at setup; EffectiveCapabilities computes the
// min(local, peer) the session actually operates under.
type Capabilities struct {
	Version         uint32
	MaxTracks       uint32
	SupportedKinds  map[Kind]bool
	MaxObjectSize   uint64
	SupportsCaching bool
}

// SupportsKind reports whether k is in the SupportedKinds set. A nil or
// empty set is treated as "supports nothing", matching a peer that never
// declared any kind.
func (c Capabilities) SupportsKind(k Kind) bool {
	return c.SupportedKinds[k]
}

// EffectiveCapabilities returns the intersection of local and peer
// capabilities: the minimum of each numeric limit, the intersection of
// supported kinds, and caching support only if both sides offer it.
func EffectiveCapabilities(local, peer Capabilities) Capabilities {
	eff := Capabilities{
		Version:         minU32(local.Version, peer.Version),
		MaxTracks:       minU32(local.MaxTracks, peer.MaxTracks),
		MaxObjectSize:   minU64(local.MaxObjectSize, peer.MaxObjectSize),
		SupportsCaching: local.SupportsCaching && peer.SupportsCaching,
		SupportedKinds:  make(map[Kind]bool),
	}
	for k := range local.SupportedKinds {
		if peer.SupportedKinds[k] {
			eff.SupportedKinds[k] = true
		}
	}
	return eff
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// MoqObject is the immutable unit of media delivery. (GroupID,
// ObjectID) is unique within a track for the session's lifetime.
type MoqObject struct {
	Track             wire.Namespace
	GroupID           uint64
	ObjectID          uint64
	PublisherPriority byte
	Payload           []byte
	Status            Status
	CreatedAt         time.Time
	Size              int
}

// IsControlObject reports whether the object's status closes a group or
// track rather than carrying media.
func (o MoqObject) IsControlObject() bool {
	return o.Status == StatusEndOfGroup || o.Status == StatusEndOfTrack
}

// Age returns now minus the object's creation instant.
func (o MoqObject) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// DeliveryPriority computes the effective numeric priority used by the
// delivery queue: EndOfTrack=0, EndOfGroup=1, Normal=PublisherPriority.
// Lower numeric value sorts first (higher urgency).
func (o MoqObject) DeliveryPriority() byte {
	switch o.Status {
	case StatusEndOfTrack:
		return 0
	case StatusEndOfGroup:
		return 1
	default:
		return o.PublisherPriority
	}
}

// videoGroupWindowUS is the time-derived group bucket width for video:
// group_id = timestamp_us / 1000, i.e. one group per millisecond boundary.
const videoGroupWindowUS = 1000

// audioGroupWindowUS is the coarser group bucket width for audio: one
// group per 20ms boundary.
const audioGroupWindowUS = 20000

// NewVideoObject wraps a video frame's codec bytes as a MoqObject. Priority
// is 1 for a keyframe, 2 otherwise.
func NewVideoObject(clk clock.Clock, track wire.Namespace, timestampUS int64, frameSeq uint64, isKeyframe bool, payload []byte) MoqObject {
	priority := byte(2)
	if isKeyframe {
		priority = 1
	}
	return MoqObject{
		Track:             track,
		GroupID:           uint64(timestampUS) / videoGroupWindowUS,
		ObjectID:          frameSeq,
		PublisherPriority: priority,
		Payload:           payload,
		Status:            StatusNormal,
		CreatedAt:         clk.Now(),
		Size:              len(payload),
	}
}

// NewAudioObject wraps an audio frame's sample bytes as a MoqObject.
// Priority is always 1.
func NewAudioObject(clk clock.Clock, track wire.Namespace, timestampUS int64, frameSeq uint64, payload []byte) MoqObject {
	return MoqObject{
		Track:             track,
		GroupID:           uint64(timestampUS) / audioGroupWindowUS,
		ObjectID:          frameSeq,
		PublisherPriority: 1,
		Payload:           payload,
		Status:            StatusNormal,
		CreatedAt:         clk.Now(),
		Size:              len(payload),
	}
}

// NewEndOfGroup builds an EndOfGroup marker object, which may carry an
// empty payload and closes the (track, group).
func NewEndOfGroup(clk clock.Clock, track wire.Namespace, groupID, objectID uint64) MoqObject {
	return MoqObject{
		Track:     track,
		GroupID:   groupID,
		ObjectID:  objectID,
		Status:    StatusEndOfGroup,
		CreatedAt: clk.Now(),
	}
}

// NewEndOfTrack builds an EndOfTrack marker object, which closes the track
// for the remainder of the session.
func NewEndOfTrack(clk clock.Clock, track wire.Namespace, groupID, objectID uint64) MoqObject {
	return MoqObject{
		Track:     track,
		GroupID:   groupID,
		ObjectID:  objectID,
		Status:    StatusEndOfTrack,
		CreatedAt: clk.Now(),
	}
}
