// Package errs defines the canonical error kinds raised by the MoQT core
// engine. Each kind is a small struct implementing error so callers can
// distinguish failure modes with errors.As. The wire codec reports
// field-level decode failures as InvalidData.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Initialization indicates the engine or one of its components was used
// before it finished constructing required state.
type Initialization struct {
	Reason string
}

func (e *Initialization) Error() string { return fmt.Sprintf("initialization: %s", e.Reason) }

// MissingConfiguration indicates a required configuration field was left
// at its zero value.
type MissingConfiguration struct {
	Field string
}

func (e *MissingConfiguration) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Field)
}

// Connection reports a failure to establish or maintain the underlying
// transport connection for a room/session.
type Connection struct {
	RoomID          string
	Reason          string
	RetryIn         time.Duration
	HasRetryIn      bool
	SuggestedAction string
}

func (e *Connection) Error() string {
	return fmt.Sprintf("connection %s: %s", e.RoomID, e.Reason)
}

// Transport wraps a failure surfaced by the abstract transport collaborator.
type Transport struct {
	Reason string
	Err    error
}

func (e *Transport) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport: %s", e.Reason)
}

func (e *Transport) Unwrap() error { return e.Err }

// MoqProtocol reports a non-fatal wire-level protocol violation: the
// offending message is dropped and this error is surfaced as a single
// event without poisoning session state.
type MoqProtocol struct {
	Reason string
}

func (e *MoqProtocol) Error() string { return fmt.Sprintf("moq protocol: %s", e.Reason) }

// ProtocolError is a fatal session-setup failure.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Msg) }

// SessionSetupFailed reports a SetupError received from the peer.
type SessionSetupFailed struct {
	Code   uint64
	Reason string
}

func (e *SessionSetupFailed) Error() string {
	return fmt.Sprintf("session setup failed: code=%d reason=%s", e.Code, e.Reason)
}

// UnsupportedVersion reports a ClientSetup/ServerSetup version with no
// overlap between local and peer capabilities.
type UnsupportedVersion struct {
	Version uint32
}

func (e *UnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported version: %d", e.Version)
}

// UnsupportedTrackType reports an announce for a track kind the peer
// did not advertise in its capabilities.
type UnsupportedTrackType struct {
	Kind string
}

func (e *UnsupportedTrackType) Error() string {
	return fmt.Sprintf("unsupported track type: %s", e.Kind)
}

// TrackLimitExceeded reports that announcing another track would exceed
// the peer's advertised max_tracks capability.
type TrackLimitExceeded struct {
	Limit uint32
}

func (e *TrackLimitExceeded) Error() string {
	return fmt.Sprintf("track limit exceeded: %d", e.Limit)
}

// TrackAnnounceFailed reports an AnnounceError received from the peer.
type TrackAnnounceFailed struct {
	Namespace string
	Code      uint64
	Reason    string
}

func (e *TrackAnnounceFailed) Error() string {
	return fmt.Sprintf("track announce failed for %s: code=%d reason=%s", e.Namespace, e.Code, e.Reason)
}

// SubscriptionFailed reports a SubscribeError received from the peer.
type SubscriptionFailed struct {
	Namespace string
	Code      uint64
	Reason    string
}

func (e *SubscriptionFailed) Error() string {
	return fmt.Sprintf("subscription failed for %s: code=%d reason=%s", e.Namespace, e.Code, e.Reason)
}

// CacheFull reports that an object does not fit the cache's global byte
// capacity even after oldest-first eviction. Eviction is always on; the
// cache has no mode that refuses inserts instead of evicting.
type CacheFull struct {
	Current int64
	Max     int64
}

func (e *CacheFull) Error() string {
	return fmt.Sprintf("cache full: %d/%d bytes", e.Current, e.Max)
}

// TrackCacheFull reports that a single track's object count is still at
// capacity after oldest-first eviction. Eviction is always on; the cache
// has no mode that refuses inserts instead of evicting.
type TrackCacheFull struct {
	Track   string
	Current int
	Max     int
}

func (e *TrackCacheFull) Error() string {
	return fmt.Sprintf("track cache full for %s: %d/%d objects", e.Track, e.Current, e.Max)
}

// TrackNotFound reports a reference to a namespace not present in the
// relevant registry (announced tracks, subscriptions, cache).
type TrackNotFound struct {
	Namespace string
}

func (e *TrackNotFound) Error() string { return fmt.Sprintf("track not found: %s", e.Namespace) }

// StreamNotFound reports an operation against a stream id the manager
// does not recognize.
type StreamNotFound struct {
	ID uint64
}

func (e *StreamNotFound) Error() string { return fmt.Sprintf("stream not found: %d", e.ID) }

// NoDataAvailable reports that a read or fetch found nothing to return.
var NoDataAvailable = errors.New("no data available")

// InvalidOperation reports an operation that is never valid for the
// target's kind, e.g. sending an object on a control stream.
type InvalidOperation struct {
	Op string
}

func (e *InvalidOperation) Error() string { return fmt.Sprintf("invalid operation: %s", e.Op) }

// InvalidState reports a state-machine transition attempted from the
// wrong state.
type InvalidState struct {
	Expected string
	Actual   string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("invalid state: expected %s, got %s", e.Expected, e.Actual)
}

// InvalidData reports malformed wire data that fails to decode.
type InvalidData struct {
	Reason string
}

func (e *InvalidData) Error() string { return fmt.Sprintf("invalid data: %s", e.Reason) }

// InvalidMediaType reports a media-kind mismatch, e.g. an audio frame fed
// to a video-only constructor path.
type InvalidMediaType struct {
	Expected string
	Actual   string
}

func (e *InvalidMediaType) Error() string {
	return fmt.Sprintf("invalid media type: expected %s, got %s", e.Expected, e.Actual)
}

// ResourceExhausted reports that a bounded resource (stream permits,
// buffer slots) has no capacity left for a new allocation.
type ResourceExhausted struct {
	Resource string
}

func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("resource exhausted: %s", e.Resource)
}

// ResourceLimit reports that a resource-governed operation was refused
// pre-flight because usage is already at 100% of its configured limit.
type ResourceLimit struct {
	Resource string
}

func (e *ResourceLimit) Error() string { return fmt.Sprintf("resource limit reached: %s", e.Resource) }

// Timeout reports an I/O operation that exceeded its deadline.
type Timeout struct {
	Op       string
	Duration time.Duration
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("timeout: %s after %s", e.Op, e.Duration)
}

// EncodingFailed wraps a failure in the wire codec's encode path.
type EncodingFailed struct {
	Reason string
}

func (e *EncodingFailed) Error() string { return fmt.Sprintf("encoding failed: %s", e.Reason) }

// DecodingFailed wraps a failure in the wire codec's decode path.
type DecodingFailed struct {
	Reason string
}

func (e *DecodingFailed) Error() string { return fmt.Sprintf("decoding failed: %s", e.Reason) }
