package wire

import (
	"encoding/binary"
	"io"

	"github.com/zsiec/moqtcore/internal/errs"
)

// Control message type codes.
const (
	MsgSubscribe    uint64 = 0x03
	MsgSubscribeOk  uint64 = 0x04
	MsgAnnounce     uint64 = 0x06
	MsgAnnounceOk   uint64 = 0x07
	MsgUnsubscribe  uint64 = 0x0A
	MsgGoAway       uint64 = 0x10
	MsgClientSetup  uint64 = 0x20
	MsgServerSetup  uint64 = 0x21
	MsgAnnounceErr  uint64 = 0x08
	MsgSubscribeErr uint64 = 0x05
	MsgSetupErr     uint64 = 0x22
)

// ReadControlMsg reads one framed control message from r: a varint message
// type, a 2-byte big-endian length, then exactly that many payload bytes.
// r must support io.ByteReader for the varint read; callers typically pass
// a *bufio.Reader wrapping the control stream.
func ReadControlMsg(r interface {
	io.Reader
	io.ByteReader
}) (uint64, []byte, error) {
	msgType, err := readStreamVarint(r)
	if err != nil {
		return 0, nil, &errs.InvalidData{Reason: "control message type: " + err.Error()}
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, &errs.InvalidData{Reason: "control message length: truncated"}
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, &errs.InvalidData{Reason: "control message payload: truncated"}
		}
	}
	return msgType, payload, nil
}

// WriteControlMsg frames msgType and payload and writes them to w as a
// single Write call, so a concurrent-safe writer sees the message atomically.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	buf, err := AppendVarint(nil, msgType)
	if err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return err
}

// readStreamVarint reads a varint one byte at a time from an io.ByteReader,
// since the QUIC varint prefix length isn't known until the first byte.
func readStreamVarint(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (first >> 6)
	buf := make([]byte, length)
	buf[0] = first
	for i := 1; i < length; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	v, _, err := ReadVarint(buf)
	return v, err
}

// ---- Message bodies ----

// ClientSetup is the first message sent by the connecting peer.
type ClientSetup struct {
	Version       uint32
	MaxTracks     uint32
	MaxObjectSize uint64
}

// ServerSetup answers a ClientSetup.
type ServerSetup struct {
	Version       uint32
	MaxTracks     uint32
	MaxObjectSize uint64
}

// SetupError rejects a ClientSetup.
type SetupError struct {
	Code   uint64
	Reason string
}

// Announce advertises a track to the peer.
type Announce struct {
	Track Namespace
}

// AnnounceOk confirms an Announce.
type AnnounceOk struct {
	Track Namespace
}

// AnnounceError rejects an Announce.
type AnnounceError struct {
	Track  Namespace
	Code   uint64
	Reason string
}

// Subscribe requests delivery of a track.
type Subscribe struct {
	RequestID  uint64
	Track      Namespace
	Priority   byte
	HasStart   bool
	StartGroup uint64
	HasEnd     bool
	EndGroup   uint64
}

// SubscribeOk confirms a Subscribe. TrackAlias is the short identifier the
// publisher assigns this track for the lifetime of the session; subsequent
// stream and datagram objects reference the track by alias rather than by
// its full namespace.
type SubscribeOk struct {
	RequestID  uint64
	Track      Namespace
	TrackAlias uint64
}

// SubscribeError rejects a Subscribe.
type SubscribeError struct {
	RequestID uint64
	Code      uint64
	Reason    string
}

// Unsubscribe cancels a subscription.
type Unsubscribe struct {
	RequestID uint64
	Track     Namespace
}

// GoAway signals session termination, local or peer-initiated.
type GoAway struct {
	Code   uint64
	Reason string
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// EncodeClientSetup serializes a ClientSetup body.
func EncodeClientSetup(m ClientSetup) []byte {
	var buf []byte
	buf = MustAppendVarint(buf, uint64(m.Version))
	buf = MustAppendVarint(buf, uint64(m.MaxTracks))
	buf = MustAppendVarint(buf, m.MaxObjectSize)
	return buf
}

// DecodeClientSetup parses a ClientSetup body.
func DecodeClientSetup(data []byte) (ClientSetup, error) {
	r := newReader(data)
	var m ClientSetup
	v, err := r.varint()
	if err != nil {
		return m, err
	}
	m.Version = uint32(v)
	v, err = r.varint()
	if err != nil {
		return m, err
	}
	m.MaxTracks = uint32(v)
	m.MaxObjectSize, err = r.varint()
	return m, err
}

// EncodeServerSetup serializes a ServerSetup body.
func EncodeServerSetup(m ServerSetup) []byte {
	var buf []byte
	buf = MustAppendVarint(buf, uint64(m.Version))
	buf = MustAppendVarint(buf, uint64(m.MaxTracks))
	buf = MustAppendVarint(buf, m.MaxObjectSize)
	return buf
}

// DecodeServerSetup parses a ServerSetup body.
func DecodeServerSetup(data []byte) (ServerSetup, error) {
	r := newReader(data)
	var m ServerSetup
	v, err := r.varint()
	if err != nil {
		return m, err
	}
	m.Version = uint32(v)
	v, err = r.varint()
	if err != nil {
		return m, err
	}
	m.MaxTracks = uint32(v)
	m.MaxObjectSize, err = r.varint()
	return m, err
}

// EncodeSetupError serializes a SetupError body.
func EncodeSetupError(m SetupError) []byte {
	var buf []byte
	buf = MustAppendVarint(buf, m.Code)
	buf = AppendBytes(buf, []byte(m.Reason))
	return buf
}

// DecodeSetupError parses a SetupError body.
func DecodeSetupError(data []byte) (SetupError, error) {
	r := newReader(data)
	var m SetupError
	var err error
	m.Code, err = r.varint()
	if err != nil {
		return m, err
	}
	reason, err := r.byteString()
	if err != nil {
		return m, err
	}
	m.Reason = string(reason)
	return m, nil
}

// EncodeAnnounce serializes an Announce body.
func EncodeAnnounce(m Announce) []byte {
	return AppendNamespace(nil, m.Track)
}

// DecodeAnnounce parses an Announce body.
func DecodeAnnounce(data []byte) (Announce, error) {
	r := newReader(data)
	ns, err := r.namespace()
	return Announce{Track: ns}, err
}

// EncodeAnnounceOk serializes an AnnounceOk body.
func EncodeAnnounceOk(m AnnounceOk) []byte {
	return AppendNamespace(nil, m.Track)
}

// DecodeAnnounceOk parses an AnnounceOk body.
func DecodeAnnounceOk(data []byte) (AnnounceOk, error) {
	r := newReader(data)
	ns, err := r.namespace()
	return AnnounceOk{Track: ns}, err
}

// EncodeAnnounceError serializes an AnnounceError body.
func EncodeAnnounceError(m AnnounceError) []byte {
	buf := AppendNamespace(nil, m.Track)
	buf = MustAppendVarint(buf, m.Code)
	buf = AppendBytes(buf, []byte(m.Reason))
	return buf
}

// DecodeAnnounceError parses an AnnounceError body.
func DecodeAnnounceError(data []byte) (AnnounceError, error) {
	r := newReader(data)
	var m AnnounceError
	var err error
	m.Track, err = r.namespace()
	if err != nil {
		return m, err
	}
	m.Code, err = r.varint()
	if err != nil {
		return m, err
	}
	reason, err := r.byteString()
	if err != nil {
		return m, err
	}
	m.Reason = string(reason)
	return m, nil
}

// EncodeSubscribe serializes a Subscribe body.
func EncodeSubscribe(m Subscribe) []byte {
	buf := MustAppendVarint(nil, m.RequestID)
	buf = AppendNamespace(buf, m.Track)
	buf = append(buf, m.Priority)
	buf = appendBool(buf, m.HasStart)
	if m.HasStart {
		buf = MustAppendVarint(buf, m.StartGroup)
	}
	buf = appendBool(buf, m.HasEnd)
	if m.HasEnd {
		buf = MustAppendVarint(buf, m.EndGroup)
	}
	return buf
}

// DecodeSubscribe parses a Subscribe body.
func DecodeSubscribe(data []byte) (Subscribe, error) {
	r := newReader(data)
	var m Subscribe
	var err error
	m.RequestID, err = r.varint()
	if err != nil {
		return m, err
	}
	m.Track, err = r.namespace()
	if err != nil {
		return m, err
	}
	m.Priority, err = r.byte()
	if err != nil {
		return m, err
	}
	hasStart, err := r.byte()
	if err != nil {
		return m, err
	}
	m.HasStart = hasStart != 0
	if m.HasStart {
		m.StartGroup, err = r.varint()
		if err != nil {
			return m, err
		}
	}
	hasEnd, err := r.byte()
	if err != nil {
		return m, err
	}
	m.HasEnd = hasEnd != 0
	if m.HasEnd {
		m.EndGroup, err = r.varint()
		if err != nil {
			return m, err
		}
	}
	return m, nil
}

// EncodeSubscribeOk serializes a SubscribeOk body.
func EncodeSubscribeOk(m SubscribeOk) []byte {
	buf := MustAppendVarint(nil, m.RequestID)
	buf = AppendNamespace(buf, m.Track)
	buf = MustAppendVarint(buf, m.TrackAlias)
	return buf
}

// DecodeSubscribeOk parses a SubscribeOk body.
func DecodeSubscribeOk(data []byte) (SubscribeOk, error) {
	r := newReader(data)
	var m SubscribeOk
	var err error
	m.RequestID, err = r.varint()
	if err != nil {
		return m, err
	}
	m.Track, err = r.namespace()
	if err != nil {
		return m, err
	}
	m.TrackAlias, err = r.varint()
	return m, err
}

// EncodeSubscribeError serializes a SubscribeError body.
func EncodeSubscribeError(m SubscribeError) []byte {
	buf := MustAppendVarint(nil, m.RequestID)
	buf = MustAppendVarint(buf, m.Code)
	buf = AppendBytes(buf, []byte(m.Reason))
	return buf
}

// DecodeSubscribeError parses a SubscribeError body.
func DecodeSubscribeError(data []byte) (SubscribeError, error) {
	r := newReader(data)
	var m SubscribeError
	var err error
	m.RequestID, err = r.varint()
	if err != nil {
		return m, err
	}
	m.Code, err = r.varint()
	if err != nil {
		return m, err
	}
	reason, err := r.byteString()
	if err != nil {
		return m, err
	}
	m.Reason = string(reason)
	return m, nil
}

// EncodeUnsubscribe serializes an Unsubscribe body.
func EncodeUnsubscribe(m Unsubscribe) []byte {
	buf := MustAppendVarint(nil, m.RequestID)
	buf = AppendNamespace(buf, m.Track)
	return buf
}

// DecodeUnsubscribe parses an Unsubscribe body.
func DecodeUnsubscribe(data []byte) (Unsubscribe, error) {
	r := newReader(data)
	var m Unsubscribe
	var err error
	m.RequestID, err = r.varint()
	if err != nil {
		return m, err
	}
	m.Track, err = r.namespace()
	return m, err
}

// EncodeGoAway serializes a GoAway body.
func EncodeGoAway(m GoAway) []byte {
	buf := MustAppendVarint(nil, m.Code)
	buf = AppendBytes(buf, []byte(m.Reason))
	return buf
}

// DecodeGoAway parses a GoAway body.
func DecodeGoAway(data []byte) (GoAway, error) {
	r := newReader(data)
	var m GoAway
	var err error
	m.Code, err = r.varint()
	if err != nil {
		return m, err
	}
	reason, err := r.byteString()
	if err != nil {
		return m, err
	}
	m.Reason = string(reason)
	return m, nil
}
