package wire

import "github.com/zsiec/moqtcore/internal/errs"

// Status is the object-closure marker carried on the wire: Normal carries
// media payload, EndOfGroup and EndOfTrack carry closure semantics and may
// have an empty payload.
type Status byte

// Status byte values.
const (
	StatusNormal     Status = 0
	StatusEndOfGroup Status = 1
	StatusEndOfTrack Status = 2
)

// Valid reports whether s is one of the three recognized status values.
func (s Status) Valid() bool {
	return s == StatusNormal || s == StatusEndOfGroup || s == StatusEndOfTrack
}

// StreamObject is the per-object frame carried on a data stream (subgroup
// carrier): track_alias, group_id, subgroup_id, publisher_priority,
// object_id, payload_length, status, payload.
type StreamObject struct {
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	Priority   byte
	ObjectID   uint64
	Status     Status
	Payload    []byte
}

// EncodeStreamObject serializes o in the stream carrier's wire order.
func EncodeStreamObject(o StreamObject) ([]byte, error) {
	if !o.Status.Valid() {
		return nil, &errs.InvalidData{Reason: "stream object: invalid status byte"}
	}
	buf := MustAppendVarint(nil, o.TrackAlias)
	buf = MustAppendVarint(buf, o.GroupID)
	buf = MustAppendVarint(buf, o.SubgroupID)
	buf = append(buf, o.Priority)
	buf = MustAppendVarint(buf, o.ObjectID)
	buf = MustAppendVarint(buf, uint64(len(o.Payload)))
	buf = append(buf, byte(o.Status))
	buf = append(buf, o.Payload...)
	return buf, nil
}

// DecodeStreamObject parses one StreamObject frame from the front of data,
// returning the object and the number of bytes consumed so the caller can
// continue parsing subsequent objects on the same stream.
func DecodeStreamObject(data []byte) (StreamObject, int, error) {
	r := newReader(data)
	var o StreamObject
	var err error

	o.TrackAlias, err = r.varint()
	if err != nil {
		return o, 0, err
	}
	o.GroupID, err = r.varint()
	if err != nil {
		return o, 0, err
	}
	o.SubgroupID, err = r.varint()
	if err != nil {
		return o, 0, err
	}
	o.Priority, err = r.byte()
	if err != nil {
		return o, 0, err
	}
	o.ObjectID, err = r.varint()
	if err != nil {
		return o, 0, err
	}
	length, err := r.varint()
	if err != nil {
		return o, 0, err
	}
	statusByte, err := r.byte()
	if err != nil {
		return o, 0, err
	}
	o.Status = Status(statusByte)
	if !o.Status.Valid() {
		return o, 0, &errs.InvalidData{Reason: "stream object: invalid status byte"}
	}
	payload, err := r.raw(int(length))
	if err != nil {
		return o, 0, err
	}
	o.Payload = append([]byte(nil), payload...)
	return o, r.pos, nil
}

// DatagramObject is the per-object frame carried on an unreliable datagram:
// track_alias, group_id, object_id, publisher_priority, status, payload
// (the payload consumes the remainder of the datagram, no explicit length).
type DatagramObject struct {
	TrackAlias uint64
	GroupID    uint64
	ObjectID   uint64
	Priority   byte
	Status     Status
	Payload    []byte
}

// EncodeDatagramObject serializes o in the datagram carrier's wire order.
func EncodeDatagramObject(o DatagramObject) ([]byte, error) {
	if !o.Status.Valid() {
		return nil, &errs.InvalidData{Reason: "datagram object: invalid status byte"}
	}
	buf := MustAppendVarint(nil, o.TrackAlias)
	buf = MustAppendVarint(buf, o.GroupID)
	buf = MustAppendVarint(buf, o.ObjectID)
	buf = append(buf, o.Priority)
	buf = append(buf, byte(o.Status))
	buf = append(buf, o.Payload...)
	return buf, nil
}

// DecodeDatagramObject parses a complete datagram into a DatagramObject.
// The payload is whatever bytes remain after the fixed header fields.
func DecodeDatagramObject(data []byte) (DatagramObject, error) {
	r := newReader(data)
	var o DatagramObject
	var err error

	o.TrackAlias, err = r.varint()
	if err != nil {
		return o, err
	}
	o.GroupID, err = r.varint()
	if err != nil {
		return o, err
	}
	o.ObjectID, err = r.varint()
	if err != nil {
		return o, err
	}
	o.Priority, err = r.byte()
	if err != nil {
		return o, err
	}
	statusByte, err := r.byte()
	if err != nil {
		return o, err
	}
	o.Status = Status(statusByte)
	if !o.Status.Valid() {
		return o, &errs.InvalidData{Reason: "datagram object: invalid status byte"}
	}
	o.Payload = append([]byte(nil), r.remaining()...)
	return o, nil
}
