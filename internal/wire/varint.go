// Package wire implements the deterministic binary codec for every message
// the MoQT core carries: the QUIC varint, length-prefixed byte strings,
// track-namespace encoding, control-message framing, and object framing for
// both the stream and datagram carriers. It performs no I/O; every function
// here is a pure transform over byte slices, mirroring the separation the
// teacher keeps between internal/moq (codec) and internal/distribution
// (session/transport logic).
package wire

import (
	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/moqtcore/internal/errs"
)

// MaxVarInt is the largest value the QUIC variable-length integer encoding
// can represent (2^62 - 1). Values above this are invalid.
const MaxVarInt = quicvarint.Max

// AppendVarint appends the QUIC varint encoding of v to buf. It returns
// InvalidData if v is outside the representable range instead of panicking,
// since quicvarint.Append itself assumes a pre-validated value.
func AppendVarint(buf []byte, v uint64) ([]byte, error) {
	if v > MaxVarInt {
		return buf, &errs.InvalidData{Reason: "varint value exceeds 2^62-1"}
	}
	return quicvarint.Append(buf, v), nil
}

// MustAppendVarint behaves like AppendVarint but panics on an out-of-range
// value. Use only where v is a compile-time constant or otherwise already
// validated (e.g. a length computed from a slice we hold).
func MustAppendVarint(buf []byte, v uint64) []byte {
	out, err := AppendVarint(buf, v)
	if err != nil {
		panic(err)
	}
	return out
}

// VarintSize returns the number of bytes AppendVarint would write for v:
// one of {1, 2, 4, 8}.
func VarintSize(v uint64) (int, error) {
	if v > MaxVarInt {
		return 0, &errs.InvalidData{Reason: "varint value exceeds 2^62-1"}
	}
	return quicvarint.Len(v), nil
}

// ReadVarint decodes a QUIC varint from the front of data, returning the
// value and the number of bytes consumed. A truncated prefix yields
// InvalidData rather than panicking.
func ReadVarint(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, &errs.InvalidData{Reason: "varint: empty input"}
	}
	v, n, err := quicvarint.Parse(data)
	if err != nil {
		return 0, 0, &errs.InvalidData{Reason: "varint: truncated"}
	}
	return v, n, nil
}
