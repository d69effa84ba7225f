package wire

import "github.com/zsiec/moqtcore/internal/errs"

// AppendBytes appends a varint-length-prefixed byte string to buf.
func AppendBytes(buf []byte, data []byte) []byte {
	buf = MustAppendVarint(buf, uint64(len(data)))
	return append(buf, data...)
}

// ReadBytes reads a varint-length-prefixed byte string from the front of
// data, returning the slice (aliasing data), the number of bytes consumed,
// and an error if the prefix or the string itself is truncated.
func ReadBytes(data []byte) ([]byte, int, error) {
	length, n, err := ReadVarint(data)
	if err != nil {
		return nil, 0, err
	}
	end := n + int(length)
	if end > len(data) || end < n {
		return nil, 0, &errs.InvalidData{Reason: "byte string: truncated payload"}
	}
	return data[n:end], end, nil
}

// reader sequentially consumes varints, bytes, and raw bytes from a fixed
// buffer, tracking position. It is the shared cursor used by every control
// message parser below.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) varint() (uint64, error) {
	v, n, err := ReadVarint(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) byteString() ([]byte, error) {
	b, n, err := ReadBytes(r.data[r.pos:])
	if err != nil {
		return nil, err
	}
	r.pos += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, &errs.InvalidData{Reason: "byte: truncated"}
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) raw(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, &errs.InvalidData{Reason: "raw: truncated"}
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) remaining() []byte {
	return r.data[r.pos:]
}
