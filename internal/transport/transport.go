// Package transport defines the capability interfaces the core depends on
// to move bytes: a bidirectional control stream, unidirectional data
// streams opened on demand, and best-effort datagrams. A concrete transport
// (QUIC, WebTransport) satisfies these interfaces from outside this module;
// FakeSession, also in this package, is an in-memory implementation used by every
// other package's tests.
package transport

import (
	"context"
	"io"
)

// SessionErrorCode is sent to the peer when a session is closed abnormally,
// mirroring the WebTransport session-close error code space.
type SessionErrorCode uint64

// SendStream is a unidirectional (or the write half of a bidirectional)
// stream the session can write frames to.
type SendStream interface {
	io.Writer
	io.Closer
	StreamID() uint64
}

// ReceiveStream is a unidirectional (or the read half of a bidirectional)
// stream the session can read frames from.
type ReceiveStream interface {
	io.Reader
	StreamID() uint64
}

// Stream is a bidirectional stream, used for the single control stream a
// session opens at setup time.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	StreamID() uint64
}

// Session is one peer connection. A session carries exactly one control
// stream plus any number of unidirectional data streams and datagrams.
type Session interface {
	// AcceptStream blocks until the peer opens a bidirectional stream, or
	// ctx is cancelled. The core uses this exactly once, for the control
	// stream.
	AcceptStream(ctx context.Context) (Stream, error)

	// OpenStreamSync blocks until a bidirectional stream can be opened.
	OpenStreamSync(ctx context.Context) (Stream, error)

	// OpenUniStreamSync blocks until a unidirectional send stream can be
	// opened, respecting any peer-advertised stream-count limit.
	OpenUniStreamSync(ctx context.Context) (SendStream, error)

	// AcceptUniStream blocks until the peer opens a unidirectional stream
	// addressed to us, or ctx is cancelled.
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)

	// SendDatagram sends an unreliable, unordered datagram. It may fail
	// silently at the transport layer; callers should not rely on delivery.
	SendDatagram(data []byte) error

	// ReceiveDatagram blocks until a datagram arrives, or ctx is cancelled.
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	// CloseWithError terminates the session, delivering code and reason to
	// the peer on a best-effort basis.
	CloseWithError(code SessionErrorCode, reason string) error

	// Context is cancelled when the session closes, for any reason.
	Context() context.Context
}
