package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// datagramBacklog bounds how many unclaimed datagrams a fake session holds
// before newer ones are dropped, matching the unreliable-delivery contract
// of SendDatagram.
const datagramBacklog = 64

// uniStreamBacklog bounds how many accepted-but-unclaimed unidirectional
// streams a fake session holds.
const uniStreamBacklog = 64

// FakeSession is an in-memory Session. NewFakeSessionPair returns two
// FakeSessions wired to each other, standing in for the two ends of a real
// transport connection in tests.
type FakeSession struct {
	name string

	ctx    context.Context
	cancel context.CancelCauseFunc

	peer *FakeSession

	controlCh chan Stream
	uniCh     chan ReceiveStream
	datagram  chan []byte

	nextStreamID atomic.Uint64

	mu         sync.Mutex
	closeCode  SessionErrorCode
	closeError string
}

// NewFakeSessionPair returns two connected FakeSessions. Streams and
// datagrams sent from one arrive to be accepted/received on the other.
func NewFakeSessionPair() (client, server *FakeSession) {
	client = newFakeSession("client")
	server = newFakeSession("server")
	client.peer = server
	server.peer = client
	return client, server
}

func newFakeSession(name string) *FakeSession {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &FakeSession{
		name:      name,
		ctx:       ctx,
		cancel:    cancel,
		controlCh: make(chan Stream, 1),
		uniCh:     make(chan ReceiveStream, uniStreamBacklog),
		datagram:  make(chan []byte, datagramBacklog),
	}
}

func (s *FakeSession) String() string { return s.name }

// AcceptStream implements Session.
func (s *FakeSession) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case st := <-s.controlCh:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, context.Cause(s.ctx)
	}
}

// OpenStreamSync implements Session: it hands the peer the other end of a
// freshly created bidirectional pipe.
func (s *FakeSession) OpenStreamSync(ctx context.Context) (Stream, error) {
	if s.peer == nil {
		return nil, fmt.Errorf("transport: session has no peer")
	}
	id := s.nextStreamID.Add(1)
	aToBr, aToBw := io.Pipe()
	bToAr, bToAw := io.Pipe()
	mine := &fakeBidiStream{id: id, r: bToAr, w: aToBw}
	theirs := &fakeBidiStream{id: id, r: aToBr, w: bToAw}

	select {
	case s.peer.controlCh <- theirs:
		return mine, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, context.Cause(s.ctx)
	}
}

// OpenUniStreamSync implements Session.
func (s *FakeSession) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	if s.peer == nil {
		return nil, fmt.Errorf("transport: session has no peer")
	}
	id := s.nextStreamID.Add(1)
	pr, pw := io.Pipe()
	send := &fakeSendStream{id: id, w: pw}
	recv := &fakeReceiveStream{id: id, r: pr}

	select {
	case s.peer.uniCh <- recv:
		return send, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, context.Cause(s.ctx)
	}
}

// AcceptUniStream implements Session.
func (s *FakeSession) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	select {
	case st := <-s.uniCh:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, context.Cause(s.ctx)
	}
}

// SendDatagram implements Session. Delivery is best-effort: if the peer's
// backlog is full, the datagram is silently dropped.
func (s *FakeSession) SendDatagram(data []byte) error {
	if s.peer == nil {
		return fmt.Errorf("transport: session has no peer")
	}
	cp := append([]byte(nil), data...)
	select {
	case s.peer.datagram <- cp:
	default:
	}
	return nil
}

// ReceiveDatagram implements Session.
func (s *FakeSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case d := <-s.datagram:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, context.Cause(s.ctx)
	}
}

// CloseWithError implements Session.
func (s *FakeSession) CloseWithError(code SessionErrorCode, reason string) error {
	s.mu.Lock()
	s.closeCode = code
	s.closeError = reason
	s.mu.Unlock()
	s.cancel(fmt.Errorf("transport: session closed: %d %s", code, reason))
	return nil
}

// Context implements Session.
func (s *FakeSession) Context() context.Context { return s.ctx }

// CloseInfo returns the code/reason passed to the most recent
// CloseWithError call, for tests asserting on clean shutdown.
func (s *FakeSession) CloseInfo() (SessionErrorCode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeError
}

type fakeSendStream struct {
	id uint64
	w  *io.PipeWriter
}

func (f *fakeSendStream) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeSendStream) Close() error                 { return f.w.Close() }
func (f *fakeSendStream) StreamID() uint64             { return f.id }

type fakeReceiveStream struct {
	id uint64
	r  *io.PipeReader
}

func (f *fakeReceiveStream) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fakeReceiveStream) StreamID() uint64            { return f.id }

type fakeBidiStream struct {
	id uint64
	r  *io.PipeReader
	w  *io.PipeWriter
}

func (f *fakeBidiStream) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeBidiStream) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeBidiStream) StreamID() uint64            { return f.id }

func (f *fakeBidiStream) Close() error {
	err := f.w.Close()
	if cerr := f.r.Close(); err == nil {
		err = cerr
	}
	return err
}
