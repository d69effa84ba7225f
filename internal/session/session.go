// Package session implements the MoQ session state machine: the setup
// handshake that negotiates effective capabilities, and the
// announce/subscribe/unsubscribe control flows that follow it. It owns the
// single control stream for a connection; the data streams and object
// delivery it authorizes are driven by other packages.
package session

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/object"
	"github.com/zsiec/moqtcore/internal/transport"
	"github.com/zsiec/moqtcore/internal/wire"
)

// State is a session's lifecycle stage.
type State int32

const (
	StateEstablishing State = iota
	StateActive
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateEstablishing:
		return "establishing"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SubscribeRequest is handed to Config.OnSubscribe when a peer subscribes
// to a track this session publishes.
type SubscribeRequest struct {
	RequestID  uint64
	Track      wire.Namespace
	Priority   byte
	HasStart   bool
	StartGroup uint64
	HasEnd     bool
	EndGroup   uint64
}

// Config holds the dependencies and hooks a Session needs. Hooks left nil
// get a default that rejects the corresponding request, matching a session
// that publishes or subscribes to nothing.
type Config struct {
	// Transport is the underlying connection this session's control stream
	// and data streams ride on.
	Transport transport.Session
	// Control is the control stream: already accepted (server side) or
	// already opened (client side) by the caller.
	Control transport.Stream
	// IsClient selects which side of the setup handshake this session
	// performs: the client sends CLIENT_SETUP first, the server waits for
	// it and replies with SERVER_SETUP.
	IsClient bool
	// Local is this side's advertised capabilities.
	Local object.Capabilities
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger

	// OnAnnounce is called when the peer announces a track this session
	// should accept as a subscriber. Returning an error sends
	// ANNOUNCE_ERROR with code 403 and the error's text as the reason.
	OnAnnounce func(track wire.Namespace) error
	// OnSubscribe is called when the peer subscribes to a track this
	// session publishes. It returns the track alias to use on the data
	// plane, or an error to send SUBSCRIBE_ERROR.
	OnSubscribe func(req SubscribeRequest) (trackAlias uint64, err error)
	// OnUnsubscribe is called when the peer unsubscribes from a track by
	// request ID.
	OnUnsubscribe func(requestID uint64)
}

type announceResult struct {
	ok     bool
	code   uint64
	reason string
}

type subscribeResult struct {
	ok         bool
	trackAlias uint64
	code       uint64
	reason     string
}

// Session is one MoQ control-plane connection between two peers.
type Session struct {
	cfg           Config
	log           *slog.Logger
	controlReader *bufio.Reader
	controlMu     sync.Mutex

	state atomic.Int32

	peerCaps atomic.Pointer[object.Capabilities]
	effCaps  atomic.Pointer[object.Capabilities]

	nextRequestID atomic.Uint64

	mu               sync.Mutex
	pendingAnnounce  map[wire.NamespaceKey]chan announceResult
	pendingSubscribe map[uint64]chan subscribeResult
}

// New constructs a Session. The setup handshake has not run yet; call Run
// to perform it and start the control loop.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:              cfg,
		log:              log.With("component", "session"),
		controlReader:    bufio.NewReader(cfg.Control),
		pendingAnnounce:  make(map[wire.NamespaceKey]chan announceResult),
		pendingSubscribe: make(map[uint64]chan subscribeResult),
	}
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// EffectiveCapabilities returns min(local, peer) as computed during setup.
// Valid only once State() is at least StateActive.
func (s *Session) EffectiveCapabilities() object.Capabilities {
	if p := s.effCaps.Load(); p != nil {
		return *p
	}
	return object.Capabilities{}
}

// Run performs the setup handshake, then services control messages until
// ctx is cancelled, the peer sends GOAWAY, or the control stream errors.
// Once setup has succeeded it attempts to send GOAWAY on the way out; a
// failed setup returns without sending one.
func (s *Session) Run(ctx context.Context) error {
	if err := s.performSetup(); err != nil {
		s.setState(StateTerminated)
		return err
	}
	s.setState(StateActive)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() { loopErr <- s.readControlLoop(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-loopErr:
	}

	s.setState(StateTerminating)
	s.controlMu.Lock()
	_ = wire.WriteControlMsg(s.cfg.Control, wire.MsgGoAway, wire.EncodeGoAway(wire.GoAway{}))
	s.controlMu.Unlock()
	s.setState(StateTerminated)
	return err
}

func (s *Session) performSetup() error {
	if s.cfg.IsClient {
		return s.performClientSetup()
	}
	return s.performServerSetup()
}

func (s *Session) performServerSetup() error {
	msgType, payload, err := wire.ReadControlMsg(s.controlReader)
	if err != nil {
		return fmt.Errorf("read client setup: %w", err)
	}
	if msgType != wire.MsgClientSetup {
		return &errs.ProtocolError{Msg: fmt.Sprintf("expected CLIENT_SETUP, got %#x", msgType)}
	}
	cs, err := wire.DecodeClientSetup(payload)
	if err != nil {
		return fmt.Errorf("decode client setup: %w", err)
	}
	peer := object.Capabilities{Version: cs.Version, MaxTracks: cs.MaxTracks, MaxObjectSize: cs.MaxObjectSize}
	s.peerCaps.Store(&peer)
	eff := object.EffectiveCapabilities(s.cfg.Local, peer)
	s.effCaps.Store(&eff)

	ss := wire.ServerSetup{Version: eff.Version, MaxTracks: eff.MaxTracks, MaxObjectSize: eff.MaxObjectSize}
	return wire.WriteControlMsg(s.cfg.Control, wire.MsgServerSetup, wire.EncodeServerSetup(ss))
}

func (s *Session) performClientSetup() error {
	cs := wire.ClientSetup{Version: s.cfg.Local.Version, MaxTracks: s.cfg.Local.MaxTracks, MaxObjectSize: s.cfg.Local.MaxObjectSize}
	if err := wire.WriteControlMsg(s.cfg.Control, wire.MsgClientSetup, wire.EncodeClientSetup(cs)); err != nil {
		return fmt.Errorf("write client setup: %w", err)
	}

	msgType, payload, err := wire.ReadControlMsg(s.controlReader)
	if err != nil {
		return fmt.Errorf("read server setup: %w", err)
	}
	if msgType != wire.MsgServerSetup {
		return &errs.ProtocolError{Msg: fmt.Sprintf("expected SERVER_SETUP, got %#x", msgType)}
	}
	ss, err := wire.DecodeServerSetup(payload)
	if err != nil {
		return fmt.Errorf("decode server setup: %w", err)
	}
	peer := object.Capabilities{Version: ss.Version, MaxTracks: ss.MaxTracks, MaxObjectSize: ss.MaxObjectSize}
	s.peerCaps.Store(&peer)
	eff := object.EffectiveCapabilities(s.cfg.Local, peer)
	s.effCaps.Store(&eff)
	return nil
}

func (s *Session) readControlLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgType, payload, err := wire.ReadControlMsg(s.controlReader)
		if err != nil {
			return err
		}

		switch msgType {
		case wire.MsgAnnounce:
			s.handleAnnounce(payload)
		case wire.MsgAnnounceOk:
			s.resolveAnnounceOk(payload)
		case wire.MsgAnnounceErr:
			s.resolveAnnounceErr(payload)
		case wire.MsgSubscribe:
			s.handleSubscribe(payload)
		case wire.MsgSubscribeOk:
			s.resolveSubscribeOk(payload)
		case wire.MsgSubscribeErr:
			s.resolveSubscribeErr(payload)
		case wire.MsgUnsubscribe:
			s.handleUnsubscribe(payload)
		case wire.MsgGoAway:
			return nil
		default:
			s.log.Debug("unhandled control message", "type", msgType)
		}
	}
}

func (s *Session) writeControl(msgType uint64, payload []byte) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	return wire.WriteControlMsg(s.cfg.Control, msgType, payload)
}
