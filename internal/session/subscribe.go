package session

import (
	"context"
	"fmt"

	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/wire"
)

// subscribeErrCodeRejected is sent when OnSubscribe refuses a track, absent
// a more specific code.
const subscribeErrCodeRejected = 404

// SubscribeOptions bounds a subscription to a group range. Leaving HasStart
// and HasEnd false subscribes from the next group onward with no end.
type SubscribeOptions struct {
	Priority   byte
	HasStart   bool
	StartGroup uint64
	HasEnd     bool
	EndGroup   uint64
}

// SubscribeResult is returned by Subscribe once SUBSCRIBE_OK arrives.
type SubscribeResult struct {
	TrackAlias uint64
	// RequestID identifies the subscription for a later Unsubscribe.
	RequestID uint64
}

// Subscribe requests track from the peer and blocks until SUBSCRIBE_OK or
// SUBSCRIBE_ERROR arrives or ctx is cancelled.
func (s *Session) Subscribe(ctx context.Context, track wire.Namespace, opts SubscribeOptions) (SubscribeResult, error) {
	requestID := s.nextRequestID.Add(1)
	ch := make(chan subscribeResult, 1)

	s.mu.Lock()
	s.pendingSubscribe[requestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pendingSubscribe, requestID)
		s.mu.Unlock()
	}()

	msg := wire.Subscribe{
		RequestID:  requestID,
		Track:      track,
		Priority:   opts.Priority,
		HasStart:   opts.HasStart,
		StartGroup: opts.StartGroup,
		HasEnd:     opts.HasEnd,
		EndGroup:   opts.EndGroup,
	}
	if err := s.writeControl(wire.MsgSubscribe, wire.EncodeSubscribe(msg)); err != nil {
		return SubscribeResult{}, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case res := <-ch:
		if !res.ok {
			return SubscribeResult{}, &errs.SubscriptionFailed{Namespace: string(track.Namespace), Code: res.code, Reason: res.reason}
		}
		return SubscribeResult{TrackAlias: res.trackAlias, RequestID: requestID}, nil
	case <-ctx.Done():
		return SubscribeResult{}, ctx.Err()
	}
}

// Unsubscribe tells the peer to stop delivering track, identified by the
// request ID returned from the original Subscribe.
func (s *Session) Unsubscribe(requestID uint64, track wire.Namespace) error {
	msg := wire.Unsubscribe{RequestID: requestID, Track: track}
	return s.writeControl(wire.MsgUnsubscribe, wire.EncodeUnsubscribe(msg))
}

func (s *Session) handleSubscribe(payload []byte) {
	sub, err := wire.DecodeSubscribe(payload)
	if err != nil {
		s.log.Warn("bad SUBSCRIBE", "error", err)
		return
	}

	if s.cfg.OnSubscribe == nil {
		s.sendSubscribeError(sub.RequestID, subscribeErrCodeRejected, "subscribe not accepted")
		return
	}

	req := SubscribeRequest{
		RequestID:  sub.RequestID,
		Track:      sub.Track,
		Priority:   sub.Priority,
		HasStart:   sub.HasStart,
		StartGroup: sub.StartGroup,
		HasEnd:     sub.HasEnd,
		EndGroup:   sub.EndGroup,
	}
	alias, err := s.cfg.OnSubscribe(req)
	if err != nil {
		s.sendSubscribeError(sub.RequestID, subscribeErrCodeRejected, err.Error())
		return
	}

	ok := wire.SubscribeOk{RequestID: sub.RequestID, Track: sub.Track, TrackAlias: alias}
	if err := s.writeControl(wire.MsgSubscribeOk, wire.EncodeSubscribeOk(ok)); err != nil {
		s.log.Warn("write SUBSCRIBE_OK failed", "error", err)
	}
}

func (s *Session) sendSubscribeError(requestID, code uint64, reason string) {
	msg := wire.SubscribeError{RequestID: requestID, Code: code, Reason: reason}
	if err := s.writeControl(wire.MsgSubscribeErr, wire.EncodeSubscribeError(msg)); err != nil {
		s.log.Warn("write SUBSCRIBE_ERROR failed", "error", err)
	}
}

func (s *Session) resolveSubscribeOk(payload []byte) {
	ok, err := wire.DecodeSubscribeOk(payload)
	if err != nil {
		s.log.Warn("bad SUBSCRIBE_OK", "error", err)
		return
	}
	s.mu.Lock()
	ch, found := s.pendingSubscribe[ok.RequestID]
	s.mu.Unlock()
	if found {
		ch <- subscribeResult{ok: true, trackAlias: ok.TrackAlias}
	}
}

func (s *Session) resolveSubscribeErr(payload []byte) {
	e, err := wire.DecodeSubscribeError(payload)
	if err != nil {
		s.log.Warn("bad SUBSCRIBE_ERROR", "error", err)
		return
	}
	s.mu.Lock()
	ch, found := s.pendingSubscribe[e.RequestID]
	s.mu.Unlock()
	if found {
		ch <- subscribeResult{ok: false, code: e.Code, reason: e.Reason}
	}
}

func (s *Session) handleUnsubscribe(payload []byte) {
	u, err := wire.DecodeUnsubscribe(payload)
	if err != nil {
		s.log.Warn("bad UNSUBSCRIBE", "error", err)
		return
	}
	if s.cfg.OnUnsubscribe != nil {
		s.cfg.OnUnsubscribe(u.RequestID)
	}
}
