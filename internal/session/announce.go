package session

import (
	"context"
	"fmt"

	"github.com/zsiec/moqtcore/internal/errs"
	"github.com/zsiec/moqtcore/internal/wire"
)

// announceErrCodeRejected is sent when OnAnnounce refuses a track, absent a
// more specific code.
const announceErrCodeRejected = 403

// Announce tells the peer this session publishes track, and blocks until
// ANNOUNCE_OK or ANNOUNCE_ERROR arrives or ctx is cancelled.
func (s *Session) Announce(ctx context.Context, track wire.Namespace) error {
	ch := make(chan announceResult, 1)
	key := track.Key()

	s.mu.Lock()
	s.pendingAnnounce[key] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pendingAnnounce, key)
		s.mu.Unlock()
	}()

	if err := s.writeControl(wire.MsgAnnounce, wire.EncodeAnnounce(wire.Announce{Track: track})); err != nil {
		return fmt.Errorf("write announce: %w", err)
	}

	select {
	case res := <-ch:
		if !res.ok {
			return &errs.TrackAnnounceFailed{Namespace: string(track.Namespace), Code: res.code, Reason: res.reason}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handleAnnounce(payload []byte) {
	a, err := wire.DecodeAnnounce(payload)
	if err != nil {
		s.log.Warn("bad ANNOUNCE", "error", err)
		return
	}

	if s.cfg.OnAnnounce == nil {
		s.sendAnnounceError(a.Track, announceErrCodeRejected, "announce not accepted")
		return
	}
	if err := s.cfg.OnAnnounce(a.Track); err != nil {
		s.sendAnnounceError(a.Track, announceErrCodeRejected, err.Error())
		return
	}
	if err := s.writeControl(wire.MsgAnnounceOk, wire.EncodeAnnounceOk(wire.AnnounceOk{Track: a.Track})); err != nil {
		s.log.Warn("write ANNOUNCE_OK failed", "error", err)
	}
}

func (s *Session) sendAnnounceError(track wire.Namespace, code uint64, reason string) {
	msg := wire.AnnounceError{Track: track, Code: code, Reason: reason}
	if err := s.writeControl(wire.MsgAnnounceErr, wire.EncodeAnnounceError(msg)); err != nil {
		s.log.Warn("write ANNOUNCE_ERROR failed", "error", err)
	}
}

func (s *Session) resolveAnnounceOk(payload []byte) {
	ok, err := wire.DecodeAnnounceOk(payload)
	if err != nil {
		s.log.Warn("bad ANNOUNCE_OK", "error", err)
		return
	}
	s.mu.Lock()
	ch, found := s.pendingAnnounce[ok.Track.Key()]
	s.mu.Unlock()
	if found {
		ch <- announceResult{ok: true}
	}
}

func (s *Session) resolveAnnounceErr(payload []byte) {
	e, err := wire.DecodeAnnounceError(payload)
	if err != nil {
		s.log.Warn("bad ANNOUNCE_ERROR", "error", err)
		return
	}
	s.mu.Lock()
	ch, found := s.pendingAnnounce[e.Track.Key()]
	s.mu.Unlock()
	if found {
		ch <- announceResult{ok: false, code: e.Code, reason: e.Reason}
	}
}
