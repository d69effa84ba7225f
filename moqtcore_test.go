package moqtcore

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqtcore/internal/object"
	"github.com/zsiec/moqtcore/internal/session"
	"github.com/zsiec/moqtcore/internal/transport"
	"github.com/zsiec/moqtcore/internal/wire"
)

func dialControlStreams(t *testing.T, client, server transport.Session) (transport.Stream, transport.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	serverCh := make(chan transport.Stream, 1)
	errCh := make(chan error, 1)
	go func() {
		st, err := server.AcceptStream(ctx)
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- st
	}()

	clientStream, err := client.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open control stream: %v", err)
	}
	select {
	case st := <-serverCh:
		return clientStream, st
	case err := <-errCh:
		t.Fatalf("accept control stream: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for control stream rendezvous")
	}
	return nil, nil
}

func waitActive(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.State() == session.StateActive {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("engine never reached Active, stuck in %s", e.State())
}

func testCaps() object.Capabilities {
	return object.Capabilities{
		Version:         1,
		MaxTracks:       100,
		MaxObjectSize:   1 << 20,
		SupportedKinds:  map[object.Kind]bool{object.KindVideo: true, object.KindAudio: true},
		SupportsCaching: true,
	}
}

// TestPublishSubscribeEndToEnd implements the full publish/subscribe
// scenario: a publisher announces a track and pushes a normal object
// followed by its EndOfGroup marker, and a subscriber that subscribed
// before publication receives the single reassembled frame.
func TestPublishSubscribeEndToEnd(t *testing.T) {
	t.Parallel()
	pubTr, subTr := transport.NewFakeSessionPair()
	pubControl, subControl := dialControlStreams(t, pubTr, subTr)

	track := wire.Namespace{Namespace: []byte("example.com"), TrackName: []byte("live/camera1")}

	pub := New(Config{
		Transport: pubTr,
		Control:   pubControl,
		IsClient:  true,
		Local:     testCaps(),
	})
	sub := New(Config{
		Transport:  subTr,
		Control:    subControl,
		IsClient:   false,
		Local:      testCaps(),
		OnAnnounce: func(wire.Namespace) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)
	go sub.Run(ctx)

	waitActive(t, pub)
	waitActive(t, sub)

	announceCtx, announceCancel := context.WithTimeout(context.Background(), time.Second)
	defer announceCancel()
	if err := pub.Announce(announceCtx, track); err != nil {
		t.Fatalf("announce: %v", err)
	}

	subscribeCtx, subscribeCancel := context.WithTimeout(context.Background(), time.Second)
	defer subscribeCancel()
	out, err := sub.Subscribe(subscribeCtx, track, session.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := pub.PublishObject(track, object.MoqObject{
		Track: track, GroupID: 0, ObjectID: 0, Status: object.StatusNormal,
		Payload: []byte("frame0"),
	}); err != nil {
		t.Fatalf("publish object: %v", err)
	}
	if err := pub.PublishObject(track, object.MoqObject{
		Track: track, GroupID: 0, ObjectID: 1, Status: object.StatusEndOfGroup,
	}); err != nil {
		t.Fatalf("publish end of group: %v", err)
	}

	select {
	case frame, ok := <-out:
		if !ok {
			t.Fatal("output channel closed before a frame arrived")
		}
		if string(frame.Payload) != "frame0" {
			t.Errorf("frame payload = %q, want %q", frame.Payload, "frame0")
		}
		if frame.Partial {
			t.Error("expected a fully assembled frame, not partial")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the assembled frame")
	}
}

// TestSubscribeLateJoinerReplaysFromCache implements the late-join replay
// scenario: a subscriber that attaches after a group was already published
// and closed still receives the replayed objects via the publish-side
// cache, and its own reassembler completes them into a frame.
func TestSubscribeLateJoinerReplaysFromCache(t *testing.T) {
	t.Parallel()
	pubTr, subTr := transport.NewFakeSessionPair()
	pubControl, subControl := dialControlStreams(t, pubTr, subTr)

	track := wire.Namespace{Namespace: []byte("example.com"), TrackName: []byte("live/camera2")}

	pub := New(Config{
		Transport: pubTr,
		Control:   pubControl,
		IsClient:  true,
		Local:     testCaps(),
	})
	sub := New(Config{
		Transport:  subTr,
		Control:    subControl,
		IsClient:   false,
		Local:      testCaps(),
		OnAnnounce: func(wire.Namespace) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)
	go sub.Run(ctx)

	waitActive(t, pub)
	waitActive(t, sub)

	announceCtx, announceCancel := context.WithTimeout(context.Background(), time.Second)
	defer announceCancel()
	if err := pub.Announce(announceCtx, track); err != nil {
		t.Fatalf("announce: %v", err)
	}

	if err := pub.PublishObject(track, object.MoqObject{
		Track: track, GroupID: 5, ObjectID: 0, Status: object.StatusNormal,
		Payload: []byte("cached"),
	}); err != nil {
		t.Fatalf("publish object: %v", err)
	}
	if err := pub.PublishObject(track, object.MoqObject{
		Track: track, GroupID: 5, ObjectID: 1, Status: object.StatusEndOfGroup,
	}); err != nil {
		t.Fatalf("publish end of group: %v", err)
	}

	subscribeCtx, subscribeCancel := context.WithTimeout(context.Background(), time.Second)
	defer subscribeCancel()
	out, err := sub.Subscribe(subscribeCtx, track, session.SubscribeOptions{HasStart: true, StartGroup: 5})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case frame, ok := <-out:
		if !ok {
			t.Fatal("output channel closed before the replayed frame arrived")
		}
		if string(frame.Payload) != "cached" {
			t.Errorf("payload = %q, want %q", frame.Payload, "cached")
		}
		if frame.GroupID != 5 {
			t.Errorf("group id = %d, want 5", frame.GroupID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replayed frame")
	}
}

// TestPublishObjectUnknownTrack implements the publish-before-announce
// scenario: publishing to a track this Engine never announced fails
// instead of silently queuing objects nobody will ever drain.
func TestPublishObjectUnknownTrack(t *testing.T) {
	t.Parallel()
	tr, _ := transport.NewFakeSessionPair()
	e := New(Config{Transport: tr, Local: testCaps()})

	track := wire.Namespace{Namespace: []byte("example.com"), TrackName: []byte("never-announced")}
	err := e.PublishObject(track, object.MoqObject{Track: track})
	if err == nil {
		t.Fatal("expected an error publishing to an unannounced track")
	}
}
