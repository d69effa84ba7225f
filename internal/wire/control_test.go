package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func ns(namespace, track string) Namespace {
	return Namespace{Namespace: []byte(namespace), TrackName: []byte(track)}
}

// TestControlMsgFramingRoundTrip mirrors the teacher's
// TestControlMsgRoundTrip: write then read back a framed message and check
// the type and payload survive unchanged.
func TestControlMsgFramingRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte("hello")
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, MsgClientSetup, payload); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadControlMsg(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgClientSetup {
		t.Fatalf("message type = %#x, want %#x", msgType, MsgClientSetup)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestControlMsgEmptyPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, MsgGoAway, nil); err != nil {
		t.Fatal(err)
	}
	msgType, got, err := ReadControlMsg(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgGoAway || len(got) != 0 {
		t.Fatalf("got type=%#x payload=%q", msgType, got)
	}
}

func TestControlMsgTruncatedType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if _, _, err := ReadControlMsg(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected error on empty input")
	}
}

func TestControlMsgTruncatedPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, MsgClientSetup, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:len(buf.Bytes())-3]
	if _, _, err := ReadControlMsg(bufio.NewReader(bytes.NewReader(truncated))); err == nil {
		t.Fatal("expected error on truncated payload")
	}
}

// TestClientServerSetupRoundTrip is property 2 (control round trip) applied
// to the setup exchange of scenario S2.
func TestClientServerSetupRoundTrip(t *testing.T) {
	t.Parallel()
	cs := ClientSetup{Version: 1, MaxTracks: 100, MaxObjectSize: 1 << 20}
	got, err := DecodeClientSetup(EncodeClientSetup(cs))
	if err != nil {
		t.Fatal(err)
	}
	if got != cs {
		t.Fatalf("got %+v, want %+v", got, cs)
	}

	ss := ServerSetup{Version: 1, MaxTracks: 100, MaxObjectSize: 1 << 20}
	gotSS, err := DecodeServerSetup(EncodeServerSetup(ss))
	if err != nil {
		t.Fatal(err)
	}
	if gotSS != ss {
		t.Fatalf("got %+v, want %+v", gotSS, ss)
	}
}

func TestAnnounceRoundTrip(t *testing.T) {
	t.Parallel()
	a := Announce{Track: ns("example.com", "live/camera1")}
	got, err := DecodeAnnounce(EncodeAnnounce(a))
	if err != nil {
		t.Fatal(err)
	}
	if got.Track.Key() != a.Track.Key() {
		t.Fatalf("got %+v, want %+v", got, a)
	}

	ok := AnnounceOk{Track: a.Track}
	gotOk, err := DecodeAnnounceOk(EncodeAnnounceOk(ok))
	if err != nil {
		t.Fatal(err)
	}
	if gotOk.Track.Key() != ok.Track.Key() {
		t.Fatalf("got %+v, want %+v", gotOk, ok)
	}

	annErr := AnnounceError{Track: a.Track, Code: 403, Reason: "not authorized"}
	gotErr, err := DecodeAnnounceError(EncodeAnnounceError(annErr))
	if err != nil {
		t.Fatal(err)
	}
	if gotErr.Code != annErr.Code || gotErr.Reason != annErr.Reason || gotErr.Track.Key() != annErr.Track.Key() {
		t.Fatalf("got %+v, want %+v", gotErr, annErr)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	t.Parallel()
	start := uint64(100)
	s := Subscribe{
		RequestID: 7,
		Track:     ns("example.com", "live/camera1"),
		Priority:  5,
		HasStart:  true,
		StartGroup: start,
		HasEnd:    false,
	}
	got, err := DecodeSubscribe(EncodeSubscribe(s))
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != s.RequestID || got.Priority != s.Priority ||
		got.HasStart != s.HasStart || got.StartGroup != s.StartGroup ||
		got.HasEnd != s.HasEnd || got.Track.Key() != s.Track.Key() {
		t.Fatalf("got %+v, want %+v", got, s)
	}

	ok := SubscribeOk{RequestID: 7, Track: s.Track, TrackAlias: 99}
	gotOk, err := DecodeSubscribeOk(EncodeSubscribeOk(ok))
	if err != nil {
		t.Fatal(err)
	}
	if gotOk.RequestID != ok.RequestID || gotOk.Track.Key() != ok.Track.Key() || gotOk.TrackAlias != ok.TrackAlias {
		t.Fatalf("got %+v, want %+v", gotOk, ok)
	}

	subErr := SubscribeError{RequestID: 7, Code: 4, Reason: "Track not found"}
	gotErr, err := DecodeSubscribeError(EncodeSubscribeError(subErr))
	if err != nil {
		t.Fatal(err)
	}
	if gotErr != subErr {
		t.Fatalf("got %+v, want %+v", gotErr, subErr)
	}
}

func TestSubscribeWithRange(t *testing.T) {
	t.Parallel()
	s := Subscribe{
		RequestID:  1,
		Track:      ns("a", "b"),
		Priority:   0,
		HasStart:   true,
		StartGroup: 10,
		HasEnd:     true,
		EndGroup:   20,
	}
	got, err := DecodeSubscribe(EncodeSubscribe(s))
	if err != nil {
		t.Fatal(err)
	}
	if got.StartGroup != 10 || got.EndGroup != 20 || !got.HasEnd {
		t.Fatalf("got %+v, want %+v", got, s)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	t.Parallel()
	u := Unsubscribe{RequestID: 9, Track: ns("a", "b")}
	got, err := DecodeUnsubscribe(EncodeUnsubscribe(u))
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != u.RequestID || got.Track.Key() != u.Track.Key() {
		t.Fatalf("got %+v, want %+v", got, u)
	}
}

func TestGoAwayRoundTrip(t *testing.T) {
	t.Parallel()
	g := GoAway{Code: 0, Reason: "server shutting down"}
	got, err := DecodeGoAway(EncodeGoAway(g))
	if err != nil {
		t.Fatal(err)
	}
	if got != g {
		t.Fatalf("got %+v, want %+v", got, g)
	}
}

func TestSetupErrorRoundTrip(t *testing.T) {
	t.Parallel()
	e := SetupError{Code: 1, Reason: "version mismatch"}
	got, err := DecodeSetupError(EncodeSetupError(e))
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

// TestUnknownMessageType documents that the session layer (not this
// package) is responsible for turning an unrecognized type into
// MoqProtocol; the codec itself just hands back the raw type and payload.
func TestUnknownMessageType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, 0x7f, []byte("x")); err != nil {
		t.Fatal(err)
	}
	msgType, payload, err := ReadControlMsg(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if msgType != 0x7f || string(payload) != "x" {
		t.Fatalf("got type=%#x payload=%q", msgType, payload)
	}
}
