package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestFakeControlStreamRoundTrip(t *testing.T) {
	t.Parallel()
	client, server := NewFakeSessionPair()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan Stream, 1)
	go func() {
		st, err := server.AcceptStream(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		done <- st
	}()

	clientStream, err := client.OpenStreamSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	serverStream := <-done

	// The fake's streams are unbuffered pipes: Write returns only once the
	// peer reads, so the write runs on its own goroutine.
	writeErr := make(chan error, 1)
	go func() {
		_, err := clientStream.Write([]byte("hello"))
		writeErr <- err
	}()
	buf := make([]byte, 5)
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatal(err)
	}
	if err := <-writeErr; err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
}

func TestFakeUniStreamDelivery(t *testing.T) {
	t.Parallel()
	client, server := NewFakeSessionPair()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	send, err := client.OpenUniStreamSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		send.Write([]byte("object-bytes"))
		send.Close()
	}()

	recv, err := server.AcceptUniStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(recv)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "object-bytes" {
		t.Fatalf("got %q", data)
	}
	if send.StreamID() != recv.StreamID() {
		t.Fatalf("stream IDs diverged: %d vs %d", send.StreamID(), recv.StreamID())
	}
}

func TestFakeDatagramRoundTrip(t *testing.T) {
	t.Parallel()
	client, server := NewFakeSessionPair()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.SendDatagram([]byte("dgram")); err != nil {
		t.Fatal(err)
	}
	got, err := server.ReceiveDatagram(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "dgram" {
		t.Fatalf("got %q", got)
	}
}

func TestFakeDatagramDroppedWhenBacklogFull(t *testing.T) {
	t.Parallel()
	client, server := NewFakeSessionPair()
	for i := 0; i < datagramBacklog+10; i++ {
		if err := client.SendDatagram([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	received := 0
	for {
		if _, err := server.ReceiveDatagram(ctx); err != nil {
			break
		}
		received++
	}
	if received != datagramBacklog {
		t.Fatalf("received %d datagrams, want exactly the %d-deep backlog", received, datagramBacklog)
	}
}

func TestFakeCloseWithErrorCancelsOnlyLocalSide(t *testing.T) {
	t.Parallel()
	client, server := NewFakeSessionPair()

	if err := client.CloseWithError(SessionErrorCode(3), "bye"); err != nil {
		t.Fatal(err)
	}
	code, reason := client.CloseInfo()
	if code != 3 || reason != "bye" {
		t.Fatalf("got code=%d reason=%q", code, reason)
	}

	select {
	case <-client.Context().Done():
	default:
		t.Fatal("expected client context to be cancelled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := server.AcceptStream(ctx); err == nil {
		t.Fatal("expected server.AcceptStream to time out, peer closing does not itself cancel server")
	}
}
