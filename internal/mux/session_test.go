package mux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/hostpolicy"
)

type fakeTransport struct {
	incoming chan []byte
	outgoing chan []byte
	closed   chan struct{}

	closeCode   int
	closeReason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 16),
		outgoing: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-f.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case f.outgoing <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.closeCode = code
	f.closeReason = reason
	close(f.closed)
	return nil
}

func startMuxEchoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln
}

func waitForOutgoing(t *testing.T, tr *fakeTransport, timeout time.Duration) Frame {
	t.Helper()
	select {
	case msg := <-tr.outgoing:
		p := NewParser(DefaultMaxFramePayloadBytes)
		frames, err := p.Feed(msg)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		return frames[0]
	case <-time.After(timeout):
		t.Fatal("timed out waiting for outgoing frame")
		return Frame{}
	}
}

func TestSession_OpenDataEcho(t *testing.T) {
	ln := startMuxEchoServer(t)
	defer ln.Close()

	tr := newFakeTransport()
	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	}
	tracker := admission.NewTracker(admission.Limits{})
	policy := hostpolicy.NewPolicy(nil, nil, false, true)

	session := NewSession(tr, dial, tracker, policy, "1.2.3.4", Limits{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Serve(ctx)

	openFrame := Frame{
		Type:     FrameOpen,
		StreamID: 1,
		Payload:  EncodeOpenPayload(OpenPayload{Host: "echo.example", Port: 80, InitialSendWindow: 65536}),
	}
	tr.incoming <- EncodeFrame(openFrame)

	ack := waitForOutgoing(t, tr, 2*time.Second)
	require.Equal(t, FrameOpenAck, ack.Type)
	ackPayload, err := DecodeOpenAckPayload(ack.Payload, ack.Flags)
	require.NoError(t, err)
	assert.False(t, ackPayload.IsError)

	dataFrame := Frame{Type: FrameData, StreamID: 1, Payload: []byte("hello")}
	tr.incoming <- EncodeFrame(dataFrame)

	echoed := waitForOutgoing(t, tr, 2*time.Second)
	assert.Equal(t, FrameData, echoed.Type)
	assert.Equal(t, []byte("hello"), echoed.Payload)

	assert.Equal(t, 1, tracker.GlobalActive())
}

func TestSession_OpenDeniedByPolicySendsOpenAckError(t *testing.T) {
	tr := newFakeTransport()
	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		t.Fatal("dial should not be called for a policy-denied target")
		return nil, nil
	}
	tracker := admission.NewTracker(admission.Limits{})
	policy := hostpolicy.NewPolicy([]string{"blocked.example"}, nil, false, true)

	session := NewSession(tr, dial, tracker, policy, "1.2.3.4", Limits{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Serve(ctx)

	openFrame := Frame{
		Type:     FrameOpen,
		StreamID: 1,
		Payload:  EncodeOpenPayload(OpenPayload{Host: "blocked.example", Port: 80, InitialSendWindow: 65536}),
	}
	tr.incoming <- EncodeFrame(openFrame)

	ack := waitForOutgoing(t, tr, 2*time.Second)
	require.Equal(t, FrameOpenAck, ack.Type)
	ackPayload, err := DecodeOpenAckPayload(ack.Payload, ack.Flags)
	require.NoError(t, err)
	assert.True(t, ackPayload.IsError)

	assert.Equal(t, 0, tracker.GlobalActive())
}

// stallingConn is a net.Conn whose Write blocks until unblock is closed,
// used to simulate Scenario D's "target pauses reading" on one stream
// without needing a real stalled TCP socket.
type stallingConn struct {
	net.Conn
	unblock  chan struct{}
	received chan []byte
}

func (c *stallingConn) Write(b []byte) (int, error) {
	<-c.unblock
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case c.received <- cp:
	default:
	}
	return len(b), nil
}

func (c *stallingConn) Read(b []byte) (int, error) {
	<-c.unblock
	return 0, io.EOF
}

func (c *stallingConn) Close() error { return nil }

// Scenario D: a stream whose target blocks on write must not stall any
// other stream's DATA delivery (internal/mux/session.go's handleData hands
// off to a per-stream drain goroutine rather than writing inline).
func TestSession_StalledStreamDoesNotBlockOtherStreams(t *testing.T) {
	lnOK := startMuxEchoServer(t)
	defer lnOK.Close()

	stalled := &stallingConn{unblock: make(chan struct{}), received: make(chan []byte, 1)}

	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		if host == "stalled.example" {
			return stalled, nil
		}
		return net.Dial("tcp", lnOK.Addr().String())
	}

	tr := newFakeTransport()
	tracker := admission.NewTracker(admission.Limits{})
	policy := hostpolicy.NewPolicy(nil, nil, false, true)
	session := NewSession(tr, dial, tracker, policy, "1.2.3.4", Limits{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Serve(ctx)

	tr.incoming <- EncodeFrame(Frame{
		Type:     FrameOpen,
		StreamID: 1,
		Payload:  EncodeOpenPayload(OpenPayload{Host: "stalled.example", Port: 80, InitialSendWindow: 65536}),
	})
	waitForOutgoing(t, tr, 2*time.Second) // OPEN_ACK for stream 1

	tr.incoming <- EncodeFrame(Frame{
		Type:     FrameOpen,
		StreamID: 2,
		Payload:  EncodeOpenPayload(OpenPayload{Host: "echo.example", Port: 80, InitialSendWindow: 65536}),
	})
	waitForOutgoing(t, tr, 2*time.Second) // OPEN_ACK for stream 2

	// Stream 1's target never reads until we unblock it below.
	tr.incoming <- EncodeFrame(Frame{Type: FrameData, StreamID: 1, Payload: []byte("stuck")})

	// Stream 2 must still echo promptly even with stream 1's write blocked.
	tr.incoming <- EncodeFrame(Frame{Type: FrameData, StreamID: 2, Payload: []byte("unaffected")})
	echoed := waitForOutgoing(t, tr, 2*time.Second)
	assert.Equal(t, FrameData, echoed.Type)
	assert.Equal(t, uint64(2), echoed.StreamID)
	assert.Equal(t, []byte("unaffected"), echoed.Payload)

	close(stalled.unblock)
	select {
	case got := <-stalled.received:
		assert.Equal(t, []byte("stuck"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("stream 1's write was never delivered after unblocking")
	}
}

// Scenario E: an oversize frame terminates the session with WS close 1009.
func TestSession_OversizeFrameTerminatesWithCloseCode1009(t *testing.T) {
	tr := newFakeTransport()
	dial := func(ctx context.Context, host string, port int) (net.Conn, error) {
		return nil, nil
	}
	tracker := admission.NewTracker(admission.Limits{})
	policy := hostpolicy.NewPolicy(nil, nil, false, true)

	limits := Limits{MaxFramePayloadBytes: 1024}
	session := NewSession(tr, dial, tracker, policy, "1.2.3.4", limits, nil)

	done := make(chan error, 1)
	go func() { done <- session.Serve(context.Background()) }()

	oversized := Frame{Type: FrameData, StreamID: 1, Payload: make([]byte, 2048)}
	tr.incoming <- EncodeFrame(oversized)

	select {
	case <-tr.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not closed after oversize frame")
	}
	assert.Equal(t, CloseMessageTooBig, tr.closeCode)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after oversize frame")
	}
}
