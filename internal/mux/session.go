package mux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/gatewayerr"
	"github.com/webegress/gateway/internal/hostpolicy"
	"github.com/webegress/gateway/internal/pool"
)

// CloseMessageTooBig is the WebSocket close code a Session reports when it
// terminates after an oversize frame (spec.md §4.7, Scenario E). It is not
// one of gatewayerr's Kind-derived codes because it names a transport-level
// framing violation, not a request-processing outcome.
const CloseMessageTooBig = 1009

// Transport is the minimal WebSocket message contract a Session needs; C9
// (wsupgrade) supplies an implementation backed by nhooyr.io/websocket so
// this package never imports the WebSocket library directly.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dial opens a connection to host:port on behalf of an OPEN frame. C9 wires
// this to tcpproxy's dial-with-fresh-DNS-resolution logic.
type Dial func(ctx context.Context, host string, port int) (net.Conn, error)

var streamBufPool = pool.New(func() *[]byte {
	buf := make([]byte, 32*1024)
	return &buf
})

// Limits bounds a Session's resource usage (spec.md §4.8 / TCP_MUX_* env
// vars).
type Limits struct {
	MaxStreams           int
	MaxStreamBufferBytes int64
	MaxFramePayloadBytes int
	DefaultInitialWindow uint32
}

func (l Limits) withDefaults() Limits {
	if l.MaxStreams <= 0 {
		l.MaxStreams = 256
	}
	if l.MaxStreamBufferBytes <= 0 {
		l.MaxStreamBufferBytes = 64 * 1024
	}
	if l.MaxFramePayloadBytes <= 0 {
		l.MaxFramePayloadBytes = DefaultMaxFramePayloadBytes
	}
	if l.DefaultInitialWindow == 0 {
		l.DefaultInitialWindow = 64 * 1024
	}
	return l
}

// Session is one /tcp-mux WebSocket connection multiplexing many Streams
// (spec.md §4.8's session-level behavior).
type Session struct {
	transport Transport
	dial      Dial
	admission *admission.Tracker
	policy    *hostpolicy.Policy
	clientIP  string
	limits    Limits
	logger    *slog.Logger

	parser *Parser

	mu      sync.Mutex
	streams map[uint64]*Stream

	missedPongs int
}

// NewSession constructs a Session ready to run via Serve.
func NewSession(transport Transport, dial Dial, tracker *admission.Tracker, policy *hostpolicy.Policy, clientIP string, limits Limits, logger *slog.Logger) *Session {
	limits = limits.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport: transport,
		dial:      dial,
		admission: tracker,
		policy:    policy,
		clientIP:  clientIP,
		limits:    limits,
		logger:    logger,
		parser:    NewParser(limits.MaxFramePayloadBytes),
		streams:   make(map[uint64]*Stream),
	}
}

// Serve runs the session's read/dispatch loop and idle-PING watchdog until
// the transport closes, the context is canceled, or a protocol violation
// terminates the session. Always releases every stream's admission slot and
// closes every target socket before returning (spec.md §4.8's cancellation
// requirement).
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.terminateAllStreams()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.idlePingLoop(ctx)
	}()
	defer func() {
		cancel()
		<-pingDone
	}()

	for {
		msg, err := s.transport.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		frames, ferr := s.parser.Feed(msg)
		for _, f := range frames {
			s.handleFrame(ctx, f)
		}
		if ferr != nil {
			if errors.Is(ferr, ErrOversizeFrame) {
				_ = s.transport.Close(CloseMessageTooBig, "frame payload too large")
				return gatewayerr.New(gatewayerr.KindInvalidClientInput, "oversize-frame")
			}
			_ = s.transport.Close(CloseMessageTooBig, "malformed frame")
			return gatewayerr.Wrap(gatewayerr.KindInvalidClientInput, "malformed-frame", ferr)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, f Frame) {
	switch f.Type {
	case FrameOpen:
		s.handleOpen(ctx, f)
	case FrameData:
		s.handleData(f)
	case FrameWindowUpdate:
		s.handleWindowUpdate(f)
	case FrameCloseWrite:
		s.handleCloseWrite(f)
	case FrameReset:
		s.handleReset(f)
	case FramePing:
		s.handlePing(ctx, f)
	case FramePong:
		s.mu.Lock()
		s.missedPongs = 0
		s.mu.Unlock()
	}
}

func (s *Session) handleOpen(ctx context.Context, f Frame) {
	open, err := DecodeOpenPayload(f.Payload)
	if err != nil {
		s.sendReset(ctx, f.StreamID, ResetProtocolError)
		return
	}

	s.mu.Lock()
	if _, exists := s.streams[f.StreamID]; exists || len(s.streams) >= s.limits.MaxStreams {
		s.mu.Unlock()
		s.sendOpenAckError(ctx, f.StreamID, gatewayerr.KindResourceExhausted, "stream-limit-exceeded")
		return
	}
	s.mu.Unlock()

	if !s.admission.TryAcquire(s.clientIP) {
		s.sendOpenAckError(ctx, f.StreamID, gatewayerr.KindResourceExhausted, "admission-limit-exceeded")
		return
	}

	decision := hostpolicy.EvaluateTCPHostPolicy(open.Host, s.policy)
	if !decision.Allowed {
		s.admission.Release(s.clientIP)
		s.sendOpenAckError(ctx, f.StreamID, gatewayerr.KindPolicyDenied, string(decision.Reason))
		return
	}

	target, err := s.dial(ctx, open.Host, int(open.Port))
	if err != nil {
		s.admission.Release(s.clientIP)
		s.sendOpenAckError(ctx, f.StreamID, gatewayerr.KindUpstreamUnavailable, "connect-failed")
		return
	}

	stream := newStream(f.StreamID, target, int64(open.InitialSendWindow), int64(s.limits.DefaultInitialWindow), s.limits.MaxStreamBufferBytes)
	s.mu.Lock()
	s.streams[f.StreamID] = stream
	s.mu.Unlock()
	stream.markOpen()

	ackPayload, flags := EncodeOpenAckPayload(OpenAckPayload{InitialSendWindow: s.limits.DefaultInitialWindow})
	s.writeFrame(ctx, Frame{Type: FrameOpenAck, Flags: flags, StreamID: f.StreamID, Payload: ackPayload})

	go s.pumpTargetToPeer(ctx, stream)
	go s.drainStreamToTarget(ctx, stream)
}

// handleData admits an inbound DATA frame against the stream's flow-control
// window and hands it to the stream's own drain goroutine. It never writes
// to target itself: Scenario D requires that a stream whose target stalls on
// write only stalls that stream's own recvWindow, not the session's shared
// frame-dispatch loop that every other stream also depends on.
func (s *Session) handleData(f Frame) {
	stream := s.lookupStream(f.StreamID)
	if stream == nil {
		return
	}
	n := int64(len(f.Payload))
	if !stream.onDataReceived(n) {
		s.closeStream(stream, true, ResetFlowControlViolation)
		return
	}
	stream.enqueueData(f.Payload)
}

// drainStreamToTarget is the stream's private consumer of handleData's
// queue: it owns the only goroutine that writes to this stream's target, so
// a slow or blocked target never holds up any other stream.
func (s *Session) drainStreamToTarget(ctx context.Context, stream *Stream) {
	for {
		payload, ok := stream.dequeueData()
		if !ok {
			return
		}
		n := int64(len(payload))
		if _, err := stream.target.Write(payload); err != nil {
			s.closeStream(stream, false, ResetTargetUnavailable)
			return
		}
		if increment := stream.onDataDrained(n); increment > 0 {
			s.writeFrame(ctx, Frame{
				Type:     FrameWindowUpdate,
				StreamID: stream.id,
				Payload:  EncodeWindowUpdatePayload(increment),
			})
		}
	}
}

func (s *Session) handleWindowUpdate(f Frame) {
	stream := s.lookupStream(f.StreamID)
	if stream == nil {
		return
	}
	increment, err := DecodeWindowUpdatePayload(f.Payload)
	if err != nil {
		return
	}
	stream.applyWindowUpdate(increment)
}

func (s *Session) handleCloseWrite(f Frame) {
	stream := s.lookupStream(f.StreamID)
	if stream == nil {
		return
	}
	switch stream.State() {
	case StreamHalfClosedLocal:
		s.closeStream(stream, false, "")
	default:
		stream.setState(StreamHalfClosedRemote)
		if wc, ok := stream.target.(interface{ CloseWrite() error }); ok {
			_ = wc.CloseWrite()
		}
	}
}

func (s *Session) handleReset(f Frame) {
	stream := s.lookupStream(f.StreamID)
	if stream == nil {
		return
	}
	s.closeStream(stream, false, "")
}

func (s *Session) handlePing(ctx context.Context, f Frame) {
	nonce, err := DecodePingPayload(f.Payload)
	if err != nil {
		return
	}
	s.writeFrame(ctx, Frame{Type: FramePong, Payload: EncodePingPayload(nonce)})
}

// pumpTargetToPeer copies bytes read from the stream's target socket into
// DATA frames toward the peer, blocking on sendWindow exhaustion
// (backpressure, spec.md §4.8) and emitting CLOSE_WRITE on target EOF.
func (s *Session) pumpTargetToPeer(ctx context.Context, stream *Stream) {
	bufPtr := streamBufPool.Get()
	buf := *bufPtr
	defer streamBufPool.Put(bufPtr)

	for {
		n, err := stream.target.Read(buf)
		if n > 0 {
			if !s.sendChunkWithBackpressure(ctx, stream, buf[:n]) {
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				wasHalfClosedRemote := stream.State() == StreamHalfClosedRemote
				s.writeFrame(ctx, Frame{Type: FrameCloseWrite, StreamID: stream.id})
				if wasHalfClosedRemote {
					s.closeStream(stream, false, "")
				} else {
					stream.setState(StreamHalfClosedLocal)
				}
			} else {
				s.closeStream(stream, false, ResetTargetUnavailable)
			}
			return
		}
	}
}

func (s *Session) sendChunkWithBackpressure(ctx context.Context, stream *Stream, chunk []byte) bool {
	for len(chunk) > 0 {
		ready, ok := stream.waitForSendWindow()
		if !ok {
			select {
			case <-ready:
			case <-ctx.Done():
				return false
			}
			continue
		}

		take := int64(len(chunk))
		if take > stream.SendWindow() {
			take = stream.SendWindow()
		}
		if take <= 0 {
			continue
		}

		s.writeFrame(ctx, Frame{Type: FrameData, StreamID: stream.id, Payload: chunk[:take]})
		stream.consumeSendWindow(take)
		chunk = chunk[take:]
	}
	return true
}

func (s *Session) lookupStream(id uint64) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id]
}

func (s *Session) closeStream(stream *Stream, sendResetFrame bool, reason ResetReason) {
	stream.setState(StreamClosed)
	_ = stream.target.Close()
	stream.closeInbound()

	s.mu.Lock()
	delete(s.streams, stream.id)
	s.mu.Unlock()
	s.admission.Release(s.clientIP)

	if sendResetFrame {
		s.writeFrame(context.Background(), Frame{
			Type:     FrameReset,
			StreamID: stream.id,
			Payload:  EncodeResetPayload(1, reason),
		})
	}
}

func (s *Session) sendOpenAckError(ctx context.Context, streamID uint64, kind gatewayerr.Kind, reason string) {
	payload, flags := EncodeOpenAckPayload(OpenAckPayload{
		IsError:     true,
		ErrorCode:   uint16(kind.HTTPStatus()),
		ErrorReason: reason,
	})
	s.writeFrame(ctx, Frame{Type: FrameOpenAck, Flags: flags, StreamID: streamID, Payload: payload})
}

func (s *Session) sendReset(ctx context.Context, streamID uint64, reason ResetReason) {
	s.writeFrame(ctx, Frame{Type: FrameReset, StreamID: streamID, Payload: EncodeResetPayload(1, reason)})
}

func (s *Session) writeFrame(ctx context.Context, f Frame) {
	if err := s.transport.WriteMessage(ctx, EncodeFrame(f)); err != nil {
		s.logger.Debug("mux: write failed", "stream_id", strconv.FormatUint(f.StreamID, 10), "error", err)
	}
}

// idlePingLoop sends a PING every 30s and terminates the session after 2
// missed PONGs (spec.md §4.8). The PING is sent on that fixed interval
// whether or not other frames have arrived in between.
func (s *Session) idlePingLoop(ctx context.Context) {
	const interval = 30 * time.Second
	const maxMissed = 2

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.missedPongs++
			missed := s.missedPongs
			s.mu.Unlock()

			if missed > maxMissed {
				_ = s.transport.Close(gatewayerr.KindUpstreamUnavailable.WSCloseCode(), "ping timeout")
				return
			}
			s.writeFrame(ctx, Frame{Type: FramePing, Payload: EncodePingPayload([PingNonceSize]byte{})})
		}
	}
}

// terminateAllStreams closes every open stream's target socket and releases
// its admission slot, per spec.md §4.8's synchronous cancellation
// requirement.
func (s *Session) terminateAllStreams() {
	s.mu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = make(map[uint64]*Stream)
	s.mu.Unlock()

	for _, st := range streams {
		st.setState(StreamClosed)
		_ = st.target.Close()
		st.closeInbound()
		s.admission.Release(s.clientIP)
	}
}
