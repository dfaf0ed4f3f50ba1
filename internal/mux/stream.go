package mux

import (
	"net"
	"sync"
)

// StreamState is spec.md §4.8's per-stream state machine.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpening
	StreamOpen
	StreamHalfClosedRemote // peer sent CLOSE_WRITE; target may still write to us
	StreamHalfClosedLocal  // our target hit EOF; we sent CLOSE_WRITE
	StreamClosed
)

// windowCoalesceMinBytes is one of the two triggers spec.md §4.8 names for
// emitting a coalesced WINDOW_UPDATE: "when ≥ 1/2 window reclaimed OR ≥ 32
// KiB"; the half-window trigger is computed in onDataDrained.
const windowCoalesceMinBytes = 32 * 1024

// Stream is one multiplexed TCP connection inside a Session.
type Stream struct {
	id     uint64
	target net.Conn

	mu    sync.Mutex
	state StreamState

	sendWindow  int64 // credits we may still spend sending DATA to the peer
	recvWindow  int64 // credits remaining that we've granted the peer
	recvInitial int64

	// creditSinceUpdate accumulates bytes drained to target since the
	// last WINDOW_UPDATE we emitted, to decide when to coalesce.
	creditSinceUpdate int64

	bufferedBytes  int64 // bytes received but not yet drained to target
	maxBufferBytes int64

	// sendReady is signaled (closed then replaced) whenever sendWindow
	// goes from <=0 to >0, to wake a goroutine blocked writing DATA.
	sendReady chan struct{}

	// inbound queues DATA payloads admitted by onDataReceived for delivery
	// to target on the stream's own drain goroutine (spec.md §4.8), so a
	// target write that blocks on one stream never stalls the session's
	// shared frame-dispatch loop for every other stream. recvWindow/
	// bufferedBytes already bound how much can be queued here, so an
	// unbounded slice behind a mutex is safe: the peer cannot have more
	// than maxBufferBytes outstanding at once.
	inboundMu     sync.Mutex
	inboundCond   *sync.Cond
	inboundQueue  [][]byte
	inboundClosed bool
}

func newStream(id uint64, target net.Conn, initialSendWindow, initialRecvWindow, maxBufferBytes int64) *Stream {
	s := &Stream{
		id:             id,
		target:         target,
		state:          StreamOpening,
		sendWindow:     initialSendWindow,
		recvWindow:     initialRecvWindow,
		recvInitial:    initialRecvWindow,
		maxBufferBytes: maxBufferBytes,
		sendReady:      make(chan struct{}),
	}
	s.inboundCond = sync.NewCond(&s.inboundMu)
	return s
}

// enqueueData hands a DATA payload already admitted by onDataReceived to the
// stream's drain goroutine and wakes it.
func (s *Stream) enqueueData(payload []byte) {
	s.inboundMu.Lock()
	s.inboundQueue = append(s.inboundQueue, payload)
	s.inboundMu.Unlock()
	s.inboundCond.Signal()
}

// dequeueData blocks until a payload is queued or the stream's inbound side
// is closed. Returns ok == false once the queue is drained and closed, the
// signal for the drain goroutine to exit.
func (s *Stream) dequeueData() (payload []byte, ok bool) {
	s.inboundMu.Lock()
	defer s.inboundMu.Unlock()
	for len(s.inboundQueue) == 0 && !s.inboundClosed {
		s.inboundCond.Wait()
	}
	if len(s.inboundQueue) == 0 {
		return nil, false
	}
	payload = s.inboundQueue[0]
	s.inboundQueue = s.inboundQueue[1:]
	return payload, true
}

// closeInbound unblocks the stream's drain goroutine once the stream is
// closing, whether or not its queue has drained.
func (s *Stream) closeInbound() {
	s.inboundMu.Lock()
	s.inboundClosed = true
	s.inboundMu.Unlock()
	s.inboundCond.Broadcast()
}

// markOpen transitions OPENING -> OPEN once OPEN_ACK succeeds or, on the
// acceptor side, once the target dial succeeds.
func (s *Stream) markOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StreamOpen
}

// State returns the stream's current state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// applyWindowUpdate increments sendWindow by increment (spec.md §4.8: a
// WINDOW_UPDATE received from the peer replenishes the credit we have to
// send them DATA), waking any writer blocked on sendWindow <= 0.
func (s *Stream) applyWindowUpdate(increment uint32) {
	s.mu.Lock()
	wasBlocked := s.sendWindow <= 0
	s.sendWindow += int64(increment)
	if wasBlocked && s.sendWindow > 0 {
		close(s.sendReady)
		s.sendReady = make(chan struct{})
	}
	s.mu.Unlock()
}

// waitForSendWindow returns (nil, true) if sendWindow already has credit
// available, or a channel the caller should wait on before retrying
// otherwise. consumeSendWindow must be called with the number of bytes
// actually sent once the caller proceeds.
func (s *Stream) waitForSendWindow() (ready <-chan struct{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendWindow > 0 {
		return nil, true
	}
	return s.sendReady, false
}

func (s *Stream) consumeSendWindow(n int64) {
	s.mu.Lock()
	s.sendWindow -= n
	s.mu.Unlock()
}

// SendWindow exposes the current send-window value (tests, P6).
func (s *Stream) SendWindow() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWindow
}

// RecvWindow exposes the current recv-window value (tests, P6).
func (s *Stream) RecvWindow() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvWindow
}

// onDataReceived decrements recvWindow and bufferedBytes accounting for an
// incoming DATA frame of n bytes. Returns false if the peer violated flow
// control (sent more than we granted, or more than fits in the buffer cap)
// — the caller must RESET(flow-control-violation) and close the stream.
func (s *Stream) onDataReceived(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.recvWindow {
		return false
	}
	if s.bufferedBytes+n > s.maxBufferBytes {
		return false
	}
	s.recvWindow -= n
	s.bufferedBytes += n
	return true
}

// onDataDrained records n bytes delivered to the target socket and reports
// the WINDOW_UPDATE increment to emit now, or 0 if none is due yet
// (coalescing per spec.md §4.8).
func (s *Stream) onDataDrained(n int64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferedBytes -= n
	s.creditSinceUpdate += n

	threshold := s.recvInitial / 2
	if s.creditSinceUpdate < windowCoalesceMinBytes && s.creditSinceUpdate < threshold {
		return 0
	}

	increment := s.creditSinceUpdate
	s.creditSinceUpdate = 0
	s.recvWindow += increment
	return uint32(increment)
}

func (s *Stream) setState(state StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
