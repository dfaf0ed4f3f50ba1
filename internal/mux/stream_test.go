package mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// P6: sendWindow is always >= 0 immediately after a DATA emission.
func TestStream_ConsumeSendWindowNeverGoesNegativeWhenBounded(t *testing.T) {
	s := newStream(1, nil, 1024, 1024, 4096)
	ready, ok := s.waitForSendWindow()
	require.True(t, ok)
	require.Nil(t, ready)

	s.consumeSendWindow(1024)
	assert.Equal(t, int64(0), s.SendWindow())

	_, ok = s.waitForSendWindow()
	assert.False(t, ok)
}

func TestStream_ApplyWindowUpdateUnblocksWaiter(t *testing.T) {
	s := newStream(1, nil, 100, 1024, 4096)
	s.consumeSendWindow(100)
	ready, ok := s.waitForSendWindow()
	require.False(t, ok)
	require.NotNil(t, ready)

	s.applyWindowUpdate(50)

	select {
	case <-ready:
	default:
		t.Fatal("expected sendReady channel to be closed after applyWindowUpdate")
	}
	assert.Equal(t, int64(50), s.SendWindow())
}

// P6: recvWindow never exceeds the most recently advertised window.
func TestStream_OnDataReceived_RejectsBeyondGrantedWindow(t *testing.T) {
	s := newStream(1, nil, 1024, 100, 1024)
	assert.True(t, s.onDataReceived(60))
	assert.Equal(t, int64(40), s.RecvWindow())
	assert.False(t, s.onDataReceived(41))
}

func TestStream_OnDataReceived_RejectsBeyondBufferCap(t *testing.T) {
	s := newStream(1, nil, 1024, 10000, 100)
	assert.False(t, s.onDataReceived(101))
}

// Scenario D: a stream's recvWindow drains to 0 and the peer must stop
// sending DATA until a WINDOW_UPDATE is coalesced and emitted.
func TestStream_OnDataDrained_CoalescesAtHalfWindowOrMinBytes(t *testing.T) {
	s := newStream(1, nil, 1024, 65536, 65536)
	require.True(t, s.onDataReceived(65536))
	assert.Equal(t, int64(0), s.RecvWindow())

	// Draining less than half the window and less than 32 KiB yields no
	// update yet.
	increment := s.onDataDrained(1000)
	assert.Equal(t, uint32(0), increment)

	// Draining the rest crosses the 32 KiB coalescing threshold.
	increment = s.onDataDrained(64536)
	assert.Equal(t, uint32(65536), increment)
	assert.Equal(t, int64(65536), s.RecvWindow())
}

func TestStream_OnDataDrained_EmitsAtThirtyTwoKiBEvenBelowHalfWindow(t *testing.T) {
	s := newStream(1, nil, 1024, 1<<20, 1<<20) // 1 MiB window, half = 512 KiB
	require.True(t, s.onDataReceived(40*1024))
	increment := s.onDataDrained(40 * 1024)
	assert.Equal(t, uint32(40*1024), increment)
}

// Scenario D: the inbound queue preserves order and lets a consumer block
// independently of the producer, which is what lets handleData hand off to
// each stream's own drain goroutine instead of writing to target inline.
func TestStream_EnqueueDequeueData_PreservesOrder(t *testing.T) {
	s := newStream(1, nil, 1024, 65536, 65536)
	s.enqueueData([]byte("first"))
	s.enqueueData([]byte("second"))

	got, ok := s.dequeueData()
	require.True(t, ok)
	assert.Equal(t, []byte("first"), got)

	got, ok = s.dequeueData()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}

func TestStream_CloseInbound_UnblocksDequeue(t *testing.T) {
	s := newStream(1, nil, 1024, 65536, 65536)
	done := make(chan bool, 1)
	go func() {
		_, ok := s.dequeueData()
		done <- ok
	}()

	s.closeInbound()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeueData did not unblock after closeInbound")
	}
}
