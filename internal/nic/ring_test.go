package nic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRingEnqueueDrainRoundTrip(t *testing.T) {
	r := newTxRing()
	n := r.enqueue([]byte("hello"))
	assert.Equal(t, 5, n)

	payload, ok := r.drainOne()
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), payload)

	// the descriptor is DD again, draining once more finds nothing queued.
	_, ok = r.drainOne()
	assert.False(t, ok)
}

func TestTxRingEnqueueFailsWhenDescriptorNotYetDrained(t *testing.T) {
	r := newTxRing()
	for i := 0; i < TxQueueSize; i++ {
		require.NotZero(t, r.enqueue([]byte{byte(i)}))
	}
	// every descriptor is now owned by hardware; the next enqueue at the
	// wrapped-around tail finds its DD bit clear.
	assert.Equal(t, 0, r.enqueue([]byte{0xFF}))
}

func TestTxRingTruncatesOversizePayload(t *testing.T) {
	r := newTxRing()
	big := make([]byte, TxBufferSize+100)
	n := r.enqueue(big)
	assert.Equal(t, TxBufferSize, n)
}

func TestRxRingDeliverDequeueRoundTrip(t *testing.T) {
	r := newRxRing()
	ok := r.deliver([]byte("frame"))
	require.True(t, ok)

	buf := make([]byte, 16)
	n := r.dequeue(buf)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("frame"), buf[:n])

	assert.Equal(t, 0, r.dequeue(buf))
}

func TestRxRingFillsThenBlocksUntilConsumed(t *testing.T) {
	r := newRxRing()
	for i := 0; i < RxQueueSize; i++ {
		require.True(t, r.deliver([]byte{byte(i)}))
	}
	assert.False(t, r.deliver([]byte{0xFF}))

	buf := make([]byte, 1)
	require.Equal(t, 1, r.dequeue(buf))
	assert.True(t, r.deliver([]byte{0xFF}))
}
