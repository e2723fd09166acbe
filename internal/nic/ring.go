package nic

import "sync"

// txRing is the transmit descriptor ring: tail is the next slot software
// will fill, head is the next slot the simulated hardware will drain.
type txRing struct {
	mu   sync.Mutex
	desc [TxQueueSize]txDesc
	tail int
	head int
}

func newTxRing() *txRing {
	r := &txRing{}
	for i := range r.desc {
		r.desc[i].status = TxStatDD
	}
	return r
}

// snapshot reports head/tail the way reading TDH/TDT off real e1000 MMIO
// would, for kerninfo's register dump.
func (r *txRing) snapshot() (head, tail int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head, r.tail
}

// enqueue stages data in the tail descriptor if software owns it (DD set),
// returning the number of bytes accepted — net_packet_tx's contract.
func (r *txRing) enqueue(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := &r.desc[r.tail]
	if d.status&TxStatDD == 0 {
		return 0
	}
	n := len(data)
	if n > TxBufferSize {
		n = TxBufferSize
	}
	copy(d.buffer[:], data[:n])
	d.length = n
	d.cmd = TxCmdRS | TxCmdEOP
	d.status = 0
	r.tail = (r.tail + 1) % TxQueueSize
	return n
}

// drainOne simulates the hardware consuming the oldest not-yet-done
// descriptor: it reports the queued payload (for an optional sink) and
// returns the descriptor to software by setting DD, then advances head.
func (r *txRing) drainOne() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := &r.desc[r.head]
	if d.status&TxStatDD != 0 {
		return nil, false
	}
	out := make([]byte, d.length)
	copy(out, d.buffer[:d.length])
	d.status = TxStatDD
	r.head = (r.head + 1) % TxQueueSize
	return out, true
}

// rxRing is the receive descriptor ring: tail is the last descriptor
// software has returned to hardware, head is the next slot the simulated
// hardware will land an inbound frame in.
type rxRing struct {
	mu   sync.Mutex
	desc [RxQueueSize]rxDesc
	tail int
	head int
}

func newRxRing() *rxRing {
	return &rxRing{tail: RxQueueSize - 1}
}

// snapshot reports head/tail the way reading RDH/RDT off real e1000 MMIO
// would, for kerninfo's register dump.
func (r *rxRing) snapshot() (head, tail int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head, r.tail
}

// deliver hands an inbound frame to the next hardware-owned descriptor,
// returning false if the ring has no free slot (software hasn't caught up).
func (r *rxRing) deliver(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := &r.desc[r.head]
	if d.status&RxStatDD != 0 {
		return false
	}
	n := len(frame)
	if n > RxBufferSize {
		n = RxBufferSize
	}
	copy(d.buffer[:], frame[:n])
	d.length = n
	d.status = RxStatDD | RxStatEOP
	r.head = (r.head + 1) % RxQueueSize
	return true
}

// dequeue copies the next software-owned, hardware-filled descriptor into
// buf, returning 0 if nothing is waiting — net_packet_rx's contract.
func (r *rxRing) dequeue(buf []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := (r.tail + 1) % RxQueueSize
	d := &r.desc[next]
	if d.status&RxStatDD == 0 {
		return 0
	}
	n := copy(buf, d.buffer[:d.length])
	d.status = 0
	r.tail = next
	return n
}
