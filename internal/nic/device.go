package nic

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"exok/internal/pci"
)

// Device is a simulated e1000 NIC: a TX ring drained by a background
// goroutine standing in for the transceiver, and an RX ring fed by Inject
// on behalf of whatever plays the role of "the wire" (a test, or a loopback
// bridge between two Devices).
type Device struct {
	Func *pci.Func
	Log  *logrus.Logger

	tx *txRing
	rx *rxRing

	// Sent receives the payload of every frame the background goroutine
	// drains off the TX ring, for tests and for chaining a loopback.
	Sent chan []byte

	stop     chan struct{}
	stopOnce sync.Once
}

// Attach brings up f as this driver's e1000 (pci_e1000_attach): enables the
// PCI function and starts the TX-draining goroutine. The RX/TX
// initialization registers (TDBAL, RDBAL, ...) have no physical memory to
// point at in this simulation, so Attach skips programming them and goes
// straight to standing up the rings.
func Attach(f *pci.Func, log *logrus.Logger) (*Device, error) {
	if err := f.Enable(); err != nil {
		return nil, err
	}
	d := &Device{
		Func: f,
		Log:  log,
		tx:   newTxRing(),
		rx:   newRxRing(),
		Sent: make(chan []byte, TxQueueSize),
		stop: make(chan struct{}),
	}
	go d.drainLoop()
	return d, nil
}

// drainLoop is the simulated transceiver: it repeatedly looks for a
// descriptor software has queued (status clear) and returns it to
// software's ownership (status DD) after reporting the payload on Sent.
func (d *Device) drainLoop() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			for {
				payload, ok := d.tx.drainOne()
				if !ok {
					break
				}
				select {
				case d.Sent <- payload:
				default:
				}
			}
		}
	}
}

// Close stops the background drain goroutine.
func (d *Device) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// TrySend is sys_net_try_send's net_packet_tx: stage data in the next
// TX descriptor, 0 if the ring has no free slot yet.
func (d *Device) TrySend(data []byte) int { return d.tx.enqueue(data) }

// TryRecv is sys_net_try_recv's net_packet_rx: copy the oldest
// hardware-delivered frame into buf, 0 if nothing has arrived.
func (d *Device) TryRecv(buf []byte) int { return d.rx.dequeue(buf) }

// Inject delivers frame as an inbound packet, as if it had just arrived
// over the wire. Returns false if the RX ring has no free descriptor.
func (d *Device) Inject(frame []byte) bool { return d.rx.deliver(frame) }

// RegisterEntry names one simulated MMIO register for RegisterDump, in the
// order kerninfo prints them.
type RegisterEntry struct {
	Name   string
	Offset uint32
	Value  uint32
}

// RegisterDump reports this Device's ring head/tail/length state keyed by
// the real 82540EM register offsets (TDH/TDT/TDLEN, RDH/RDT/RDLEN, STATUS),
// the closest this simulation comes to a debug dump of actual MMIO since
// there is no backing memory at those offsets to read.
func (d *Device) RegisterDump() []RegisterEntry {
	txHead, txTail := d.tx.snapshot()
	rxHead, rxTail := d.rx.snapshot()
	return []RegisterEntry{
		{"STATUS", RegStatus, 1 << 1}, // link up
		{"TDH", RegTDH, uint32(txHead)},
		{"TDT", RegTDT, uint32(txTail)},
		{"TDLEN", RegTDLEN, TxQueueSize},
		{"TDBAL", RegTDBAL, 0},
		{"TCTL", RegTCTL, 0},
		{"RDH", RegRDH, uint32(rxHead)},
		{"RDT", RegRDT, uint32(rxTail)},
		{"RDLEN", RegRDLEN, RxQueueSize},
		{"RDBAL", RegRDBAL, 0},
		{"RCTL", RegRCTL, 0},
	}
}
