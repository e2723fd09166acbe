// Package nic simulates an e1000-style Gigabit Ethernet controller: fixed
// TX/RX descriptor rings with a single "descriptor done" ownership bit, a
// background goroutine standing in for the actual transceiver hardware,
// and the bit layout from the real 82540EM register set (kern/e1000.h) so
// the descriptor fields mean exactly what a driver against a real card
// would expect.
package nic

// Selected register offsets, read by Device.RegisterDump (surfaced through
// the monitor's kerninfo command) even though this simulation never backs
// them with real MMIO.
const (
	RegStatus = 0x00008
	RegTCTL   = 0x00400
	RegTDBAL  = 0x03800
	RegTDLEN  = 0x03808
	RegTDH    = 0x03810
	RegTDT    = 0x03818
	RegRCTL   = 0x00100
	RegRDBAL  = 0x02800
	RegRDLEN  = 0x02808
	RegRDH    = 0x02810
	RegRDT    = 0x02818
)

// TX descriptor command/status bits.
const (
	TxCmdEOP = 0x01
	TxCmdRS  = 0x08
	TxStatDD = 0x01
)

// RX descriptor status bits.
const (
	RxStatDD  = 0x01
	RxStatEOP = 0x02
)

// Buffer sizes, matching TX_BUFFER_SIZE/RX_BUFFER_SIZE.
const (
	TxBufferSize = 1518
	RxBufferSize = 2048
)

// Ring lengths, matching TX_QUEUE_SIZE/RX_QUEUE_SIZE.
const (
	TxQueueSize = 64
	RxQueueSize = 128
)

// PCI identity this driver attaches to.
const (
	VendorIntel = 0x8086
	DeviceE1000 = 0x100E
)
