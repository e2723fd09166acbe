package nic

// txDesc is one transmit descriptor: a driver-owned buffer plus the
// cmd/status handshake with the (simulated) hardware.
type txDesc struct {
	buffer [TxBufferSize]byte
	length int
	cmd    uint8
	status uint8
}

// rxDesc is one receive descriptor: a hardware-owned buffer plus status.
type rxDesc struct {
	buffer [RxBufferSize]byte
	length int
	status uint8
}
