package userlib

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"exok/internal/envtab"
	"exok/internal/mmu"
)

// netioVA is the fixed virtual address the input/output bridge tasks stage
// one frame's worth of IPC payload at, the role nsipcbuf plays in the
// original net server: a single page reused across iterations rather than
// allocated fresh per packet.
const netioVA = mmu.PFTEMP

// NSReqInput and NSReqOutput tag which direction an IPC-carried frame is
// travelling, the Go analogue of NSREQ_INPUT/NSREQ_OUTPUT.
const (
	NSReqInput uint32 = iota + 1
	NSReqOutput
)

// The IPC value field carries only a single uint32, so the request tag and
// the carried frame's actual length (nsipcbuf.pkt.jp_len upstream) are
// packed into it together: tag in the low byte, length in the rest. A page
// is always PageSize bytes regardless of how much of it is a real frame, so
// without this the receiving side has no way to tell a 64-byte frame from
// 4096 bytes of stale staging-page content.
const nsReqTagBits = 8

func encodeNSValue(tag uint32, length uint32) uint32 {
	return tag | length<<nsReqTagBits
}

func decodeNSValue(value uint32) (tag uint32, length uint32) {
	return value & (1<<nsReqTagBits - 1), value >> nsReqTagBits
}

// Input polls the NIC for arrived frames and forwards each one to nsEnvID
// as an IPC page, the driver-to-network-stack half of the bridge. It returns
// only if the staging page can't be allocated or the NIC reports an error;
// otherwise the caller's Program runs it for the lifetime of the
// environment.
func Input(h *Handle, nsEnvID envtab.ID) {
	if err := h.PageAlloc(0, netioVA, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Printf("netio input: can't allocate staging page: %v", err)
		return
	}

	buf := make([]byte, mmu.PageSize)
	for {
		var n uint32
		for {
			got, err := h.NetTryRecv(buf)
			if err != nil {
				h.Printf("netio input: %v", err)
				return
			}
			if got > 0 {
				n = got
				break
			}
			h.Yield()
		}

		logFrame(h, buf[:n], "rx")

		if err := h.Write(netioVA, buf[:n]); err != nil {
			h.Printf("netio input: staging write failed: %v", err)
			continue
		}
		if err := h.Send(nsEnvID, encodeNSValue(NSReqInput, n), netioVA, mmu.PteU|mmu.PteP); err != nil {
			h.Printf("netio input: send to network stack failed: %v", err)
			continue
		}

		// The receiver now holds its own mapping of the staging page; don't
		// overwrite it with the next frame until that reference is gone.
		as := h.K.AddressSpaceOf(h.Self)
		for {
			page, _, ok := as.Lookup(netioVA)
			if !ok || page.RefCount <= 1 {
				break
			}
			h.Yield()
		}
	}
}

// Output receives frames via IPC and stages them onto the NIC's TX ring,
// the network-stack-to-driver half of the bridge.
func Output(h *Handle) {
	buf := make([]byte, mmu.PageSize)
	for {
		_, value, perm, err := h.IPCRecv(netioVA)
		if err != nil {
			h.Printf("netio output: %v", err)
			continue
		}
		tag, length := decodeNSValue(value)
		if tag != NSReqOutput || perm&mmu.PteP == 0 || length == 0 || length > mmu.PageSize {
			continue
		}

		as := h.K.AddressSpaceOf(h.Self)
		page, _, ok := as.Lookup(netioVA)
		if !ok {
			continue
		}
		frame := buf[:length]
		copy(frame, page.Bytes()[:length])

		logFrame(h, frame, "tx")

		for off := uint32(0); off < uint32(len(frame)); {
			sent, err := h.NetTrySend(frame[off:])
			if err != nil {
				h.Printf("netio output: %v", err)
				break
			}
			if sent == 0 {
				h.Yield()
				continue
			}
			off += sent
		}
	}
}

// logFrame decodes frame as Ethernet for a one-line diagnostic log, the
// kind of "what did we just move" summary a network bridge task logs in
// production; a frame that doesn't parse as Ethernet is logged by length
// alone rather than treated as an error, since garbage on the wire is
// expected, not exceptional.
func logFrame(h *Handle, frame []byte, dir string) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		h.Printf("netio %s: %d bytes (unparsed)", dir, len(frame))
		return
	}
	h.Printf("netio %s: %s -> %s type=%s len=%d", dir, eth.SrcMAC, eth.DstMAC, eth.EthernetType, len(frame))
}
