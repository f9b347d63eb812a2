// Package codec turns record-set bytes into dns.RR values and back. The
// zone core treats record-set bytes as opaque and asks this package to do
// the wire-level work, built on github.com/miekg/dns's RR packer instead
// of a hand-rolled parser.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"
)

// RRset is the wire-agnostic record-set the core operates on: a name, a
// type, and the RRs themselves (RRSIGs travel alongside, never folded in).
type RRset struct {
	Name   string
	RRtype uint16
	RRs    []dns.RR
	RRSIGs []dns.RR
}

// Codec is the external record codec contract consumed by the core.
type Codec interface {
	Serialize(rrset RRset) ([]byte, error)
	Deserialize(buf []byte) (rrset RRset, consumed int, err error)
	BinarySize(rrset RRset) int
}

// DNSCodec implements Codec on top of github.com/miekg/dns's RR packer.
// Wire format per record-set: uint16 rr-count, then for each RR a
// uint16 length prefix followed by dns.PackRR's output.
type DNSCodec struct{}

func (DNSCodec) Serialize(rrset RRset) ([]byte, error) {
	buf := make([]byte, 2, rrset.estimateSize())
	binary.BigEndian.PutUint16(buf, uint16(len(rrset.RRs)))

	for _, rr := range rrset.RRs {
		wire := make([]byte, dns.Len(rr)+1)
		off, err := dns.PackRR(rr, wire, 0, nil, false)
		if err != nil {
			return nil, fmt.Errorf("codec: PackRR(%s): %w", rr.Header().Name, err)
		}
		var lenPrefix [2]byte
		binary.BigEndian.PutUint16(lenPrefix[:], uint16(off))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, wire[:off]...)
	}
	return buf, nil
}

func (RRset) estimateSize() int { return 64 }

func (DNSCodec) Deserialize(buf []byte) (RRset, int, error) {
	var rrset RRset
	if len(buf) < 2 {
		return rrset, 0, fmt.Errorf("codec: short buffer for rrset header")
	}
	count := binary.BigEndian.Uint16(buf)
	off := 2

	for i := 0; i < int(count); i++ {
		if len(buf) < off+2 {
			return rrset, 0, fmt.Errorf("codec: short buffer for rr length prefix")
		}
		rrlen := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		if len(buf) < off+rrlen {
			return rrset, 0, fmt.Errorf("codec: short buffer for rr body")
		}
		rr, rrOff, err := dns.UnpackRR(buf[off:off+rrlen], 0)
		if err != nil {
			return rrset, 0, fmt.Errorf("codec: UnpackRR: %w", err)
		}
		_ = rrOff
		rrset.RRs = append(rrset.RRs, rr)
		off += rrlen
	}
	if len(rrset.RRs) > 0 {
		rrset.Name = rrset.RRs[0].Header().Name
		rrset.RRtype = rrset.RRs[0].Header().Rrtype
	}
	return rrset, off, nil
}

func (c DNSCodec) BinarySize(rrset RRset) int {
	buf, err := c.Serialize(rrset)
	if err != nil {
		return 0
	}
	return len(buf)
}
