package zone

import (
	"time"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
)

// BumpSerial forces a new SOA serial onto a zone with no other content
// change, journaled and swapped the same way an update pipeline run is,
// letting an operator drive a notify/resign cycle without a real dynamic
// update. It is BumpSerial's caller's job to hold nothing else against h;
// BumpSerial takes h.mu itself.
func BumpSerial(h *Handle, cd codec.Codec) (Serial, error) {
	h.Lock()
	defer h.Unlock()

	if h.Options&OptFrozen != 0 {
		return 0, errorf(Busy, h.Name, "BumpSerial", "zone is frozen")
	}

	old := h.Content()
	soaFromRRset, ok := old.Get(old.Apex(), dns.TypeSOA)
	if !ok {
		return 0, errorf(MalformedData, h.Name, "BumpSerial", "zone has no apex SOA")
	}

	newSerial, regressed := NextSerial(old.Serial(), h.Config.SerialPolicy, time.Now())
	_ = regressed // BumpSerial is an explicit operator action; a regression warning doesn't apply here

	newContent := old.Clone()
	soa, ok := soaFromRRset.RRs[0].(*dns.SOA)
	if !ok {
		return 0, errorf(MalformedData, h.Name, "BumpSerial", "apex SOA RRset malformed")
	}
	bumped := dns.Copy(soa).(*dns.SOA)
	bumped.Serial = uint32(newSerial)
	soaToRRset := codec.RRset{Name: soaFromRRset.Name, RRtype: dns.TypeSOA, RRs: []dns.RR{bumped}}
	newContent.Put(soaToRRset)

	cs := &Changeset{SOAFrom: soaFromRRset, SOATo: soaToRRset}
	if err := storeChangeset(h, cs, cd); err != nil {
		return 0, err
	}

	h.Swap(newContent, nil)
	return newSerial, nil
}
