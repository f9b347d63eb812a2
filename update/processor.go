// Package update implements a default zone.UpdateProcessor on top of
// github.com/miekg/dns's dynamic-update message shape, following RFC
// 2136's class-encoded add/delete-rrset/delete-rr semantics and building
// the zone.Changeset the core's pipeline expects.
package update

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
	"github.com/korsgren/zonecore/zone"
)

// DefaultProcessor implements zone.UpdateProcessor for RFC 2136 dynamic
// updates, minus prerequisite-section processing — prerequisites are a
// client-contract concern layered in front of the zone core and are left
// to the message-handling layer.
type DefaultProcessor struct{}

func (DefaultProcessor) ProcessUpdate(content *zone.Content, packet []byte, newSerial zone.Serial) (*zone.Content, *zone.Changeset, int, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(packet); err != nil {
		return nil, nil, dns.RcodeFormatError, nil
	}
	if len(msg.Question) != 1 {
		return nil, nil, dns.RcodeFormatError, nil
	}
	qname := dns.Fqdn(msg.Question[0].Name)
	if !strings.EqualFold(qname, content.Apex()) {
		return nil, nil, dns.RcodeNotZone, nil
	}

	soaRRset, ok := content.Get(content.Apex(), dns.TypeSOA)
	if !ok {
		return nil, nil, dns.RcodeServerFailure, nil
	}

	newContent := content.Clone()
	cs := &zone.Changeset{SOAFrom: soaRRset}

	for _, rr := range msg.Ns {
		hdr := rr.Header()
		switch hdr.Class {
		case dns.ClassANY:
			// Delete an entire rrset (ttl=0, rdata empty).
			old, existed := content.Get(hdr.Name, hdr.Rrtype)
			if existed {
				cs.Remove = append(cs.Remove, old)
			}
			newContent.Remove(hdr.Name, hdr.Rrtype)
		case dns.ClassNONE:
			// Delete one specific RR.
			old, existed := content.Get(hdr.Name, hdr.Rrtype)
			if existed && containsRR(old.RRs, rr) {
				cs.Remove = append(cs.Remove, codec.RRset{Name: hdr.Name, RRtype: hdr.Rrtype, RRs: []dns.RR{rr}})
			}
			newContent.RemoveRR(rr)
		default:
			newContent.AddRR(rr)
			cs.Add = append(cs.Add, codec.RRset{Name: hdr.Name, RRtype: hdr.Rrtype, RRs: []dns.RR{rr}})
		}
	}

	if len(cs.Remove) == 0 && len(cs.Add) == 0 {
		// NOERROR, nothing to do: the pipeline treats a nil changeset as
		// the no-op outcome.
		return nil, nil, dns.RcodeSuccess, nil
	}

	bumpSerial(newContent, newSerial)
	newSOA, _ := newContent.Get(newContent.Apex(), dns.TypeSOA)
	cs.SOATo = newSOA
	return newContent, cs, dns.RcodeSuccess, nil
}

func bumpSerial(content *zone.Content, newSerial zone.Serial) {
	rrset, ok := content.Get(content.Apex(), dns.TypeSOA)
	if !ok || len(rrset.RRs) != 1 {
		return
	}
	soa, ok := rrset.RRs[0].(*dns.SOA)
	if !ok {
		return
	}
	bumped := dns.Copy(soa).(*dns.SOA)
	bumped.Serial = uint32(newSerial)
	rrset.RRs = []dns.RR{bumped}
	content.Put(rrset)
}

func containsRR(rrs []dns.RR, target dns.RR) bool {
	for _, rr := range rrs {
		if dns.IsDuplicate(rr, target) {
			return true
		}
	}
	return false
}
