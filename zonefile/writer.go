// Package zonefile implements the external zonefile-dump contract:
// standard DNS master-file text, one RR per line, relying entirely on
// github.com/miekg/dns's own RR.String() formatting rather than a
// hand-rolled text serializer.
package zonefile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
	"github.com/korsgren/zonecore/zone"
)

// TextWriter implements zone.ZonefileWriter.
type TextWriter struct{}

func (TextWriter) DumpZone(content *zone.Content, w io.Writer) error {
	bw := bufio.NewWriter(w)

	rrsets := content.AllRRsets()

	// Apex SOA first by convention; everything else follows in whatever
	// order AllRRsets returns it. Standard master-file text has no
	// canonical ordering requirement beyond that.
	for _, rrset := range rrsets {
		if rrset.RRtype != dns.TypeSOA {
			continue
		}
		if err := writeRRset(bw, rrset); err != nil {
			return err
		}
	}
	for _, rrset := range rrsets {
		if rrset.RRtype == dns.TypeSOA {
			continue
		}
		if err := writeRRset(bw, rrset); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRRset(w *bufio.Writer, rrset codec.RRset) error {
	for _, rr := range rrset.RRs {
		if _, err := fmt.Fprintln(w, rr.String()); err != nil {
			return err
		}
	}
	for _, rr := range rrset.RRSIGs {
		if _, err := fmt.Fprintln(w, rr.String()); err != nil {
			return err
		}
	}
	return nil
}
