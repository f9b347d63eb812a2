package zone

import (
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
)

// ChangesetFlag marks properties of a Changeset that survive serialization.
type ChangesetFlag uint32

const (
	ChangesetSigned ChangesetFlag = 1 << iota
	ChangesetFullResign
)

// Changeset is a single (SOA_from -> SOA_to) difference. SOAFrom.serial
// must equal the live serial at the time the changeset was built;
// SOATo.serial is produced by the configured SerialPolicy.
type Changeset struct {
	Flags   ChangesetFlag
	SOAFrom codec.RRset
	Remove  []codec.RRset
	SOATo   codec.RRset
	Add     []codec.RRset
}

// FromSerial and ToSerial read the serial out of the embedded SOA RRs.
// They panic if SOAFrom/SOATo don't carry exactly one SOA RR, which would
// mean the changeset was built incorrectly — a programmer error, not a
// runtime condition callers should branch on.
func (c *Changeset) FromSerial() Serial { return soaSerial(c.SOAFrom) }
func (c *Changeset) ToSerial() Serial   { return soaSerial(c.SOATo) }

func soaSerial(rrset codec.RRset) Serial {
	if len(rrset.RRs) != 1 {
		panic(fmt.Sprintf("changeset: expected exactly one SOA RR, got %d", len(rrset.RRs)))
	}
	soa, ok := rrset.RRs[0].(*dns.SOA)
	if !ok {
		panic("changeset: RRset is not a SOA")
	}
	return Serial(soa.Serial)
}

func soaRRset(soa *dns.SOA) codec.RRset {
	return codec.RRset{Name: soa.Header().Name, RRtype: dns.TypeSOA, RRs: []dns.RR{soa}}
}

// Serialize writes the changeset in a fixed order: flags word, SOA_from,
// remove list, SOA_to (delimiter), add list.
func (c *Changeset) Serialize(cd codec.Codec) ([]byte, error) {
	var out []byte
	var flagsBuf [4]byte
	binary.BigEndian.PutUint32(flagsBuf[:], uint32(c.Flags))
	out = append(out, flagsBuf[:]...)

	writeRRset := func(rrset codec.RRset) error {
		b, err := cd.Serialize(rrset)
		if err != nil {
			return err
		}
		out = append(out, b...)
		return nil
	}

	if err := writeRRset(c.SOAFrom); err != nil {
		return nil, newError(MalformedData, "", "Changeset.Serialize(SOAFrom)", err)
	}
	for _, rrset := range c.Remove {
		if err := writeRRset(rrset); err != nil {
			return nil, newError(MalformedData, "", "Changeset.Serialize(remove)", err)
		}
	}
	if err := writeRRset(c.SOATo); err != nil {
		return nil, newError(MalformedData, "", "Changeset.Serialize(SOATo)", err)
	}
	for _, rrset := range c.Add {
		if err := writeRRset(rrset); err != nil {
			return nil, newError(MalformedData, "", "Changeset.Serialize(add)", err)
		}
	}
	return out, nil
}

// DeserializeChangeset parses one changeset out of buf, starting at
// offset 0, and returns the number of bytes consumed. A changeset's add
// list ends either at the end of buf, or where the next changeset in the
// batch begins (its flags word followed by its SOA_from); that changeset
// is left unconsumed.
func DeserializeChangeset(buf []byte, cd codec.Codec) (*Changeset, int, error) {
	if len(buf) < 4 {
		return nil, 0, newError(MalformedData, "", "DeserializeChangeset", fmt.Errorf("buffer too short for flags word"))
	}
	c := &Changeset{Flags: ChangesetFlag(binary.BigEndian.Uint32(buf))}
	off := 4

	soaFrom, n, err := cd.Deserialize(buf[off:])
	if err != nil {
		return nil, 0, newError(MalformedData, "", "DeserializeChangeset(SOAFrom)", err)
	}
	if soaFrom.RRtype != dns.TypeSOA {
		return nil, 0, newError(MalformedData, "", "DeserializeChangeset", fmt.Errorf("expected SOA_from, got rrtype %d", soaFrom.RRtype))
	}
	c.SOAFrom = soaFrom
	off += n

	sawSOATo := false
	for off < len(buf) {
		if sawSOATo && len(buf)-off > 4 {
			// The next changeset starts with a flags word and then its
			// SOA_from: seeing that shape ends this changeset's add list.
			if next, _, perr := cd.Deserialize(buf[off+4:]); perr == nil && next.RRtype == dns.TypeSOA {
				break
			}
		}
		rrset, n, err := cd.Deserialize(buf[off:])
		if err != nil {
			return nil, 0, newError(MalformedData, "", "DeserializeChangeset(body)", err)
		}
		if n == 0 {
			break
		}
		if rrset.RRtype == dns.TypeSOA {
			if !sawSOATo {
				c.SOATo = rrset
				sawSOATo = true
				off += n
				continue
			}
			// Third SOA: start of the next changeset in the batch. Stop
			// here without consuming it.
			break
		}
		if !sawSOATo {
			c.Remove = append(c.Remove, rrset)
		} else {
			c.Add = append(c.Add, rrset)
		}
		off += n
	}

	if !sawSOATo {
		return nil, 0, newError(MalformedData, "", "DeserializeChangeset", fmt.Errorf("missing SOA_to delimiter"))
	}
	return c, off, nil
}

// Merge folds B into A where A.SOATo.serial must equal B.SOAFrom.serial:
// remove/add lists are concatenated (not compacted — a later apply of
// remove-then-add of the same record must still be a no-op), SOATo is
// replaced by B's, and flags are OR'd together. Merge deep-clones the
// record-sets it takes ownership of so that A and B can be discarded
// independently afterwards.
func Merge(a, b *Changeset) (*Changeset, error) {
	if a.ToSerial() != b.FromSerial() {
		return nil, errorf(InvalidArgument, "", "Merge", "chain break: A.to=%d B.from=%d", a.ToSerial(), b.FromSerial())
	}
	merged := &Changeset{
		Flags:   a.Flags | b.Flags,
		SOAFrom: cloneRRset(a.SOAFrom),
		SOATo:   cloneRRset(b.SOATo),
	}
	merged.Remove = append(merged.Remove, cloneRRsets(a.Remove)...)
	merged.Remove = append(merged.Remove, cloneRRsets(b.Remove)...)
	merged.Add = append(merged.Add, cloneRRsets(a.Add)...)
	merged.Add = append(merged.Add, cloneRRsets(b.Add)...)
	return merged, nil
}

func cloneRRset(rrset codec.RRset) codec.RRset {
	out := codec.RRset{Name: rrset.Name, RRtype: rrset.RRtype}
	for _, rr := range rrset.RRs {
		out.RRs = append(out.RRs, dns.Copy(rr))
	}
	for _, rr := range rrset.RRSIGs {
		out.RRSIGs = append(out.RRSIGs, dns.Copy(rr))
	}
	return out
}

func cloneRRsets(in []codec.RRset) []codec.RRset {
	out := make([]codec.RRset, len(in))
	for i, rrset := range in {
		out[i] = cloneRRset(rrset)
	}
	return out
}
