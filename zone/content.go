package zone

import (
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
)

// node is one owner name's record-sets, indexed by rrtype, keyed into a
// cmap.ConcurrentMap by owner name; each value fans out further by
// rrtype since a single name commonly carries several record-sets.
type node struct {
	name   string
	rrsets map[uint16]codec.RRset
}

func newNode(name string) *node {
	return &node{name: name, rrsets: make(map[uint16]codec.RRset)}
}

// Content is the immutable-once-published tree: built by a full load or
// by cloning an existing tree and patching it under a changeset, never
// mutated after publication. Freeing a whole retired tree needs no manual
// arena management: dropping the last reference to its nodes map lets
// Go's GC reclaim every node in one step.
type Content struct {
	apex  string
	nodes cmap.ConcurrentMap[string, *node]
}

// NewContent returns an empty content tree for the given apex owner name.
func NewContent(apex string) *Content {
	return &Content{apex: apex, nodes: cmap.New[*node]()}
}

// Apex returns the zone's apex owner name.
func (c *Content) Apex() string { return c.apex }

// Put inserts or replaces a record-set under its owner name and type.
func (c *Content) Put(rrset codec.RRset) {
	n, _ := c.nodes.Get(rrset.Name)
	if n == nil {
		n = newNode(rrset.Name)
	} else {
		// Content is never mutated after publication; a Put during tree
		// construction works on a private node copy so concurrent
		// readers of an already-published sibling tree are unaffected.
		cp := newNode(n.name)
		for k, v := range n.rrsets {
			cp.rrsets[k] = v
		}
		n = cp
	}
	n.rrsets[rrset.RRtype] = rrset
	c.nodes.Set(rrset.Name, n)
}

// Remove deletes a record-set by owner name and type. A no-op if absent,
// so remove-then-add of the same record stays idempotent under merge
// replay.
func (c *Content) Remove(name string, rrtype uint16) {
	n, ok := c.nodes.Get(name)
	if !ok {
		return
	}
	if _, present := n.rrsets[rrtype]; !present {
		return
	}
	cp := newNode(n.name)
	for k, v := range n.rrsets {
		if k != rrtype {
			cp.rrsets[k] = v
		}
	}
	if len(cp.rrsets) == 0 {
		c.nodes.Remove(name)
		return
	}
	c.nodes.Set(name, cp)
}

// AddRR appends a single RR to the record-set at its owner name/type,
// replacing any existing RR with identical rdata (RFC2136-style add
// semantics, used by the default update processor).
func (c *Content) AddRR(rr dns.RR) {
	name := rr.Header().Name
	rrtype := rr.Header().Rrtype
	existing, _ := c.Get(name, rrtype)
	out := codec.RRset{Name: name, RRtype: rrtype}
	replaced := false
	for _, old := range existing.RRs {
		if dns.IsDuplicate(old, rr) {
			out.RRs = append(out.RRs, rr)
			replaced = true
		} else {
			out.RRs = append(out.RRs, old)
		}
	}
	if !replaced {
		out.RRs = append(out.RRs, rr)
	}
	c.Put(out)
}

// RemoveRR deletes a single RR matching rr's rdata from its record-set
// (RFC2136 class-NONE delete semantics). A no-op if no such RR exists.
func (c *Content) RemoveRR(rr dns.RR) {
	name := rr.Header().Name
	rrtype := rr.Header().Rrtype
	existing, ok := c.Get(name, rrtype)
	if !ok {
		return
	}
	out := codec.RRset{Name: name, RRtype: rrtype}
	for _, old := range existing.RRs {
		if !dns.IsDuplicate(old, rr) {
			out.RRs = append(out.RRs, old)
		}
	}
	if len(out.RRs) == 0 {
		c.Remove(name, rrtype)
		return
	}
	c.Put(out)
}

// Get returns the record-set for name/rrtype, if present.
func (c *Content) Get(name string, rrtype uint16) (codec.RRset, bool) {
	n, ok := c.nodes.Get(name)
	if !ok {
		return codec.RRset{}, false
	}
	rrset, ok := n.rrsets[rrtype]
	return rrset, ok
}

// SOA returns the apex SOA record, or nil if the tree is a stub.
func (c *Content) SOA() *dns.SOA {
	rrset, ok := c.Get(c.apex, dns.TypeSOA)
	if !ok || len(rrset.RRs) != 1 {
		return nil
	}
	soa, _ := rrset.RRs[0].(*dns.SOA)
	return soa
}

// Serial returns the apex SOA's serial, or 0 for a stub tree.
func (c *Content) Serial() Serial {
	if soa := c.SOA(); soa != nil {
		return Serial(soa.Serial)
	}
	return 0
}

// IsStub reports whether the tree carries no apex SOA yet — the
// bootstrapping condition the REFRESH handler checks before choosing
// between an AXFR and an incremental SOA probe.
func (c *Content) IsStub() bool { return c.SOA() == nil }

// Clone produces a new tree sharing no mutable state with c: a fresh node
// map populated by copying each node's rrset map. RRs themselves are
// immutable dns.RR values once built, so they are shared by reference;
// only the maps that index them are duplicated.
func (c *Content) Clone() *Content {
	out := NewContent(c.apex)
	for t := range c.nodes.IterBuffered() {
		cp := newNode(t.Val.name)
		for k, v := range t.Val.rrsets {
			cp.rrsets[k] = v
		}
		out.nodes.Set(t.Key, cp)
	}
	return out
}

// LoadContent builds a fresh tree from a flat list of record-sets, as
// produced by a full zonefile parse or an AXFR response.
func LoadContent(apex string, rrsets []codec.RRset) (*Content, error) {
	c := NewContent(apex)
	for _, rrset := range rrsets {
		c.Put(rrset)
	}
	if c.SOA() == nil {
		return nil, errorf(MalformedData, apex, "LoadContent", "no apex SOA in loaded record-sets")
	}
	return c, nil
}

// ApplyChangeset clones c and applies cs's remove list then add list,
// producing the new tree the update pipeline publishes. c itself is left
// untouched: it may still be the live, published tree.
func (c *Content) ApplyChangeset(cs *Changeset) (*Content, error) {
	if cs.FromSerial() != c.Serial() && !c.IsStub() {
		return nil, errorf(SerialRegression, c.apex, "ApplyChangeset",
			"changeset from=%d does not match live serial=%d", cs.FromSerial(), c.Serial())
	}
	out := c.Clone()
	for _, rrset := range cs.Remove {
		out.Remove(rrset.Name, rrset.RRtype)
	}
	for _, rrset := range cs.Add {
		out.Put(rrset)
	}
	out.Put(cs.SOATo)
	return out, nil
}

// ApexRRsetEqual compares name/rrtype record-sets at the apex of two
// trees for whole-rrset equality, used to decide whether a DNSKEY or
// NSEC3PARAM change forces a full zone resign.
func ApexRRsetEqual(oldC, newC *Content, rrtype uint16) bool {
	oldRRset, oldOK := oldC.Get(oldC.apex, rrtype)
	newRRset, newOK := newC.Get(newC.apex, rrtype)
	if oldOK != newOK {
		return false
	}
	if !oldOK {
		return true
	}
	if len(oldRRset.RRs) != len(newRRset.RRs) {
		return false
	}
	seen := make(map[string]int, len(oldRRset.RRs))
	for _, rr := range oldRRset.RRs {
		seen[rr.String()]++
	}
	for _, rr := range newRRset.RRs {
		seen[rr.String()]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}

// AllRRsets returns every record-set in the tree, in no particular order.
// Used by the zonefile dumper and the default signer to walk the whole
// tree without reaching into package-private node storage.
func (c *Content) AllRRsets() []codec.RRset {
	out := make([]codec.RRset, 0, c.nodes.Count())
	for t := range c.nodes.IterBuffered() {
		for _, rrset := range t.Val.rrsets {
			out = append(out, rrset)
		}
	}
	return out
}

func (c *Content) String() string {
	return fmt.Sprintf("Content(apex=%s serial=%d nodes=%d)", c.apex, c.Serial(), c.nodes.Count())
}
