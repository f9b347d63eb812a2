package zone

import (
	"testing"

	"github.com/miekg/dns"
)

func TestContentPutGetRemove(t *testing.T) {
	c := NewContent("example.com.")
	c.Put(aRRset(t, "host.example.com.", "10.0.0.1"))

	got, ok := c.Get("host.example.com.", dns.TypeA)
	if !ok || len(got.RRs) != 1 {
		t.Fatal("expected Put record-set to be retrievable")
	}

	c.Remove("host.example.com.", dns.TypeA)
	if _, ok := c.Get("host.example.com.", dns.TypeA); ok {
		t.Error("expected Remove to delete the record-set")
	}
}

func TestContentRemoveAbsentIsNoop(t *testing.T) {
	c := NewContent("example.com.")
	c.Remove("nothing.example.com.", dns.TypeA)
}

func TestContentCloneIsIndependent(t *testing.T) {
	c := NewContent("example.com.")
	c.Put(aRRset(t, "host.example.com.", "10.0.0.1"))

	clone := c.Clone()
	clone.Put(aRRset(t, "other.example.com.", "10.0.0.2"))

	if _, ok := c.Get("other.example.com.", dns.TypeA); ok {
		t.Error("mutating the clone leaked back into the original tree")
	}
	if _, ok := clone.Get("host.example.com.", dns.TypeA); !ok {
		t.Error("clone should still carry the original's record-sets")
	}
}

func TestContentSOAAndSerial(t *testing.T) {
	c := NewContent("example.com.")
	if !c.IsStub() {
		t.Fatal("empty content should be a stub")
	}
	c.Put(soaRRsetWithSerial(t, 42))
	if c.IsStub() {
		t.Error("content with an apex SOA should not be a stub")
	}
	if c.Serial() != 42 {
		t.Errorf("Serial() = %d, want 42", c.Serial())
	}
}

func TestContentApplyChangesetRejectsSerialMismatch(t *testing.T) {
	c := NewContent("example.com.")
	c.Put(soaRRsetWithSerial(t, 10))

	cs := &Changeset{SOAFrom: soaRRsetWithSerial(t, 99), SOATo: soaRRsetWithSerial(t, 100)}
	if _, err := c.ApplyChangeset(cs); err == nil {
		t.Fatal("expected ApplyChangeset to reject a mismatched from-serial")
	} else if !Is(err, SerialRegression) {
		t.Errorf("expected SerialRegression, got %v", err)
	}
}

func TestContentApplyChangesetAddsAndRemoves(t *testing.T) {
	c := NewContent("example.com.")
	c.Put(soaRRsetWithSerial(t, 10))
	c.Put(aRRset(t, "old.example.com.", "10.0.0.1"))

	cs2 := &Changeset{
		SOAFrom: soaRRsetWithSerial(t, 10),
		SOATo:   soaRRsetWithSerial(t, 11),
	}
	cs2.Remove = append(cs2.Remove, aRRset(t, "old.example.com.", "10.0.0.1"))
	cs2.Add = append(cs2.Add, aRRset(t, "new.example.com.", "10.0.0.2"))

	next, err := c.ApplyChangeset(cs2)
	if err != nil {
		t.Fatalf("ApplyChangeset: %v", err)
	}
	if _, ok := next.Get("old.example.com.", dns.TypeA); ok {
		t.Error("expected removed record-set to be gone in the new tree")
	}
	if _, ok := next.Get("new.example.com.", dns.TypeA); !ok {
		t.Error("expected added record-set to be present in the new tree")
	}
	if next.Serial() != 11 {
		t.Errorf("Serial() = %d, want 11", next.Serial())
	}
	// c itself must be untouched: it may still be the published tree.
	if _, ok := c.Get("new.example.com.", dns.TypeA); ok {
		t.Error("ApplyChangeset mutated the receiver instead of producing a new tree")
	}
}

func TestContentAddRRReplacesMatchingRdata(t *testing.T) {
	c := NewContent("example.com.")
	c.AddRR(mustRR(t, "host.example.com. 3600 IN A 10.0.0.1"))
	c.AddRR(mustRR(t, "host.example.com. 7200 IN A 10.0.0.1"))

	rrset, ok := c.Get("host.example.com.", dns.TypeA)
	if !ok || len(rrset.RRs) != 1 {
		t.Fatalf("expected exactly one A record after re-adding identical rdata, got %d", len(rrset.RRs))
	}
	if rrset.RRs[0].Header().Ttl != 7200 {
		t.Errorf("expected the later TTL to win, got %d", rrset.RRs[0].Header().Ttl)
	}
}

func TestContentRemoveRRDeletesOnlyMatchingRdata(t *testing.T) {
	c := NewContent("example.com.")
	c.AddRR(mustRR(t, "host.example.com. 3600 IN A 10.0.0.1"))
	c.AddRR(mustRR(t, "host.example.com. 3600 IN A 10.0.0.2"))

	c.RemoveRR(mustRR(t, "host.example.com. 3600 IN A 10.0.0.1"))

	rrset, ok := c.Get("host.example.com.", dns.TypeA)
	if !ok || len(rrset.RRs) != 1 {
		t.Fatalf("expected one surviving A record, got %d", len(rrset.RRs))
	}
	if rrset.RRs[0].(*dns.A).A.String() != "10.0.0.2" {
		t.Errorf("removed the wrong record: %v", rrset.RRs[0])
	}
}

func TestApexRRsetEqual(t *testing.T) {
	a := NewContent("example.com.")
	a.Put(soaRRsetWithSerial(t, 1))
	b := NewContent("example.com.")
	b.Put(soaRRsetWithSerial(t, 1))

	if !ApexRRsetEqual(a, b, dns.TypeSOA) {
		t.Error("expected identical apex SOA record-sets to compare equal")
	}

	b.Put(soaRRsetWithSerial(t, 2))
	if ApexRRsetEqual(a, b, dns.TypeSOA) {
		t.Error("expected differing apex SOA record-sets to compare unequal")
	}
}
