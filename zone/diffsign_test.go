package zone

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
)

// recordingSigner records which of SignZone/SignChangeset BuildSigningChangeset
// picked, so a test can tell a full resign apart from a partial one without
// inspecting the (opaque, empty) changeset it returns.
type recordingSigner struct {
	sawSignZone      bool
	sawSignChangeset bool
	refreshAt        time.Time
}

func (s *recordingSigner) SignZone(content *Content, policy SignSerialPolicy, newSerial Serial) (*Changeset, time.Time, error) {
	s.sawSignZone = true
	return &Changeset{}, s.refreshAt, nil
}

func (s *recordingSigner) SignChangeset(content *Content, userChangeset *Changeset, policy SignSerialPolicy, newSerial Serial) (*Changeset, time.Time, error) {
	s.sawSignChangeset = true
	return &Changeset{}, s.refreshAt, nil
}

func dnskeyRRset(t *testing.T, keyTag uint16) codec.RRset {
	t.Helper()
	rr := mustRR(t, dnskeyRecord(keyTag))
	return codec.RRset{Name: "example.com.", RRtype: dns.TypeDNSKEY, RRs: []dns.RR{rr}}
}

func dnskeyRecord(keyTag uint16) string {
	// The rdata itself is irrelevant to ApexRRsetEqual; only whole-rrset
	// (in)equality matters, so keyTag 1 and 2 select two byte-distinct,
	// otherwise well-formed DNSKEY records. Any other value falls back to
	// the record for 1.
	base := "example.com. 3600 IN DNSKEY 257 3 13 "
	keys := map[uint16]string{
		1: "mdsswUyr3DPW132mOi8V9xESWE8jTo0dxCjjnopKl+GqJxpVXckHAeF+KkxLbxILfDLUT0rAK9iUzy1L53eKGQ==",
		2: "2nfqodEfEtMiUFXBn0XNDmKIcfvN+pU3xJeClOYYAGt4XDbIKgEkj0CcCbMvOD7m2/Y3XBp7cvOhJ4Qg7ATQ0w==",
	}
	rdata, ok := keys[keyTag]
	if !ok {
		rdata = keys[1]
	}
	return base + rdata
}

func TestBuildSigningChangesetFullResignOnApexKeyChange(t *testing.T) {
	oldContent := NewContent("example.com.")
	oldContent.Put(soaRRsetWithSerial(t, 100))
	oldContent.Put(dnskeyRRset(t, 1))

	newContent := oldContent.Clone()
	newContent.Put(dnskeyRRset(t, 2))

	signer := &recordingSigner{refreshAt: time.Now().Add(time.Hour)}
	cs, refreshAt, err := BuildSigningChangeset(signer, oldContent, newContent, nil, 101)
	if err != nil {
		t.Fatalf("BuildSigningChangeset: %v", err)
	}
	if !signer.sawSignZone || signer.sawSignChangeset {
		t.Error("expected an apex DNSKEY change to force a full SignZone, not a partial SignChangeset")
	}
	if cs == nil {
		t.Fatal("expected a non-nil changeset")
	}
	if !refreshAt.Equal(signer.refreshAt) {
		t.Errorf("refreshAt = %v, want %v", refreshAt, signer.refreshAt)
	}
}

func TestBuildSigningChangesetPartialSignWhenApexKeysUnchanged(t *testing.T) {
	oldContent := NewContent("example.com.")
	oldContent.Put(soaRRsetWithSerial(t, 100))
	oldContent.Put(dnskeyRRset(t, 1))

	newContent := oldContent.Clone()
	newContent.Put(aRRset(t, "host.example.com.", "10.0.0.1"))

	userChangeset := &Changeset{
		SOAFrom: soaRRsetWithSerial(t, 100),
		SOATo:   soaRRsetWithSerial(t, 101),
		Add:     []codec.RRset{aRRset(t, "host.example.com.", "10.0.0.1")},
	}

	signer := &recordingSigner{refreshAt: time.Now().Add(time.Hour)}
	if _, _, err := BuildSigningChangeset(signer, oldContent, newContent, userChangeset, 101); err != nil {
		t.Fatalf("BuildSigningChangeset: %v", err)
	}
	if signer.sawSignZone || !signer.sawSignChangeset {
		t.Error("expected unchanged apex DNSKEY/NSEC3PARAM to pick the partial SignChangeset path")
	}
}

func TestNextSerialIncrementPolicyNeverRegresses(t *testing.T) {
	next, regressed := NextSerial(100, SerialIncrement, time.Now())
	if next != 101 {
		t.Errorf("next = %d, want 101", next)
	}
	if regressed {
		t.Error("a plain increment must never be reported as a regression")
	}
}

func TestNextSerialUnixtimePolicyReportsRegression(t *testing.T) {
	// An old serial a bit ahead of the real wall clock (clock skew, or a
	// manual bump) forces the unixtime policy to compute a "next" that is
	// older under RFC1982 ordering, well within the half-range window so
	// it isn't mistaken for a forward wrap.
	now := time.Now()
	old := Serial(uint32(now.Unix()) + 1000)
	next, regressed := NextSerial(old, SerialUnixtime, now)
	if !regressed {
		t.Errorf("expected NextSerial(%d, unixtime, now) to report a regression, got next=%d", old, next)
	}
}
