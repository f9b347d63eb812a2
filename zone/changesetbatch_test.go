package zone

import (
	"testing"

	"github.com/korsgren/zonecore/codec"
)

func chain(t *testing.T, serials ...uint32) Batch {
	t.Helper()
	var b Batch
	for i := 0; i+1 < len(serials); i++ {
		b = append(b, &Changeset{
			SOAFrom: soaRRsetWithSerial(t, serials[i]),
			SOATo:   soaRRsetWithSerial(t, serials[i+1]),
			Add:     []codec.RRset{aRRset(t, "host.example.com.", "10.0.0.1")},
		})
	}
	return b
}

func TestBatchValidateContiguous(t *testing.T) {
	b := chain(t, 100, 101, 102, 103)
	if err := b.Validate(); err != nil {
		t.Errorf("expected a contiguous chain to validate, got %v", err)
	}
}

func TestBatchValidateDiscontinuity(t *testing.T) {
	b := chain(t, 100, 101, 102)
	b = append(b, &Changeset{SOAFrom: soaRRsetWithSerial(t, 200), SOATo: soaRRsetWithSerial(t, 201)})
	if err := b.Validate(); err == nil {
		t.Fatal("expected discontinuity to be rejected")
	} else if !Is(err, JournalRange) {
		t.Errorf("expected JournalRange, got %v", err)
	}
}

func TestBatchSerializeDeserializeRoundTrip(t *testing.T) {
	cd := codec.DNSCodec{}
	b := chain(t, 100, 101, 102, 103)

	buf, err := b.SerializeBatch(cd)
	if err != nil {
		t.Fatalf("SerializeBatch: %v", err)
	}
	got, err := DeserializeBatch(buf, cd)
	if err != nil {
		t.Fatalf("DeserializeBatch: %v", err)
	}
	if len(got) != len(b) {
		t.Fatalf("got %d changesets, want %d", len(got), len(b))
	}
	if got[0].FromSerial() != 100 || got[len(got)-1].ToSerial() != 103 {
		t.Errorf("batch endpoints = (%d,%d), want (100,103)", got[0].FromSerial(), got[len(got)-1].ToSerial())
	}
}

func TestBatchMergeAssociativity(t *testing.T) {
	a := &Changeset{SOAFrom: soaRRsetWithSerial(t, 1), SOATo: soaRRsetWithSerial(t, 2), Add: []codec.RRset{aRRset(t, "a.example.com.", "10.0.0.1")}}
	b := &Changeset{SOAFrom: soaRRsetWithSerial(t, 2), SOATo: soaRRsetWithSerial(t, 3), Add: []codec.RRset{aRRset(t, "b.example.com.", "10.0.0.2")}}
	c := &Changeset{SOAFrom: soaRRsetWithSerial(t, 3), SOATo: soaRRsetWithSerial(t, 4), Add: []codec.RRset{aRRset(t, "c.example.com.", "10.0.0.3")}}

	leftAB, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	leftAssoc, err := Merge(leftAB, c)
	if err != nil {
		t.Fatal(err)
	}

	rightBC, err := Merge(b, c)
	if err != nil {
		t.Fatal(err)
	}
	rightAssoc, err := Merge(a, rightBC)
	if err != nil {
		t.Fatal(err)
	}

	if leftAssoc.FromSerial() != rightAssoc.FromSerial() || leftAssoc.ToSerial() != rightAssoc.ToSerial() {
		t.Errorf("associativity broke on serials: left=(%d,%d) right=(%d,%d)",
			leftAssoc.FromSerial(), leftAssoc.ToSerial(), rightAssoc.FromSerial(), rightAssoc.ToSerial())
	}
	if len(leftAssoc.Add) != len(rightAssoc.Add) {
		t.Errorf("associativity broke on add-list length: left=%d right=%d", len(leftAssoc.Add), len(rightAssoc.Add))
	}
}

func TestBatchMergeEmptyIsNoDiff(t *testing.T) {
	var b Batch
	if _, err := b.Merge(); err == nil {
		t.Fatal("expected empty batch merge to fail")
	} else if !Is(err, NoDiff) {
		t.Errorf("expected NoDiff, got %v", err)
	}
}
