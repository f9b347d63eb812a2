package zone

import (
	"github.com/korsgren/zonecore/codec"
)

// Batch is an ordered, possibly-empty sequence of changesets representing
// a contiguous history: batch[i].SOATo == batch[i+1].SOAFrom.
type Batch []*Changeset

// Validate checks the contiguity invariant.
func (b Batch) Validate() error {
	for i := 1; i < len(b); i++ {
		if b[i-1].ToSerial() != b[i].FromSerial() {
			return errorf(JournalRange, "", "Batch.Validate",
				"discontinuity at index %d: %d != %d", i, b[i-1].ToSerial(), b[i].FromSerial())
		}
	}
	return nil
}

// SerializeBatch concatenates each changeset's serialization, in order.
func (b Batch) SerializeBatch(cd codec.Codec) ([]byte, error) {
	var out []byte
	for _, c := range b {
		buf, err := c.Serialize(cd)
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out, nil
}

// DeserializeBatch parses a concatenated stream of changesets. It stops
// cleanly at the end of buf; a truncated trailing changeset is reported as
// JournalRange rather than MalformedData, since on-disk journals legitimately
// hold a partial tail while a write is in flight.
func DeserializeBatch(buf []byte, cd codec.Codec) (Batch, error) {
	var batch Batch
	off := 0
	for off < len(buf) {
		c, n, err := DeserializeChangeset(buf[off:], cd)
		if err != nil {
			if off > 0 {
				// Partial trailing changeset: treat what we have as the
				// full available history rather than failing outright.
				return batch, newError(JournalRange, "", "DeserializeBatch", err)
			}
			return nil, err
		}
		batch = append(batch, c)
		off += n
	}
	return batch, batch.Validate()
}

// Merge folds an entire batch down to a single changeset by repeated
// pairwise application of Merge. The result does not depend on whether
// the fold is left- or right-associated, provided the chain constraint
// holds throughout.
func (b Batch) Merge() (*Changeset, error) {
	if len(b) == 0 {
		return nil, errorf(NoDiff, "", "Batch.Merge", "empty batch")
	}
	acc := b[0]
	for _, next := range b[1:] {
		merged, err := Merge(acc, next)
		if err != nil {
			return nil, err
		}
		acc = merged
	}
	return acc, nil
}
