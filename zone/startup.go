package zone

import (
	"github.com/korsgren/zonecore/codec"
)

// LoadChangesets is the startup journal replay: after content has been
// loaded from the zonefile (serial S0), walk the journal for every entry
// whose from-serial chains starting at S0, deserialize and merge them,
// and swap in the resulting tree. A discontinuous or malformed entry ends
// the catch-up at the last contiguous point — the zone is simply behind,
// and REFRESH will catch it up the rest of the way — reported as a
// JournalRange error rather than aborting what was already recovered.
func LoadChangesets(h *Handle, cd codec.Codec) error {
	h.Lock()
	defer h.Unlock()

	content := h.Content()
	s0 := content.Serial()

	cursor, err := h.Journal.Fetch(ByFrom(s0))
	if err != nil {
		return err
	}

	var batch Batch
	expectedFrom := s0
	incomplete := false

	for !cursor.End() {
		from, to := UnpackKey(cursor.Key())
		if from != expectedFrom {
			incomplete = true
			break
		}
		cs, _, derr := DeserializeChangeset(cursor.Payload(), cd)
		if derr != nil {
			incomplete = true
			break
		}
		batch = append(batch, cs)
		expectedFrom = to
		cursor.Next()
	}

	if len(batch) == 0 {
		return nil
	}

	merged, err := batch.Merge()
	if err != nil {
		return err
	}
	newContent, err := content.ApplyChangeset(merged)
	if err != nil {
		return err
	}
	h.Swap(newContent, nil)

	if incomplete {
		return errorf(JournalRange, h.Name, "LoadChangesets",
			"partial history applied: reached serial %d, journal chain broke or was malformed past that point", expectedFrom)
	}
	return nil
}
