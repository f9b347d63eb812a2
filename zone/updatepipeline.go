package zone

import (
	"log"
	"time"

	"github.com/korsgren/zonecore/codec"
)

// UpdateResult is returned to the caller of RunUpdatePipeline: the RCODE to
// answer the client with, and — on success — the serial that is now live.
type UpdateResult struct {
	RCode     int
	NewSerial Serial
	NoChange  bool
}

// RunUpdatePipeline runs the end-to-end dynamic-update pipeline: compute
// the next serial, apply the update, sign if DNSSEC is enabled, persist
// to the journal, and swap in the result. packet is already
// TSIG-verified by the caller. flushFn is invoked once if the journal
// reports FULL, giving the pipeline a chance to reclaim space by
// flushing to the zonefile before retrying the store — a flush failure
// here aborts the pipeline rather than proceeding anyway.
func RunUpdatePipeline(h *Handle, packet []byte, proc UpdateProcessor, signer Signer, cd codec.Codec, flushFn func(*Handle) error) (*UpdateResult, error) {
	h.Lock()
	defer h.Unlock()

	if h.Options&OptFrozen != 0 {
		return nil, errorf(Busy, h.Name, "RunUpdatePipeline", "zone is frozen")
	}

	// Step 1: fresh serial, computed against the live content.
	oldContent := h.Content()
	newSerial, regressed := NextSerial(oldContent.Serial(), h.Config.SerialPolicy, time.Now())
	if regressed {
		log.Printf("UPDATE of %q: serial regression, old=%d new=%d, proceeding per policy", h.Name, oldContent.Serial(), newSerial)
	}

	// Step 2: process the update packet against the live content.
	newContent, userChangeset, rcode, err := proc.ProcessUpdate(oldContent, packet, newSerial)
	if err != nil {
		log.Printf("UPDATE of %q: process failed: %v", h.Name, err)
		return &UpdateResult{RCode: rcode}, newError(MalformedData, h.Name, "RunUpdatePipeline(ProcessUpdate)", err)
	}
	if userChangeset == nil {
		// Nothing to apply (NOERROR with no changes, or a refusal RCODE
		// chosen by the processor): no journal entry, no swap.
		return &UpdateResult{RCode: rcode, NewSerial: oldContent.Serial(), NoChange: true}, nil
	}

	// Step 3: sign, full or partial, if DNSSEC is enabled for this zone.
	var signingChangeset *Changeset
	var refreshAt time.Time
	if h.Config.DNSSECEnabled && signer != nil {
		signingChangeset, refreshAt, err = BuildSigningChangeset(signer, oldContent, newContent, userChangeset, newSerial)
		if err != nil {
			log.Printf("DNSSEC: Zone %q - signing failed: %v", h.Name, err)
			return nil, err
		}
	}

	// Step 4: merge user and signing changesets; the signing changeset's
	// SOA_to, if present, becomes authoritative.
	merged := userChangeset
	if signingChangeset != nil {
		merged, err = Merge(userChangeset, signingChangeset)
		if err != nil {
			log.Printf("UPDATE of %q: merge failed: %v", h.Name, err)
			return nil, err
		}
	}

	// Step 5: persist. FULL is recovered once by flushing then retrying.
	if err := storeChangeset(h, merged, cd); err != nil {
		if Is(err, JournalFull) && flushFn != nil {
			if ferr := flushFn(h); ferr != nil {
				log.Printf("UPDATE of %q: flush-on-full failed: %v", h.Name, ferr)
				return nil, newError(Fatal, h.Name, "RunUpdatePipeline(flush-on-full)", ferr)
			}
			if err := storeChangeset(h, merged, cd); err != nil {
				log.Printf("UPDATE of %q: store still failing after flush: %v", h.Name, err)
				return nil, err
			}
		} else {
			log.Printf("UPDATE of %q: journal store failed: %v", h.Name, err)
			return nil, err
		}
	}

	// Step 6: apply the signing changeset on top of new_contents (no-op if
	// there wasn't one).
	finalContent := newContent
	if signingChangeset != nil {
		finalContent, err = newContent.ApplyChangeset(signingChangeset)
		if err != nil {
			log.Printf("UPDATE of %q: applying signing changeset failed: %v", h.Name, err)
			return nil, newError(Fatal, h.Name, "RunUpdatePipeline(apply signing)", err)
		}
	}

	// Step 7: swap. Only now is the update visible to new queries. Any
	// failure past this point is fatal for the update.
	h.Swap(finalContent, nil)

	if h.Config.DNSSECEnabled && !refreshAt.IsZero() {
		log.Printf("DNSSEC: Zone %q - resign scheduled for %s", h.Name, refreshAt)
	}

	return &UpdateResult{RCode: rcode, NewSerial: finalContent.Serial()}, nil
}

// storeChangeset runs one journal transaction: begin, map, unmap(validate),
// commit. On any pre-commit failure it rolls back so the journal is left
// exactly as it was.
func storeChangeset(h *Handle, cs *Changeset, cd codec.Codec) error {
	payload, err := cs.Serialize(cd)
	if err != nil {
		return newError(MalformedData, h.Name, "storeChangeset(Serialize)", err)
	}

	tx, err := h.Journal.BeginTrans()
	if err != nil {
		return err
	}

	region, err := tx.Map(Key(cs.FromSerial(), cs.ToSerial()), payload)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Unmap(region, true); err != nil {
		tx.Rollback()
		return newError(IOError, h.Name, "storeChangeset(Unmap)", err)
	}
	return tx.Commit()
}
