package zone

import (
	"time"

	"github.com/korsgren/zonecore/codec"
)

// Resign is the standalone DNSSEC resign timer handler: on fire, it signs
// the zone, and returns the refresh_at the caller should use to
// reschedule itself. Unlike the update pipeline's BuildSigningChangeset
// (which signs a not-yet-published clone on its way to being swapped
// in), this path has no clone already in flight, so it must build one
// itself — signing the live tree in place and re-publishing the same
// pointer would mutate published content after the fact. Mirrors
// BumpSerial's shape: clone, mutate the clone, journal if the signer
// produced a changeset that actually moved the serial, then swap.
func Resign(h *Handle, signer Signer, cd codec.Codec) (time.Time, error) {
	h.Lock()
	defer h.Unlock()

	if h.Options&OptFrozen != 0 {
		return time.Time{}, errorf(Busy, h.Name, "Resign", "zone is frozen")
	}

	live := h.Content()
	if live.IsStub() {
		return time.Time{}, errorf(NotAuthoritative, h.Name, "Resign", "zone has no content to sign")
	}

	newContent := live.Clone()
	cs, refreshAt, err := signer.SignZone(newContent, SignKeep, live.Serial())
	if err != nil {
		return time.Time{}, newError(Fatal, h.Name, "Resign(SignZone)", err)
	}

	if cs != nil && cs.ToSerial() != cs.FromSerial() {
		if err := storeChangeset(h, cs, cd); err != nil {
			return time.Time{}, err
		}
	}

	h.Swap(newContent, nil)
	return refreshAt, nil
}
