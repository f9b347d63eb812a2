package zone

import (
	"time"

	"github.com/miekg/dns"
)

// SignSerialPolicy is the signer contract's own serial policy axis:
// whether the signer should keep the serial it is handed (KEEP) or adopt
// a newly computed one (UPDATE). Distinct from SerialPolicy, which picks
// how that new serial is computed in the first place.
type SignSerialPolicy uint8

const (
	SignKeep SignSerialPolicy = iota
	SignUpdate
)

// Signer is the external DNSSEC signer contract consumed by the diff/sign
// glue. The core never looks inside a signature; it only asks for one and
// merges the resulting changeset.
type Signer interface {
	// SignZone re-signs every record-set in content, writing signatures
	// into content in place and returning a changeset capturing exactly
	// what it changed, plus the next refresh_at.
	SignZone(content *Content, policy SignSerialPolicy, newSerial Serial) (changesetOut *Changeset, refreshAt time.Time, err error)

	// SignChangeset signs only the record-sets touched by userChangeset.
	SignChangeset(content *Content, userChangeset *Changeset, policy SignSerialPolicy, newSerial Serial) (changesetOut *Changeset, refreshAt time.Time, err error)
}

// TSIGResult enumerates the verifier contract's outcomes.
type TSIGResult uint8

const (
	TSIGOk TSIGResult = iota
	TSIGBadkey
	TSIGBadsig
	TSIGBadtime
	TSIGMalformed
)

var tsigResultToString = map[TSIGResult]string{
	TSIGOk:        "ok",
	TSIGBadkey:    "badkey",
	TSIGBadsig:    "badsig",
	TSIGBadtime:   "badtime",
	TSIGMalformed: "malformed",
}

func (r TSIGResult) String() string {
	if s, ok := tsigResultToString[r]; ok {
		return s
	}
	return "unknown"
}

// TSIGVerifier is the external TSIG verification contract. The update
// pipeline's input is already TSIG-verified by its caller, but the
// contract is specified here for the collaborator that does the
// verifying (typically the message-handling layer in front of the
// pipeline).
type TSIGVerifier interface {
	Verify(query []byte, keyName string) (result TSIGResult, timeSigned time.Time, err error)
}

// UpdateProcessor is the external contract that turns a raw dynamic-update
// packet into a new content tree and the changeset describing the
// difference. Wire-format message parsing lives outside the core; this
// is its narrow point of contact.
type UpdateProcessor interface {
	ProcessUpdate(content *Content, packet []byte, newSerial Serial) (newContent *Content, userChangeset *Changeset, rcode int, err error)
}

// NextSerial computes the next SOA serial under policy. It never fails; a
// regression (new <= old under RFC1982) is reported via the bool so the
// caller can log a warning while still proceeding with the computed
// value.
func NextSerial(old Serial, policy SerialPolicy, now time.Time) (next Serial, regressed bool) {
	switch policy {
	case SerialUnixtime:
		next = Serial(uint32(now.Unix()))
	default:
		next = old.Increment()
	}
	regressed = !old.Less(next)
	return next, regressed
}

// BuildSigningChangeset decides between a full zone resign and a partial
// sign-the-update pass by comparing the apex DNSKEY and NSEC3PARAM
// record-sets of the old and new content trees for whole-rrset equality.
// A nil signer means DNSSEC is disabled for this zone; callers skip
// signing entirely in that case rather than calling this function.
func BuildSigningChangeset(signer Signer, oldContent, newContent *Content, userChangeset *Changeset, newSerial Serial) (*Changeset, time.Time, error) {
	apexKeysChanged := !ApexRRsetEqual(oldContent, newContent, dns.TypeDNSKEY) ||
		!ApexRRsetEqual(oldContent, newContent, dns.TypeNSEC3PARAM)

	if apexKeysChanged {
		cs, refreshAt, err := signer.SignZone(newContent, SignUpdate, newSerial)
		if err != nil {
			return nil, time.Time{}, newError(Fatal, newContent.Apex(), "BuildSigningChangeset(SignZone)", err)
		}
		return cs, refreshAt, nil
	}

	cs, refreshAt, err := signer.SignChangeset(newContent, userChangeset, SignUpdate, newSerial)
	if err != nil {
		return nil, time.Time{}, newError(Fatal, newContent.Apex(), "BuildSigningChangeset(SignChangeset)", err)
	}
	return cs, refreshAt, nil
}
