// Package signer provides a default implementation of the core's external
// Signer contract, using github.com/cloudflare/circl for the key material
// and github.com/miekg/dns for RRSIG construction and canonical rdata
// ordering.
package signer

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
	"github.com/korsgren/zonecore/zone"
)

// DefaultTTL and DefaultValidity govern every RRSIG envelope this signer
// produces; there is no per-zone override.
const (
	DefaultTTL      = uint32(3600)
	DefaultValidity = 10 * 24 * time.Hour
)

// KeyPair is the signing key for one zone: a circl Ed25519 private key and
// the DNSKEY record-set it corresponds to.
type KeyPair struct {
	Private ed25519.PrivateKey
	DNSKEY  *dns.DNSKEY
}

// CirclSigner implements zone.Signer. It holds one active key pair per
// zone apex; AddZoneKey installs it (normally done once at zone load from
// the key store, not per-signing-call).
type CirclSigner struct {
	mu    sync.RWMutex
	zones map[string]*KeyPair
}

// NewCirclSigner returns a signer with no keys installed.
func NewCirclSigner() *CirclSigner {
	return &CirclSigner{zones: make(map[string]*KeyPair)}
}

// AddZoneKey installs (or replaces) the signing key for apex.
func (s *CirclSigner) AddZoneKey(apex string, kp *KeyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[apex] = kp
}

func (s *CirclSigner) keyFor(apex string) (*KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.zones[apex]
	if !ok {
		return nil, fmt.Errorf("signer: no key installed for zone %q", apex)
	}
	return kp, nil
}

// SignZone implements a full re-sign: every record-set in content gets a
// fresh RRSIG. It is a deliberately simple default rather than an
// incremental, change-tracking signer; it exists so the core's Signer
// contract has one real, end-to-end implementation to exercise.
func (s *CirclSigner) SignZone(content *zone.Content, policy zone.SignSerialPolicy, newSerial zone.Serial) (*zone.Changeset, time.Time, error) {
	kp, err := s.keyFor(content.Apex())
	if err != nil {
		return nil, time.Time{}, err
	}

	soaFromRRset, ok := content.Get(content.Apex(), dns.TypeSOA)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("signer: zone %q has no apex SOA", content.Apex())
	}
	soaFrom := cloneRRset(soaFromRRset)

	if policy == zone.SignUpdate {
		bumpSOASerial(content, newSerial)
	}

	now := time.Now().UTC()
	inception := uint32(now.Unix())
	expiration := uint32(now.Add(DefaultValidity).Unix())

	var added []codec.RRset
	for _, rrset := range content.AllRRsets() {
		if rrset.RRtype == dns.TypeRRSIG || len(rrset.RRs) == 0 {
			continue
		}
		signed, err := signRRset(kp, rrset, inception, expiration)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("signer: signing %s/%d: %w", rrset.Name, rrset.RRtype, err)
		}
		content.Put(signed)
		added = append(added, signed)
	}

	soaToRRset, _ := content.Get(content.Apex(), dns.TypeSOA)
	cs := &zone.Changeset{
		Flags:   zone.ChangesetSigned | zone.ChangesetFullResign,
		SOAFrom: soaFrom,
		SOATo:   cloneRRset(soaToRRset),
		Add:     added,
	}
	return cs, now.Add(DefaultValidity / 2), nil
}

// SignChangeset signs only the record-sets the update touched (its Add
// list): the partial-resign path, used when the apex DNSKEY/NSEC3PARAM
// set hasn't changed.
func (s *CirclSigner) SignChangeset(content *zone.Content, userChangeset *zone.Changeset, policy zone.SignSerialPolicy, newSerial zone.Serial) (*zone.Changeset, time.Time, error) {
	kp, err := s.keyFor(content.Apex())
	if err != nil {
		return nil, time.Time{}, err
	}

	soaFromRRset, ok := content.Get(content.Apex(), dns.TypeSOA)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("signer: zone %q has no apex SOA", content.Apex())
	}
	soaFrom := cloneRRset(soaFromRRset)

	if policy == zone.SignUpdate {
		bumpSOASerial(content, newSerial)
	}

	now := time.Now().UTC()
	inception := uint32(now.Unix())
	expiration := uint32(now.Add(DefaultValidity).Unix())

	var added []codec.RRset
	for _, rrset := range userChangeset.Add {
		signed, err := signRRset(kp, rrset, inception, expiration)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("signer: signing %s/%d: %w", rrset.Name, rrset.RRtype, err)
		}
		content.Put(signed)
		added = append(added, signed)
	}

	soaToRRset, _ := content.Get(content.Apex(), dns.TypeSOA)
	cs := &zone.Changeset{
		Flags:   zone.ChangesetSigned,
		SOAFrom: soaFrom,
		SOATo:   cloneRRset(soaToRRset),
		Add:     added,
	}
	return cs, now.Add(DefaultValidity / 2), nil
}

func signRRset(kp *KeyPair, rrset codec.RRset, inception, expiration uint32) (codec.RRset, error) {
	sig := &dns.RRSIG{
		Hdr: dns.RR_Header{
			Name:   rrset.Name,
			Rrtype: dns.TypeRRSIG,
			Class:  dns.ClassINET,
			Ttl:    DefaultTTL,
		},
		TypeCovered: rrset.RRtype,
		Algorithm:   dns.ED25519,
		Labels:      uint8(dns.CountLabel(rrset.Name)),
		OrigTtl:     DefaultTTL,
		Expiration:  expiration,
		Inception:   inception,
		KeyTag:      kp.DNSKEY.KeyTag(),
		SignerName:  kp.DNSKEY.Hdr.Name,
	}
	if err := sig.Sign(kp.Private, rrset.RRs); err != nil {
		return codec.RRset{}, err
	}
	out := rrset
	out.RRSIGs = []dns.RR{sig}
	return out, nil
}

func bumpSOASerial(content *zone.Content, newSerial zone.Serial) {
	rrset, ok := content.Get(content.Apex(), dns.TypeSOA)
	if !ok || len(rrset.RRs) != 1 {
		return
	}
	soa, ok := rrset.RRs[0].(*dns.SOA)
	if !ok {
		return
	}
	bumped := dns.Copy(soa).(*dns.SOA)
	bumped.Serial = uint32(newSerial)
	rrset.RRs = []dns.RR{bumped}
	content.Put(rrset)
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
