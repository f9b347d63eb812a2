package signer

import (
	"time"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/zone"
)

// DNSVerifier implements zone.TSIGVerifier on top of github.com/miekg/dns's
// own TSIG machinery, for use by the message-handling layer in front of
// the update pipeline.
type DNSVerifier struct {
	// Secrets maps key name (fully qualified, as in the message) to its
	// base64-encoded shared secret, the same shape dns.Client.TsigSecret
	// expects.
	Secrets map[string]string
}

// NewDNSVerifier returns a verifier backed by the given key-name -> secret
// map.
func NewDNSVerifier(secrets map[string]string) *DNSVerifier {
	return &DNSVerifier{Secrets: secrets}
}

// Verify reports OK, BADKEY, BADSIG, BADTIME, or MALFORMED, with the
// time-signed extracted from the query when BADTIME so the caller can
// report clock skew.
func (v *DNSVerifier) Verify(query []byte, keyName string) (zone.TSIGResult, time.Time, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil {
		return zone.TSIGMalformed, time.Time{}, err
	}
	if msg.IsTsig() == nil {
		return zone.TSIGBadkey, time.Time{}, nil
	}

	secret, ok := v.Secrets[keyName]
	if !ok {
		return zone.TSIGBadkey, time.Time{}, nil
	}

	err := dns.TsigVerify(query, secret, "", false)
	switch err {
	case nil:
		return zone.TSIGOk, time.Time{}, nil
	case dns.ErrSig:
		return zone.TSIGBadsig, time.Time{}, err
	case dns.ErrTime:
		rr := msg.Extra[len(msg.Extra)-1]
		if tsig, ok := rr.(*dns.TSIG); ok {
			return zone.TSIGBadtime, time.Unix(int64(tsig.TimeSigned), 0), err
		}
		return zone.TSIGBadtime, time.Time{}, err
	case dns.ErrKeyAlg:
		return zone.TSIGBadkey, time.Time{}, err
	default:
		return zone.TSIGMalformed, time.Time{}, err
	}
}
