package signer

import (
	"encoding/base64"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/miekg/dns"
)

// KeyPairFromStore rebuilds a KeyPair from its stored form: the base64
// private key material and the DNSKEY RR in presentation format, the
// shape the key database keeps per zone. A 32-byte decode is treated as
// an Ed25519 seed, 64 bytes as the full private key.
func KeyPairFromStore(privKeyB64, keyRRText string) (*KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(privKeyB64)
	if err != nil {
		return nil, fmt.Errorf("signer: decoding private key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("signer: private key is %d bytes, want an Ed25519 seed (%d) or private key (%d)",
			len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	rr, err := dns.NewRR(keyRRText)
	if err != nil {
		return nil, fmt.Errorf("signer: parsing DNSKEY RR: %w", err)
	}
	dnskey, ok := rr.(*dns.DNSKEY)
	if !ok {
		return nil, fmt.Errorf("signer: stored key RR is a %s, want DNSKEY", dns.TypeToString[rr.Header().Rrtype])
	}
	if dnskey.Algorithm != dns.ED25519 {
		return nil, fmt.Errorf("signer: DNSKEY algorithm %s not supported, want ED25519",
			dns.AlgorithmToString[dnskey.Algorithm])
	}

	return &KeyPair{Private: priv, DNSKEY: dnskey}, nil
}
