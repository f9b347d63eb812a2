package keydb

// DefaultTables holds one raw CREATE-TABLE statement per table, applied
// idempotently at startup: TSIG key references and per-zone ACLs, since
// a zone's own config snapshot only carries a TSIG key *name* and
// something must own the secret material and the associated peer ACLs,
// plus the zones' DNSSEC signing keys.
var DefaultTables = map[string]string{
	"TSIGKeys": `CREATE TABLE IF NOT EXISTS 'TSIGKeys' (
id		INTEGER PRIMARY KEY,
name		TEXT,
algorithm	TEXT,
secret		TEXT,
comment		TEXT,
UNIQUE (name)
)`,

	"ACLEntries": `CREATE TABLE IF NOT EXISTS 'ACLEntries' (
id		INTEGER PRIMARY KEY,
zonename	TEXT,
cidr		TEXT,
action		TEXT,
comment		TEXT,
UNIQUE (zonename, cidr)
)`,

	// DnssecKeyStore holds both halves of each zone's signing key: the
	// private key material and the DNSKEY RR. State follows the usual key
	// lifecycle (created, published, active, retired); only 'active' keys
	// are loaded into the signer at startup.
	"DnssecKeyStore": `CREATE TABLE IF NOT EXISTS 'DnssecKeyStore' (
id		INTEGER PRIMARY KEY,
zonename	TEXT,
state		TEXT,
keyid		INTEGER,
algorithm	TEXT,
privatekey	TEXT,
keyrr		TEXT,
comment		TEXT,
UNIQUE (zonename, keyid)
)`,
}
