// Package keydb is the sqlite-backed store of TSIG key references, zone
// ACLs and DNSSEC signing keys, built on a thin Tx wrapper over *sql.Tx so commit/rollback
// failures are always logged even when a caller only checks the error.
package keydb

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Tx wraps a *sql.Tx with one named context string per in-flight
// transaction, logged on commit/rollback error so a failure is never
// silent even when the caller only checks the returned error.
type Tx struct {
	*sql.Tx
	db      *DB
	context string
}

func (tx *Tx) Commit() error {
	err := tx.Tx.Commit()
	tx.db.clearCtx()
	if err != nil {
		log.Printf("keydb: error committing transaction (%s): %v", tx.context, err)
	}
	return err
}

func (tx *Tx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.db.clearCtx()
	if err != nil {
		log.Printf("keydb: error rolling back transaction (%s): %v", tx.context, err)
	}
	return err
}

// DB is the key/ACL store. Exactly one transaction may be open at a time,
// tracked by ctx, rather than relying on database/sql's own pooling to
// paper over concurrent writers.
type DB struct {
	sql *sql.DB
	mu  sync.Mutex
	ctx string
}

// Open opens (creating and migrating if necessary) the key/ACL database
// at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("keydb: empty database path")
	}
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("keydb: sql.Open: %w", err)
	}
	if err := setupTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sql: sqlDB}, nil
}

func setupTables(db *sql.DB) error {
	for name, stmt := range DefaultTables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("keydb: setting up table %s: %w", name, err)
		}
	}
	return nil
}

// Begin opens a transaction under the given context label. It fails if
// another transaction is already open on this DB.
func (db *DB) Begin(context string) (*Tx, error) {
	db.mu.Lock()
	if db.ctx != "" {
		active := db.ctx
		db.mu.Unlock()
		return nil, fmt.Errorf("keydb: transaction already in progress: %s", active)
	}
	db.ctx = context
	db.mu.Unlock()

	tx, err := db.sql.Begin()
	if err != nil {
		db.clearCtx()
		return nil, fmt.Errorf("keydb: begin (%s): %w", context, err)
	}
	return &Tx{Tx: tx, db: db, context: context}, nil
}

func (db *DB) clearCtx() {
	db.mu.Lock()
	db.ctx = ""
	db.mu.Unlock()
}

// Close closes the underlying database handle.
func (db *DB) Close() error { return db.sql.Close() }

// TSIGKey is a named key reference, resolvable by the HandleConfig.TSIGKeyName
// field the zone core's config snapshot carries.
type TSIGKey struct {
	Name      string
	Algorithm string
	Secret    string
	Comment   string
}

// LookupTSIGKey resolves a key by name.
func (db *DB) LookupTSIGKey(name string) (*TSIGKey, error) {
	row := db.sql.QueryRow(`SELECT name, algorithm, secret, comment FROM TSIGKeys WHERE name = ?`, name)
	var k TSIGKey
	if err := row.Scan(&k.Name, &k.Algorithm, &k.Secret, &k.Comment); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("keydb: no TSIG key named %q", name)
		}
		return nil, fmt.Errorf("keydb: LookupTSIGKey(%q): %w", name, err)
	}
	return &k, nil
}

// PutTSIGKey inserts or replaces a key reference, within an existing
// transaction so callers can batch key provisioning with other writes.
func (tx *Tx) PutTSIGKey(k TSIGKey) error {
	_, err := tx.Exec(`INSERT INTO TSIGKeys (name, algorithm, secret, comment) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET algorithm=excluded.algorithm, secret=excluded.secret, comment=excluded.comment`,
		k.Name, k.Algorithm, k.Secret, k.Comment)
	if err != nil {
		log.Printf("keydb: PutTSIGKey(%s): %v", k.Name, err)
	}
	return err
}

// DnssecKey is one zone's signing key as stored in DnssecKeyStore: the
// base64 private key material and the DNSKEY RR in presentation format.
type DnssecKey struct {
	Zone       string
	State      string
	KeyID      int
	Algorithm  string
	PrivateKey string
	KeyRR      string
}

// ActiveDnssecKey returns the active signing key for a zone. At most one
// key per zone is active at a time; retired and published keys stay in
// the store but are never handed to the signer.
func (db *DB) ActiveDnssecKey(zone string) (*DnssecKey, error) {
	row := db.sql.QueryRow(`SELECT zonename, state, keyid, algorithm, privatekey, keyrr FROM DnssecKeyStore WHERE zonename = ? AND state = 'active'`, zone)
	var k DnssecKey
	if err := row.Scan(&k.Zone, &k.State, &k.KeyID, &k.Algorithm, &k.PrivateKey, &k.KeyRR); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("keydb: no active DNSSEC key for zone %q", zone)
		}
		return nil, fmt.Errorf("keydb: ActiveDnssecKey(%q): %w", zone, err)
	}
	return &k, nil
}

// PutDnssecKey inserts or replaces a signing key within an existing
// transaction.
func (tx *Tx) PutDnssecKey(k DnssecKey) error {
	_, err := tx.Exec(`INSERT INTO DnssecKeyStore (zonename, state, keyid, algorithm, privatekey, keyrr) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(zonename, keyid) DO UPDATE SET state=excluded.state, algorithm=excluded.algorithm, privatekey=excluded.privatekey, keyrr=excluded.keyrr`,
		k.Zone, k.State, k.KeyID, k.Algorithm, k.PrivateKey, k.KeyRR)
	if err != nil {
		log.Printf("keydb: PutDnssecKey(%s, %d): %v", k.Zone, k.KeyID, err)
	}
	return err
}

// ACLEntry is a single zone/peer authorization rule, e.g. "allow AXFR from
// this CIDR" or "allow UPDATE from this CIDR".
type ACLEntry struct {
	Zone   string
	CIDR   string
	Action string
}

// ACLEntriesForZone returns every ACL entry recorded for a zone.
func (db *DB) ACLEntriesForZone(zone string) ([]ACLEntry, error) {
	rows, err := db.sql.Query(`SELECT zonename, cidr, action FROM ACLEntries WHERE zonename = ?`, zone)
	if err != nil {
		return nil, fmt.Errorf("keydb: ACLEntriesForZone(%q): %w", zone, err)
	}
	defer rows.Close()

	var out []ACLEntry
	for rows.Next() {
		var e ACLEntry
		if err := rows.Scan(&e.Zone, &e.CIDR, &e.Action); err != nil {
			return nil, fmt.Errorf("keydb: scanning ACL row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutACLEntry inserts or replaces an ACL entry within an existing
// transaction.
func (tx *Tx) PutACLEntry(e ACLEntry) error {
	_, err := tx.Exec(`INSERT INTO ACLEntries (zonename, cidr, action) VALUES (?, ?, ?)
ON CONFLICT(zonename, cidr) DO UPDATE SET action=excluded.action`,
		e.Zone, e.CIDR, e.Action)
	if err != nil {
		log.Printf("keydb: PutACLEntry(%s, %s): %v", e.Zone, e.CIDR, err)
	}
	return err
}
