package keydb

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTSIGKeyRoundTrip(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin("TestTSIGKeyRoundTrip")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	key := TSIGKey{Name: "update.example.com.", Algorithm: "hmac-sha256", Secret: "c2VjcmV0", Comment: "test"}
	if err := tx.PutTSIGKey(key); err != nil {
		t.Fatalf("PutTSIGKey: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := db.LookupTSIGKey("update.example.com.")
	if err != nil {
		t.Fatalf("LookupTSIGKey: %v", err)
	}
	if got.Secret != key.Secret || got.Algorithm != key.Algorithm {
		t.Errorf("got %+v, want %+v", got, key)
	}

	if _, err := db.LookupTSIGKey("missing.example.com."); err == nil {
		t.Error("expected a miss for an unknown key name")
	}
}

func TestActiveDnssecKeyOnlyReturnsActiveState(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin("TestActiveDnssecKey")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.PutDnssecKey(DnssecKey{Zone: "example.com.", State: "retired", KeyID: 1, Algorithm: "ED25519", PrivateKey: "b2xk", KeyRR: "old dnskey"}); err != nil {
		t.Fatalf("PutDnssecKey(retired): %v", err)
	}
	if err := tx.PutDnssecKey(DnssecKey{Zone: "example.com.", State: "active", KeyID: 2, Algorithm: "ED25519", PrivateKey: "bmV3", KeyRR: "new dnskey"}); err != nil {
		t.Fatalf("PutDnssecKey(active): %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := db.ActiveDnssecKey("example.com.")
	if err != nil {
		t.Fatalf("ActiveDnssecKey: %v", err)
	}
	if got.KeyID != 2 || got.PrivateKey != "bmV3" {
		t.Errorf("got key %+v, want the active keyid 2", got)
	}

	if _, err := db.ActiveDnssecKey("unkeyed.example."); err == nil {
		t.Error("expected a miss for a zone with no active key")
	}
}

func TestBeginRejectsSecondTransaction(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin("first")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()

	if _, err := db.Begin("second"); err == nil {
		t.Fatal("expected a second concurrent Begin to fail")
	}
}
