package zone

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.etcd.io/bbolt"
)

// EntryFlag is the per-entry state of a journal entry: VALID once
// committed, TRANS while its owning transaction is still open, and DIRTY
// until a flush has folded it into the on-disk zonefile.
type EntryFlag uint8

const (
	EntryValid EntryFlag = 1 << iota
	EntryTrans
	EntryDirty
)

func (f EntryFlag) String() string {
	var s string
	if f&EntryValid != 0 {
		s += "V"
	}
	if f&EntryTrans != 0 {
		s += "T"
	}
	if f&EntryDirty != 0 {
		s += "D"
	}
	if s == "" {
		return "-"
	}
	return s
}

var journalBucket = []byte("changesets")

// Journal is a persistent, transactional log of serialized changesets
// keyed by the (from,to) pair packed by Key, backed by go.etcd.io/bbolt:
// a single-writer, mmap-backed, crash-safe B+tree, matching the
// map/unmap, begin_trans/commit/rollback, FULL/IO failure-mode shape a
// hand-rolled transactional log would otherwise need to reimplement.
type Journal struct {
	db       *bbolt.DB
	path     string
	maxBytes int64

	mu     sync.Mutex // serializes writers: one journal transaction at a time
	openTx bool

	refs int32
}

// DefaultMaxJournalBytes bounds a single zone's journal before Map starts
// returning JournalFull. Generous enough for normal incremental update
// traffic; operators needing more should flush more often.
const DefaultMaxJournalBytes = 64 * 1024 * 1024

// Open opens (creating if necessary) the journal file at path, capped at
// DefaultMaxJournalBytes.
func Open(path string) (*Journal, error) {
	return OpenWithMaxBytes(path, DefaultMaxJournalBytes)
}

// OpenWithMaxBytes is Open with an explicit capacity, for operators who
// want a tighter per-zone bound than the default.
func OpenWithMaxBytes(path string, maxBytes int64) (*Journal, error) {
	db, err := bbolt.Open(path, 0640, nil)
	if err != nil {
		return nil, newError(IOError, "", "Journal.Open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, newError(IOError, "", "Journal.Open", err)
	}
	return &Journal{db: db, path: path, maxBytes: maxBytes}, nil
}

// Close closes the underlying file. Callers must have released every
// Retain first.
func (j *Journal) Close() error {
	if atomic.LoadInt32(&j.refs) != 0 {
		return errorf(Busy, "", "Journal.Close", "journal %s still retained (refs=%d)", j.path, j.refs)
	}
	return j.db.Close()
}

// Retain pins the journal for a concurrent reader or writer.
func (j *Journal) Retain() { atomic.AddInt32(&j.refs, 1) }

// Release undoes a Retain.
func (j *Journal) Release() { atomic.AddInt32(&j.refs, -1) }

// Transaction is the handle returned by BeginTrans. Map/Unmap/Commit all
// operate within the same underlying *bbolt.Tx so that the whole batch of
// stores is atomic from a reader's point of view: a journal commit always
// happens-before any content swap that depends on it.
type Transaction struct {
	j      *Journal
	tx     *bbolt.Tx
	bucket *bbolt.Bucket
	size   int64
}

// BeginTrans opens a write transaction. It fails with Busy if another
// transaction is already open on this journal.
func (j *Journal) BeginTrans() (*Transaction, error) {
	j.mu.Lock()
	if j.openTx {
		j.mu.Unlock()
		return nil, errorf(Busy, "", "Journal.BeginTrans", "transaction already open on journal %s", j.path)
	}
	j.openTx = true
	j.mu.Unlock()

	tx, err := j.db.Begin(true)
	if err != nil {
		j.mu.Lock()
		j.openTx = false
		j.mu.Unlock()
		return nil, newError(IOError, "", "Journal.BeginTrans", err)
	}
	bucket := tx.Bucket(journalBucket)
	return &Transaction{j: j, tx: tx, bucket: bucket, size: int64(bucket.Stats().LeafInuse)}, nil
}

// Region is the handle returned by Map: the reserved slot a subsequent
// Unmap finalizes.
type Region struct {
	key   uint64
	value []byte
}

// Map reserves space for payload under key within the open transaction.
// It returns JournalFull if writing payload would push the journal past
// its capacity and no non-DIRTY entries are available to reclaim space
// for (callers recover by flushing to the zonefile and retrying).
func (t *Transaction) Map(key uint64, payload []byte) (*Region, error) {
	if t.size+int64(len(payload)) > t.j.maxBytes {
		if !t.j.hasReclaimable(t.tx) {
			return nil, errorf(JournalFull, "", "Transaction.Map", "journal full: size=%d max=%d", t.size, t.j.maxBytes)
		}
		return nil, errorf(JournalFull, "", "Transaction.Map", "journal needs a flush before more room is available")
	}
	value := make([]byte, 1+len(payload))
	value[0] = byte(EntryTrans)
	copy(value[1:], payload)

	var keyBuf [8]byte
	binary.BigEndian.PutUint64(keyBuf[:], key)
	if err := t.bucket.Put(keyBuf[:], value); err != nil {
		return nil, newError(IOError, "", "Transaction.Map", err)
	}
	t.size += int64(len(value))
	return &Region{key: key, value: value}, nil
}

func (j *Journal) hasReclaimable(tx *bbolt.Tx) bool {
	b := tx.Bucket(journalBucket)
	found := false
	_ = b.ForEach(func(k, v []byte) error {
		if len(v) > 0 && EntryFlag(v[0])&EntryDirty == 0 && EntryFlag(v[0])&EntryValid != 0 {
			found = true
		}
		return nil
	})
	return found
}

// Unmap finalizes a previously Map'd region. If validate is true the
// entry becomes VALID (and loses TRANS); otherwise it is removed.
func (t *Transaction) Unmap(region *Region, validate bool) error {
	var keyBuf [8]byte
	binary.BigEndian.PutUint64(keyBuf[:], region.key)

	if !validate {
		return t.bucket.Delete(keyBuf[:])
	}
	value := region.value
	value[0] = byte(EntryValid | EntryDirty)
	return t.bucket.Put(keyBuf[:], value)
}

// Commit finalizes the transaction, durably persisting every mapped
// region, before any content swap that depends on it.
func (t *Transaction) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return newError(IOError, "", "Transaction.Commit", err)
	}
	return nil
}

// Rollback discards the transaction; nothing written under it becomes
// durable.
func (t *Transaction) Rollback() error {
	defer t.release()
	if err := t.tx.Rollback(); err != nil {
		return newError(IOError, "", "Transaction.Rollback", err)
	}
	return nil
}

func (t *Transaction) release() {
	t.j.mu.Lock()
	t.j.openTx = false
	t.j.mu.Unlock()
}

// Cursor walks journal entries matched by a KeyPredicate, in ascending
// key order. End reports the terminal sentinel.
type Cursor struct {
	entries []journalEntry
	idx     int
}

type journalEntry struct {
	key   uint64
	flags EntryFlag
	value []byte
}

// Fetch returns a Cursor positioned at the first entry for which pred
// returns 0, scanning keys in ascending order.
func (j *Journal) Fetch(pred KeyPredicate) (*Cursor, error) {
	var entries []journalEntry
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(journalBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(v) == 0 {
				return nil
			}
			entries = append(entries, journalEntry{
				key:   binary.BigEndian.Uint64(k),
				flags: EntryFlag(v[0]),
				value: append([]byte(nil), v[1:]...),
			})
			return nil
		})
	})
	if err != nil {
		return nil, newError(IOError, "", "Journal.Fetch", err)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].key < entries[k].key })

	idx := len(entries)
	for i, e := range entries {
		if pred(e.key) == 0 {
			idx = i
			break
		}
	}
	return &Cursor{entries: entries, idx: idx}, nil
}

// End reports whether the cursor has run past the last matching entry.
func (c *Cursor) End() bool { return c.idx >= len(c.entries) }

// Key, Flags and Payload expose the current entry. Calling them past End
// is a programmer error.
func (c *Cursor) Key() uint64        { return c.entries[c.idx].key }
func (c *Cursor) Flags() EntryFlag   { return c.entries[c.idx].flags }
func (c *Cursor) Payload() []byte    { return c.entries[c.idx].value }

// Next advances the cursor to the next entry in ascending key order,
// irrespective of the predicate that produced Fetch's starting point —
// callers walking a contiguous chain compare each entry's from-serial
// with the previous entry's to-serial themselves (see LoadChangesets in
// startup.go).
func (c *Cursor) Next() { c.idx++ }

// Walk applies visitor to every entry in ascending key order. The visitor
// may request that DIRTY be cleared (returning clearDirty=true). All such
// changes are written in one update transaction, committed after the last
// entry; a visitor error rolls every one of them back. Used by the flush
// path.
func (j *Journal) Walk(visitor func(key uint64, flags EntryFlag, payload []byte) (clearDirty bool, err error)) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(journalBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) == 0 {
				continue
			}
			key := binary.BigEndian.Uint64(k)
			flags := EntryFlag(v[0])
			clear, err := visitor(key, flags, v[1:])
			if err != nil {
				return err
			}
			if clear && flags&EntryDirty != 0 && flags&EntryValid != 0 {
				newVal := append([]byte(nil), v...)
				newVal[0] = byte(flags &^ EntryDirty)
				if err := b.Put(k, newVal); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// IsUsed reports whether the journal holds any VALID entry.
func (j *Journal) IsUsed() (bool, error) {
	used := false
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(journalBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(v) > 0 && EntryFlag(v[0])&EntryValid != 0 {
				used = true
			}
			return nil
		})
	})
	if err != nil {
		return false, newError(IOError, "", "Journal.IsUsed", err)
	}
	return used, nil
}

// Compact deletes every entry that is VALID and not DIRTY, reclaiming
// space for future Map calls. The flush path calls this right after
// clearing DIRTY bits, so a caller that hit JournalFull and flushed can
// immediately retry.
func (j *Journal) Compact() error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(journalBucket)
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if len(v) > 0 && EntryFlag(v[0])&EntryValid != 0 && EntryFlag(v[0])&EntryDirty == 0 {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// EntryInfo is one journal entry's metadata, for the operational "journal
// dump" command — deliberately excludes the payload, which is opaque
// serialized record data not meant for a terminal.
type EntryInfo struct {
	From, To Serial
	Flags    EntryFlag
	Size     int
}

// Dump returns metadata for every entry, sorted by ascending from-serial.
func (j *Journal) Dump() ([]EntryInfo, error) {
	var out []EntryInfo
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(journalBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(v) == 0 {
				return nil
			}
			from, to := UnpackKey(binary.BigEndian.Uint64(k))
			out = append(out, EntryInfo{From: from, To: to, Flags: EntryFlag(v[0]), Size: len(v) - 1})
			return nil
		})
	})
	if err != nil {
		return nil, newError(IOError, "", "Journal.Dump", err)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].From < out[k].From })
	return out, nil
}

func (j *Journal) String() string {
	return fmt.Sprintf("Journal(%s)", j.path)
}
