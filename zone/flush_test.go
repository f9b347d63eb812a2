package zone

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/korsgren/zonecore/codec"
)

type fakeZonefileWriter struct {
	calls int
}

func (w *fakeZonefileWriter) DumpZone(content *Content, wr io.Writer) error {
	w.calls++
	_, err := io.WriteString(wr, content.String()+"\n")
	return err
}

func TestFlushWritesZonefileAndClearsDirty(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "test.journal"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	storeTestChangeset(t, j, codec.DNSCodec{}, &Changeset{SOAFrom: soaRRsetWithSerial(t, 99), SOATo: soaRRsetWithSerial(t, 100)})

	h := NewHandle("example.com.", HandleConfig{}, j)
	h.Lock()
	h.Swap(contentWithSerial(t, 100), nil)
	h.Unlock()

	w := &fakeZonefileWriter{}
	if err := Flush(h, dir, "example.com.zone", w); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("expected DumpZone to be called once, got %d", w.calls)
	}
	dirty, err := h.DirtyJournalCount()
	if err != nil {
		t.Fatalf("DirtyJournalCount: %v", err)
	}
	if dirty != 0 {
		t.Errorf("dirty journal entries after Flush = %d, want 0", dirty)
	}

	path := filepath.Join(dir, "example.com.zone")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected zonefile at %s: %v", path, err)
	}
	if h.ZonefileSerial != 100 {
		t.Errorf("ZonefileSerial = %d, want 100", h.ZonefileSerial)
	}
}

// TestFlushIdempotence checks that flush(); flush() returns UP_TO_DATE
// the second time and does not touch the zonefile again.
func TestFlushIdempotence(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "test.journal"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	h := NewHandle("example.com.", HandleConfig{}, j)
	h.Lock()
	h.Swap(contentWithSerial(t, 100), nil)
	h.Unlock()

	w := &fakeZonefileWriter{}
	if err := Flush(h, dir, "example.com.zone", w); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	err = Flush(h, dir, "example.com.zone", w)
	if err == nil {
		t.Fatal("expected second Flush to report UpToDate")
	}
	if !Is(err, UpToDate) {
		t.Errorf("expected UpToDate, got %v", err)
	}
	if w.calls != 1 {
		t.Errorf("expected DumpZone not to be called again, total calls = %d", w.calls)
	}
}

func contentWithSerial(t *testing.T, serial uint32) *Content {
	t.Helper()
	c := NewContent("example.com.")
	c.Put(soaRRsetWithSerial(t, serial))
	return c
}
