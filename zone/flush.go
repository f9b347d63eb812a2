package zone

import (
	"io"
	"os"
	"path/filepath"
)

// ZonefileWriter is the external zonefile-dump contract: Flush only
// needs the write half, serializing a content tree as text.
type ZonefileWriter interface {
	DumpZone(content *Content, w io.Writer) error
}

// Flush writes live content to a text zonefile atomically and clears the
// journal's DIRTY bits. Returns an UpToDate error (not a true failure)
// when the live serial already matches zonefile-serial, so a second
// back-to-back flush is a no-op without the caller special-casing
// anything.
func Flush(h *Handle, dir, filename string, writer ZonefileWriter) error {
	h.Lock()
	defer h.Unlock()
	return flushLocked(h, dir, filename, writer)
}

// FlushLocked is Flush for a caller that already holds h's lock — the
// update pipeline's flush-on-JournalFull recovery path runs inside
// RunUpdatePipeline's own h.Lock/Unlock, and a second Lock there would
// deadlock against a plain, non-reentrant mutex.
func FlushLocked(h *Handle, dir, filename string, writer ZonefileWriter) error {
	return flushLocked(h, dir, filename, writer)
}

func flushLocked(h *Handle, dir, filename string, writer ZonefileWriter) error {
	live := h.Content()
	s := live.Serial()
	if s == h.ZonefileSerial {
		return errorf(UpToDate, h.Name, "Flush", "zonefile-serial already %d", s)
	}

	tmp, err := os.CreateTemp(dir, ".zonecore-flush-*")
	if err != nil {
		return newError(IOError, h.Name, "Flush(CreateTemp)", err)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := writer.DumpZone(live, tmp); err != nil {
		return newError(IOError, h.Name, "Flush(DumpZone)", err)
	}
	if err := tmp.Sync(); err != nil {
		return newError(IOError, h.Name, "Flush(Sync)", err)
	}
	if err := tmp.Close(); err != nil {
		return newError(IOError, h.Name, "Flush(Close)", err)
	}
	if err := os.Chmod(tmpPath, 0640); err != nil {
		return newError(IOError, h.Name, "Flush(Chmod)", err)
	}

	finalPath := filepath.Join(dir, filename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return newError(IOError, h.Name, "Flush(Rename)", err)
	}
	succeeded = true

	info, err := os.Stat(finalPath)
	if err != nil {
		return newError(IOError, h.Name, "Flush(Stat)", err)
	}
	h.ZonefileMtime = info.ModTime()

	if err := h.Journal.Walk(func(key uint64, flags EntryFlag, payload []byte) (bool, error) {
		return flags&EntryValid != 0 && flags&EntryDirty != 0, nil
	}); err != nil {
		return newError(IOError, h.Name, "Flush(Walk)", err)
	}
	if err := h.Journal.Compact(); err != nil {
		return newError(IOError, h.Name, "Flush(Compact)", err)
	}

	h.ZonefileSerial = s
	return nil
}
