package storage

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// journal is an append-only JSON Lines log with a periodically compacted
// snapshot. Replaying the journal over the snapshot must be idempotent, so a
// crash between writing the snapshot and truncating the journal is harmless.
type journal struct {
	snapPath     string
	f            *os.File
	sync         bool
	writes       int
	compactEvery int
}

func openJournal(snapPath, journalPath string, compactEvery int, sync bool) (*journal, error) {
	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	return &journal{snapPath: snapPath, f: f, sync: sync, compactEvery: compactEvery}, nil
}

// append writes one record. It reports whether the caller should compact.
func (j *journal) append(rec any) (bool, error) {
	if j.f == nil {
		return false, ErrClosed
	}
	if err := json.NewEncoder(j.f).Encode(rec); err != nil {
		return false, errors.Wrap(err, "append journal")
	}
	if j.sync {
		if err := j.f.Sync(); err != nil {
			return false, errors.Wrap(err, "sync journal")
		}
	}
	j.writes++
	return j.compactEvery > 0 && j.writes%j.compactEvery == 0, nil
}

// compact replaces the snapshot with state and empties the journal.
func (j *journal) compact(state any) error {
	if j.f == nil {
		return ErrClosed
	}
	tmp := j.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.snapPath); err != nil {
		return err
	}
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	_, err = j.f.Seek(0, io.SeekEnd)
	return err
}

func (j *journal) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// loadSnapshot decodes the snapshot into out. A missing file is not an error.
func loadSnapshot(path string, out any) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

// replay decodes each journal line as T and passes it to apply. Torn or
// corrupt lines (e.g. from a crash mid-write) are skipped.
func replay[T any](path string, apply func(T)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		apply(rec)
	}
	return sc.Err()
}
