package statusdoc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultWriteEveryN is how many streaming-loop iterations pass between
// status-document writes when the coordinator does not override it
// (spec.md's supplemented "status document cadence").
const DefaultWriteEveryN = 50

// flockTimeout bounds how long Write waits for the file lock before giving
// up — a stuck writer must never stall the caller indefinitely.
const flockTimeout = 2 * time.Second

// Writer serializes Snapshot writes to a single JSON file, guarded by an
// advisory file lock so a concurrent second process (or a second instance
// of this one) never interleaves two writes. A write failure is logged and
// dropped, never returned as fatal — the status document is an
// observability surface, not load-bearing (spec.md §7's TransientExternal
// posture).
type Writer struct {
	path string
	lock *flock.Flock
}

func NewWriter(path string) *Writer {
	return &Writer{path: path, lock: flock.New(path + ".lock")}
}

// Write marshals snapshot and replaces the target file's contents
// atomically (write to a temp file in the same directory, then rename).
// Errors are logged and the write is silently dropped rather than
// propagated, since callers invoke this from the streaming loop and must
// never be made to block or fail on a filesystem hiccup.
func (w *Writer) Write(snapshot Snapshot) {
	if err := w.write(snapshot); err != nil {
		WriteFailures.Inc()
		log.WithError(err).WithField("path", w.path).Warn("statusdoc: write failed, dropping this snapshot")
	}
}

func (w *Writer) write(snapshot Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), flockTimeout)
	defer cancel()

	locked, err := w.lock.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return errors.Wrap(err, "acquire status document lock")
	}
	if !locked {
		return errors.New("status document lock busy")
	}
	defer w.lock.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal status snapshot")
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".statusdoc-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp status file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp status file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp status file")
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		return errors.Wrap(err, "rename temp status file into place")
	}
	return nil
}
