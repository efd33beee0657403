// Package ledger keeps the local record of conversations already answered.
//
// The record is a JSON array of identifiers. It is rewritten wholesale on every
// change and entries are never removed.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrCorrupt is returned by Load when the file exists but is not a JSON array of strings.
var ErrCorrupt = errors.New("ledger file is malformed")

// Ledger is an ordered, append-only set of identifiers mirrored to a file.
// It has a single owner and is not safe for concurrent use.
type Ledger struct {
	path  string
	ids   []string
	index map[string]struct{}
	dirty bool
}

// New returns an empty ledger persisted at path. Call Load to read existing entries.
func New(path string) *Ledger {
	return &Ledger{path: path, index: map[string]struct{}{}}
}

// Path returns the backing file location.
func (l *Ledger) Path() string { return l.path }

// Load replaces the in-memory copy with the file contents. A missing file yields
// an empty ledger and no error. A malformed file also yields an empty ledger but
// reports ErrCorrupt so the caller can log it; the ledger is then dirty and the
// next Flush replaces the bad file.
func (l *Ledger) Load() error {
	l.reset(nil)
	data, err := os.ReadFile(l.path) // #nosec G304 - path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read ledger %s: %w", l.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		l.dirty = true
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, l.path, err)
	}
	l.reset(ids)
	return nil
}

// Contains reports whether id was recorded.
func (l *Ledger) Contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

// Record appends id if absent and rewrites the file before returning. When the
// write fails the entry stays in memory and the ledger is left dirty for Flush.
func (l *Ledger) Record(id string) error {
	if id == "" || l.Contains(id) {
		return nil
	}
	l.ids = append(l.ids, id)
	l.index[id] = struct{}{}
	l.dirty = true
	return l.Flush()
}

// Flush rewrites the file if there are unsaved entries.
func (l *Ledger) Flush() error {
	if !l.dirty {
		return nil
	}
	if err := l.write(); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int { return len(l.ids) }

// IDs returns a copy of the identifiers in the order they were recorded.
func (l *Ledger) IDs() []string {
	return append([]string(nil), l.ids...)
}

func (l *Ledger) reset(ids []string) {
	l.ids = l.ids[:0]
	l.index = make(map[string]struct{}, len(ids))
	l.dirty = false
	for _, id := range ids {
		if _, ok := l.index[id]; ok {
			continue
		}
		l.index[id] = struct{}{}
		l.ids = append(l.ids, id)
	}
}

func (l *Ledger) write() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create ledger dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	ids := l.ids
	if ids == nil {
		ids = []string{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ids); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return fmt.Errorf("chmod ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger %s: %w", l.path, err)
	}
	return nil
}
