package account

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/himecorleone/course-registration-system/internal/calendar"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// Store reads and writes one account's record file.
//
// Each scheduler owns exactly one Store; the atomic rename on save is the
// only single-writer guarantee the concurrency model needs.
type Store struct {
	path string
	log  logx.Logger
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load reads, parses and prunes the record.
//
// Before returning, any registered course whose weekly occurrence is inside
// the recently-started window is dropped and the pruned record is persisted
// immediately, so the "already registered" guard cannot block the next
// week's cycle.
func (s *Store) Load(now time.Time) (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	rec, repaired, err := ParseRecord(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if len(repaired) > 0 {
		s.log.Warn("registered/excluded overlap repaired (exclusion wins)",
			logx.Any("courses", repaired))
	}

	var pruned []string
	for _, id := range rec.RegisteredIDs() {
		if calendar.HasRecentlyStarted(id, now) {
			rec.ClearRegistered(id)
			pruned = append(pruned, id)
		}
	}
	if len(pruned) > 0 {
		s.log.Info("clearing registrations for courses that just started",
			logx.Any("courses", pruned))
		if err := s.Save(rec); err != nil {
			return nil, fmt.Errorf("persist pruned record: %w", err)
		}
	}

	return rec, nil
}

// Save atomically overwrites the record file (write temp, rename).
func (s *Store) Save(rec *Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(rec.Encode()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteInitial materializes the record file for a configured account.
//
// When the file already exists with the same identity, the recorded course
// state is kept and only the excluded set is replaced by the configuration.
// Otherwise the file is (re)created from scratch.
func (s *Store) WriteInitial(email, password string, excluded []string) error {
	rec := NewRecord(email, password)
	for _, id := range excluded {
		if id != "" {
			rec.Excluded[id] = struct{}{}
		}
	}

	if data, err := os.ReadFile(s.path); err == nil {
		if prev, _, perr := ParseRecord(data); perr == nil && prev.Email == email {
			for id := range prev.Registered {
				rec.MarkRegistered(id)
			}
		}
	}

	return s.Save(rec)
}
