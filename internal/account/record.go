// Package account owns the per-account credential/state record: a three-line
// flat file (email, password, course-status line) with a typed codec and a
// file-backed store doing atomic writes and stale-registration pruning.
package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound means the record file does not exist.
	ErrNotFound = errors.New("account record not found")
	// ErrCorrupt means the record file cannot be parsed into email,
	// password and course-status line. This is a configuration error and
	// not recoverable at runtime.
	ErrCorrupt = errors.New("account record corrupt")
)

// excludedPrefix marks a course id the account opted out of.
const excludedPrefix = "!"

// Record is the durable per-account state.
//
// Invariant: Registered and Excluded are disjoint. ParseRecord enforces this
// by dropping overlapping ids from Registered (an explicit exclusion wins).
type Record struct {
	Email    string
	Password string

	Registered map[string]struct{}
	Excluded   map[string]struct{}
}

// NewRecord returns an empty record for the given identity.
func NewRecord(email, password string) *Record {
	return &Record{
		Email:      email,
		Password:   password,
		Registered: map[string]struct{}{},
		Excluded:   map[string]struct{}{},
	}
}

func (r *Record) IsRegistered(id string) bool {
	_, ok := r.Registered[id]
	return ok
}

func (r *Record) IsExcluded(id string) bool {
	_, ok := r.Excluded[id]
	return ok
}

// MarkRegistered records a successful (or already-existing) registration.
// Excluded courses are never marked.
func (r *Record) MarkRegistered(id string) {
	if id == "" || r.IsExcluded(id) {
		return
	}
	if r.Registered == nil {
		r.Registered = map[string]struct{}{}
	}
	r.Registered[id] = struct{}{}
}

// ClearRegistered drops a course from the registered set.
func (r *Record) ClearRegistered(id string) {
	delete(r.Registered, id)
}

// RegisteredIDs returns the registered course ids in ascending order.
func (r *Record) RegisteredIDs() []string { return sortedKeys(r.Registered) }

// ExcludedIDs returns the excluded course ids in ascending order.
func (r *Record) ExcludedIDs() []string { return sortedKeys(r.Excluded) }

// CourseLine renders the third record line: registered ids ascending, then
// excluded ids ascending with the exclusion marker, joined by ", ".
func (r *Record) CourseLine() string {
	parts := make([]string, 0, len(r.Registered)+len(r.Excluded))
	parts = append(parts, r.RegisteredIDs()...)
	for _, id := range r.ExcludedIDs() {
		parts = append(parts, excludedPrefix+id)
	}
	return strings.Join(parts, ", ")
}

// Encode renders the full three-line record file content.
func (r *Record) Encode() []byte {
	var b strings.Builder
	b.WriteString(r.Email)
	b.WriteString("\n")
	b.WriteString(r.Password)
	b.WriteString("\n")
	b.WriteString(r.CourseLine())
	b.WriteString("\n")
	return []byte(b.String())
}

// ParseRecord decodes a three-line record file.
//
// Fewer than two lines is ErrCorrupt (email and password are mandatory).
// A missing or empty third line means empty course sets. The returned
// repaired slice lists ids that were present in both sets and were dropped
// from registered to restore the disjointness invariant.
func ParseRecord(data []byte) (rec *Record, repaired []string, err error) {
	lines := strings.Split(string(data), "\n")
	// A trailing newline yields a final empty element; it is not a line.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return nil, nil, fmt.Errorf("%w: need at least email and password, got %d line(s)", ErrCorrupt, len(lines))
	}

	rec = NewRecord(strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]))
	if rec.Email == "" {
		return nil, nil, fmt.Errorf("%w: empty email line", ErrCorrupt)
	}

	if len(lines) >= 3 {
		for _, tok := range strings.Split(lines[2], ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if strings.HasPrefix(tok, excludedPrefix) {
				id := strings.TrimSpace(strings.TrimPrefix(tok, excludedPrefix))
				if id != "" {
					rec.Excluded[id] = struct{}{}
				}
				continue
			}
			rec.Registered[tok] = struct{}{}
		}
	}

	// Exclusion wins over a recorded registration.
	for id := range rec.Registered {
		if _, dup := rec.Excluded[id]; dup {
			delete(rec.Registered, id)
			repaired = append(repaired, id)
		}
	}
	sort.Strings(repaired)
	return rec, repaired, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
