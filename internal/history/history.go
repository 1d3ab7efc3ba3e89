// Package history persists completed-transfer records (spec.md §6): an
// optional JSON array alongside the data directory, capped at the 100
// newest entries, rewritten after every add, and never touched at all
// in ephemeral/incognito mode. The record shape is carried over from the
// original Rust `tuit`'s own `Transfer` struct (src/app.rs), trimmed to
// the fields that still make sense once a record is terminal.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrBloodrune/tuit/internal/logging"
)

// maxEntries caps the persisted file at the 100 newest records
// (spec.md §6).
const maxEntries = 100

// Direction distinguishes an upload from a download record.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Status is a record's terminal outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// FileEntry names one file a transfer carried, for multi-file records.
type FileEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Record is one completed transfer, the unit persisted to history.json.
type Record struct {
	ID                  string      `json:"id"`
	Direction           Direction   `json:"direction"`
	Name                string      `json:"name"`
	TotalBytes          int64       `json:"total_bytes"`
	Status              Status      `json:"status"`
	Ticket              string      `json:"ticket,omitempty"`
	ErrorMessage        string      `json:"error_message,omitempty"`
	DurationSecs        float64     `json:"duration_secs,omitempty"`
	Files               []FileEntry `json:"files,omitempty"`
	AdditionalFileCount int         `json:"additional_file_count,omitempty"`
}

// Store is the on-disk history file, guarded for concurrent Add calls
// from both the send and receive directions.
type Store struct {
	mu      sync.Mutex
	path    string
	enabled bool
	log     *logging.Logger
	entries []Record
}

// Open loads path if present. A missing or malformed file is not an
// error — it yields an empty history, the same fallback-to-defaults
// idiom internal/config uses. enabled false (incognito mode, or no path
// configured) makes every later Add a no-op and Open itself never
// touches disk.
func Open(path string, enabled bool, log *logging.Logger) *Store {
	s := &Store{path: path, enabled: enabled, log: log.Component("history")}
	if !enabled || path == "" {
		return s
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("failed to read history file; starting empty")
		}
		return s
	}
	var entries []Record
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("failed to parse history file; starting empty")
		return s
	}
	s.entries = entries
	return s
}

// Add appends r, truncates to the newest maxEntries, and rewrites the
// file. Failures are logged and swallowed, matching the original's
// save-is-best-effort behavior: a history write failure must never fail
// the transfer it's recording.
func (s *Store) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}

	s.entries = append(s.entries, r)
	if len(s.entries) > maxEntries {
		s.entries = s.entries[len(s.entries)-maxEntries:]
	}

	if err := s.save(); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("failed to write history file")
	}
}

// save must be called with mu held.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// All returns a snapshot of every persisted record, oldest first.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.entries))
	copy(out, s.entries)
	return out
}
