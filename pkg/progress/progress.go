// Package progress persists unlock progress so that an interrupted run can
// resume at the exact next untried candidate.
//
// Two files live in the store directory: an intermediate record that is
// replaced periodically, and a result record written once on success. Both
// are replaced atomically, a crash mid-write leaves the previous version.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	ProgressFile = "progress.json"
	ResultFile   = "result.json"
)

var ErrFinalized = errors.New("result already recorded")

// Record is the intermediate progress. Counter is the next candidate to
// submit, every candidate below it has been tried.
type Record struct {
	Counter             uint64    `json:"counter"`
	Attempts            uint64    `json:"attempts"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	Recoveries          uint64    `json:"recoveries"`
	Timeouts            uint64    `json:"timeouts"`
	LastCode            string    `json:"last_code,omitempty"`
	IMEI                string    `json:"imei,omitempty"`
	Kind                string    `json:"kind,omitempty"`
	Strategy            string    `json:"strategy,omitempty"`
	Session             string    `json:"session,omitempty"`
	Started             time.Time `json:"started"`
	Updated             time.Time `json:"updated"`
}

// Result is written once, when the device accepts a code.
type Result struct {
	Code       string    `json:"unlock_code"`
	IMEI       string    `json:"imei"`
	Counter    uint64    `json:"counter"`
	Attempts   uint64    `json:"attempts"`
	Recoveries uint64    `json:"recoveries"`
	Elapsed    float64   `json:"time_elapsed"`
	Kind       string    `json:"kind,omitempty"`
	Session    string    `json:"session,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) ProgressPath() string {
	return filepath.Join(s.Dir, ProgressFile)
}

func (s *Store) ResultPath() string {
	return filepath.Join(s.Dir, ResultFile)
}

// Load returns the saved record, or a fresh one starting at counter 1 if
// nothing has been saved yet.
func (s *Store) Load() (Record, error) {
	rec := Record{Counter: 1}
	data, err := os.ReadFile(s.ProgressPath())
	if errors.Is(err, os.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("could not read progress: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{Counter: 1}, fmt.Errorf("could not parse %s: %w", s.ProgressPath(), err)
	}
	if rec.Counter == 0 {
		rec.Counter = 1
	}
	return rec, nil
}

func (s *Store) Save(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.ProgressPath(), data); err != nil {
		return fmt.Errorf("could not save progress: %w", err)
	}
	return nil
}

// Finalize writes the result record. It refuses to overwrite an existing one.
func (s *Store) Finalize(res Result) error {
	if _, err := os.Stat(s.ResultPath()); err == nil {
		return fmt.Errorf("%w in %s", ErrFinalized, s.ResultPath())
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.ResultPath(), data); err != nil {
		return fmt.Errorf("could not write result: %w", err)
	}
	return nil
}

// LoadResult returns the recorded result, or nil if there is none.
func (s *Store) LoadResult() (*Result, error) {
	data, err := os.ReadFile(s.ResultPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read result: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", s.ResultPath(), err)
	}
	return &res, nil
}

// Reset removes the intermediate record. The result record is kept, so a
// device whose code was found is not searched again.
func (s *Store) Reset() error {
	return remove(s.ProgressPath())
}

// Clear removes both records. The next run starts from the first candidate
// even if a code was found before.
func (s *Store) Clear() error {
	if err := s.Reset(); err != nil {
		return err
	}
	return remove(s.ResultPath())
}

func remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
