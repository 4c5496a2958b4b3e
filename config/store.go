package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultDebounce is the trailing window for coalescing document writes.
const DefaultDebounce = 500 * time.Millisecond

// Store persists the current configuration document to disk with a trailing
// debounce: every Save resets the timer, and the write fires once mutations
// go idle. Flush forces any pending write, for shutdown.
type Store struct {
	path     string
	debounce time.Duration

	mu      sync.Mutex
	pending *Document
	timer   *time.Timer
}

func NewStore(path string, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{path: path, debounce: debounce}
}

// Load reads the persisted document, or returns the factory default when no
// file exists yet. A corrupt file is reported and replaced by the default
// rather than taking the daemon down.
func (s *Store) Load() *Document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("CONFIG: failed to read %s: %v, using defaults", s.path, err)
		}
		return Default()
	}
	doc, err := Decode(data)
	if err != nil {
		log.Printf("CONFIG: corrupt document at %s: %v, using defaults", s.path, err)
		return Default()
	}
	return doc
}

// Save schedules a debounced write of the given document snapshot.
func (s *Store) Save(doc *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = doc.Clone()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flushPending)
}

// Flush writes any pending document immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.flushPending()
}

func (s *Store) flushPending() {
	s.mu.Lock()
	doc := s.pending
	s.pending = nil
	s.mu.Unlock()

	if doc == nil {
		return
	}
	if err := s.write(doc); err != nil {
		log.Printf("CONFIG: persist failed: %v", err)
	}
}

func (s *Store) write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config document: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace config document: %w", err)
	}
	return nil
}
