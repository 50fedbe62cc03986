package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nexuscore/core/internal/secrets"
)

// Store is a directory of per-session JSONL logs.
type Store struct {
	dir      string
	detector *secrets.Detector

	mu    sync.RWMutex
	index map[string]Session // cached metadata, refreshed on every write
}

// NewStore opens (creating if needed) a session store rooted at dir,
// rebuilding its in-memory metadata index from any files already there.
func NewStore(dir string, detector *secrets.Detector) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create store dir: %w", err)
	}
	s := &Store{dir: dir, detector: detector, index: make(map[string]Session)}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("sessions: read store dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		meta, err := s.readMetadata(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue // skip unreadable/corrupt files rather than fail the whole store
		}
		s.index[meta.ID] = meta
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

func (s *Store) readMetadata(path string) (Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return Session{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		return Session{}, fmt.Errorf("sessions: empty session file %s", path)
	}
	var l line
	if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
		return Session{}, fmt.Errorf("sessions: parse metadata line: %w", err)
	}
	if l.Type != "metadata" || l.Session == nil {
		return Session{}, fmt.Errorf("sessions: session file %s missing metadata header", path)
	}
	return *l.Session, nil
}

// Create starts a new session's log file with its metadata header.
func (s *Store) Create(sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("sessions: create requires a non-empty id")
	}
	if sess.State == "" {
		sess.State = StateActive
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[sess.ID]; exists {
		return fmt.Errorf("sessions: session %q already exists", sess.ID)
	}

	f, err := os.OpenFile(s.path(sess.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: create session file: %w", err)
	}
	defer f.Close()

	if err := writeLine(f, line{Type: "metadata", Session: &sess}); err != nil {
		return err
	}
	s.index[sess.ID] = sess
	return nil
}

// AppendMessage redacts msg's content through the secret detector and
// appends it to id's log, bumping the cached UpdatedAt.
func (s *Store) AppendMessage(id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[id]
	if !ok {
		return fmt.Errorf("sessions: session %q not found", id)
	}

	result := s.detector.Redact(msg.Content)
	if len(result.Findings) > 0 {
		msg.Content = result.Redacted
		msg.Redacted = true
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	f, err := os.OpenFile(s.path(id), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open session file: %w", err)
	}
	defer f.Close()

	if err := writeLine(f, line{Type: "message", Message: &msg}); err != nil {
		return err
	}

	meta.UpdatedAt = msg.CreatedAt
	s.index[id] = meta
	return nil
}

// UpdateState rewrites a session's metadata header (state/model/workDir/
// totals/grantedApprovals), replaying its existing messages unchanged.
// This is the only operation that rewrites rather than appends.
func (s *Store) UpdateState(id string, mutate func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[id]
	if !ok {
		return fmt.Errorf("sessions: session %q not found", id)
	}

	path := s.path(id)
	_, messages, err := readAll(path)
	if err != nil {
		return err
	}

	mutate(&meta)
	meta.UpdatedAt = time.Now()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open temp session file: %w", err)
	}
	if err := writeLine(f, line{Type: "metadata", Session: &meta}); err != nil {
		f.Close()
		return err
	}
	for i := range messages {
		if err := writeLine(f, line{Type: "message", Message: &messages[i]}); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sessions: close temp session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sessions: replace session file: %w", err)
	}

	s.index[id] = meta
	return nil
}

// Get returns a session's metadata and full message history, for
// rehydration.
func (s *Store) Get(id string) (Session, []Message, error) {
	s.mu.RLock()
	_, ok := s.index[id]
	path := s.path(id)
	s.mu.RUnlock()
	if !ok {
		return Session{}, nil, fmt.Errorf("sessions: session %q not found", id)
	}
	return readAll(path)
}

// List returns sessions matching filter, sorted and paginated.
func (s *Store) List(filter ListFilter) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.index))
	for _, meta := range s.index {
		if filter.State != "" && meta.State != filter.State {
			continue
		}
		out = append(out, meta)
	}

	sortField := filter.Sort
	if sortField == "" {
		sortField = SortCreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		if sortField == SortUpdatedAt {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []Session{}
	}
	end := len(out)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return out[start:end]
}

// Delete removes a session's log file entirely.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("sessions: session %q not found", id)
	}
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("sessions: delete session file: %w", err)
	}
	delete(s.index, id)
	return nil
}

func readAll(path string) (Session, []Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return Session{}, nil, fmt.Errorf("sessions: open session file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var meta Session
	var messages []Message
	first := true
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			return Session{}, nil, fmt.Errorf("sessions: parse session line: %w", err)
		}
		if first {
			if l.Type != "metadata" || l.Session == nil {
				return Session{}, nil, fmt.Errorf("sessions: session file missing metadata header")
			}
			meta = *l.Session
			first = false
			continue
		}
		if l.Type == "message" && l.Message != nil {
			messages = append(messages, *l.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return Session{}, nil, fmt.Errorf("sessions: scan session file: %w", err)
	}
	return meta, messages, nil
}

func writeLine(f *os.File, l line) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("sessions: marshal line: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("sessions: write line: %w", err)
	}
	return nil
}
