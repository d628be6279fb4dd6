// Package metadata implements the durable per-session key-value store.
//
// Each session owns one file at <sessionsDir>/<sessionID> holding
// newline-delimited KEY=VALUE pairs. Writes go through a temp file plus
// rename, so readers never observe a partially written record (POSIX
// rename is atomic within a filesystem).
package metadata

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Reserved metadata keys the core reads and writes. Plugins may add
// further keys; unknown keys are preserved on round-trip.
const (
	KeyWorktree         = "worktree"
	KeyBranch           = "branch"
	KeyStatus           = "status"
	KeyPhase            = "phase"
	KeyReviewRound      = "reviewRound"
	KeyIssue            = "issue"
	KeyPR               = "pr"
	KeyProject          = "project"
	KeyActivity         = "activity"
	KeyAgentSessionID   = "agentSessionId"
	KeyCostInputTokens  = "cost.inputTokens"
	KeyCostOutputTokens = "cost.outputTokens"
	KeyCostUSD          = "cost.usd"
	KeySubRole          = "subSessionInfo.role"
	KeySubParent        = "subSessionInfo.parentSessionId"
	KeySubRound         = "subSessionInfo.round"
	KeyCreatedAt        = "createdAt"
	KeyLastActivityAt   = "lastActivityAt"
)

// ErrInvalidValue indicates a key or value that cannot be encoded
// (newlines in values, '=' or newlines in keys).
var ErrInvalidValue = errors.New("invalid metadata key or value")

// Store reads and writes session metadata files under a sessions
// directory. Update serializes read-modify-write cycles per session; Write
// and ReadRaw are safe to call concurrently thanks to atomic renames.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at sessionsDir, creating it if needed.
func NewStore(sessionsDir string) (*Store, error) {
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{dir: sessionsDir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the sessions directory this store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// Write replaces the full record for sessionID atomically.
func (s *Store) Write(sessionID string, record map[string]string) error {
	data, err := encode(record)
	if err != nil {
		return err
	}

	target := filepath.Join(s.dir, sessionID)
	tmp, err := os.CreateTemp(s.dir, sessionID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close metadata: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// ReadRaw returns the full key-value record for sessionID, or nil if the
// session has no metadata file. A corrupt record is logged and treated as
// missing rather than failing the caller.
func (s *Store) ReadRaw(sessionID string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	record, err := decode(data)
	if err != nil {
		slog.Warn("Corrupt session metadata, treating as missing",
			"session_id", sessionID, "error", err)
		return nil, nil
	}
	return record, nil
}

// Update applies a partial record on top of the stored one under the
// per-session mutex. Keys mapped to the empty string are removed.
func (s *Store) Update(sessionID string, partial map[string]string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.ReadRaw(sessionID)
	if err != nil {
		return err
	}
	if record == nil {
		record = make(map[string]string, len(partial))
	}
	for k, v := range partial {
		if v == "" {
			delete(record, k)
			continue
		}
		record[k] = v
	}
	return s.Write(sessionID, record)
}

// List returns the session IDs with a metadata file, sorted. Non-regular
// files and leftover temp files are ignored.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.Contains(entry.Name(), ".tmp-") {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the metadata file for sessionID. Missing files are not
// an error.
func (s *Store) Delete(sessionID string) error {
	err := os.Remove(filepath.Join(s.dir, sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// sessionLock returns the mutex guarding sessionID's read-modify-write.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// encode renders a record as sorted KEY=VALUE lines.
func encode(record map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := record[k]
		if strings.ContainsAny(k, "=\n") || k == "" {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidValue, k)
		}
		if strings.ContainsRune(v, '\n') {
			return nil, fmt.Errorf("%w: value for key %q contains newline", ErrInvalidValue, k)
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

// decode parses KEY=VALUE lines. Blank lines are tolerated; a line
// without '=' is a corruption.
func decode(data []byte) (map[string]string, error) {
	record := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("line %d: missing key or separator", i+1)
		}
		record[line[:idx]] = line[idx+1:]
	}
	return record, nil
}
