package governance

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cyberviable/vsm/internal/types"
)

// Log is the append-only JSON-lines persistence for the policy store — the
// one piece of control plane state that must survive a restart. Every Set
// call appends one record; ReplayLog reconstructs the latest version per
// policy ID before the store starts consuming broker traffic.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// OpenLog opens (creating if absent) the append-only log at path.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open policy log: %w", err)
	}
	return &Log{file: f}, nil
}

// Append writes one policy record as a single JSON line.
func (l *Log) Append(policy *types.Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	body, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy record: %w", err)
	}
	if _, err := l.file.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("append policy record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReplayLog reads every record in path in order and returns the
// latest-version snapshot per policy ID, ready to bootstrap a fresh Store.
// Of several records with the same version (Reinforce appends one without
// bumping the version), the later one wins. A missing file replays to an
// empty set — there is nothing to recover on first startup.
func ReplayLog(path string) ([]*types.Policy, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open policy log for replay: %w", err)
	}
	defer f.Close()

	latest := make(map[string]*types.Policy)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p types.Policy
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("decode policy log record: %w", err)
		}
		if existing, ok := latest[p.ID]; !ok || p.Version >= existing.Version {
			cp := p
			latest[p.ID] = &cp
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan policy log: %w", err)
	}

	out := make([]*types.Policy, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	return out, nil
}

// Bootstrap seeds the store directly with already-versioned records from a
// replayed log, bypassing Set's version-increment logic since these records
// already carry their true version number. Unlike Set, Bootstrap does not
// broadcast — it runs before the broker topology is consuming traffic.
func (s *Store) Bootstrap(records []*types.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range records {
		if p == nil {
			continue
		}
		s.policies[p.ID] = p
	}
}
