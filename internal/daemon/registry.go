// Package daemon tracks running per-project Claudia daemons in a single
// registry file (atomic JSON writes, PID liveness pruning), keyed by
// project_hash.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/claudia-memory/claudia/internal/lockfile"
	"github.com/claudia-memory/claudia/internal/utils"
)

// RegistryEntry represents one running daemon in ~/.claudia/registry.json.
type RegistryEntry struct {
	ProjectHash  string    `json:"project_hash"`
	ProjectDir   string    `json:"project_dir"`
	DatabasePath string    `json:"database_path"`
	HealthPort   int       `json:"health_port"`
	PID          int       `json:"pid"`
	Version      string    `json:"version"`
	StartedAt    time.Time `json:"started_at"`
}

// Registry manages the global daemon registry file.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex // in-process mutex; cross-process uses the file lock
}

// NewRegistry opens the registry under ~/.claudia/registry.json, creating
// the parent directory if needed.
func NewRegistry() (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	claudiaDir := filepath.Join(home, ".claudia")
	if err := os.MkdirAll(claudiaDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create .claudia directory: %w", err)
	}

	return &Registry{
		path:     filepath.Join(claudiaDir, "registry.json"),
		lockPath: filepath.Join(claudiaDir, "registry.lock"),
	}, nil
}

func (r *Registry) withFileLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// nolint:gosec // G304: controlled path under the user's home directory
	lockFile, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := lockfile.FlockExclusiveBlocking(lockFile); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lockfile.FlockUnlock(lockFile) }()

	return fn()
}

// readEntriesLocked reads all entries, tolerating a missing, empty, or
// corrupted registry file (treated as empty rather than a hard error, since
// a corrupted registry just means daemons need rediscovering).
func (r *Registry) readEntriesLocked() ([]RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RegistryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	trimmed := make([]byte, 0, len(data))
	for _, b := range data {
		if b != 0 && b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			trimmed = append(trimmed, b)
		}
	}
	if len(trimmed) == 0 {
		return []RegistryEntry{}, nil
	}

	var entries []RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return []RegistryEntry{}, nil
	}
	return entries, nil
}

func (r *Registry) writeEntriesLocked(entries []RegistryEntry) error {
	if entries == nil {
		entries = []RegistryEntry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmpFile, err := os.CreateTemp(dir, "registry-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Register adds or replaces a daemon entry for entry.ProjectHash/PID.
func (r *Registry) Register(entry RegistryEntry) error {
	return r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}

		filtered := entries[:0:0]
		for _, e := range entries {
			if e.ProjectHash != entry.ProjectHash && e.PID != entry.PID {
				filtered = append(filtered, e)
			}
		}
		filtered = append(filtered, entry)
		return r.writeEntriesLocked(filtered)
	})
}

// Unregister removes the entry for projectHash/pid, if present.
func (r *Registry) Unregister(projectHash string, pid int) error {
	return r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}

		filtered := entries[:0:0]
		for _, e := range entries {
			if e.ProjectHash != projectHash && e.PID != pid {
				filtered = append(filtered, e)
			}
		}
		return r.writeEntriesLocked(filtered)
	})
}

// List returns every live daemon, pruning dead-PID entries from the
// registry file as a side effect.
func (r *Registry) List() ([]DaemonInfo, error) {
	var daemons []DaemonInfo

	err := r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}

		var alive []RegistryEntry
		for _, entry := range entries {
			if !isProcessAlive(entry.PID) {
				continue
			}
			alive = append(alive, entry)
			daemons = append(daemons, discoverDaemon(entry))
		}

		if len(alive) != len(entries) {
			if err := r.writeEntriesLocked(alive); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to clean up stale registry entries: %v\n", err)
			}
		}
		return nil
	})

	return daemons, err
}

// FindByProjectDir looks up the daemon registered for the given project
// directory's computed project_hash.
func (r *Registry) FindByProjectDir(projectDir string) (*DaemonInfo, error) {
	hash := utils.ProjectHash(projectDir)
	daemons, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, d := range daemons {
		if d.ProjectHash == hash && d.Alive {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("no daemon registered for project %s", projectDir)
}

// Clear removes all entries (test helper).
func (r *Registry) Clear() error {
	return r.writeEntries([]RegistryEntry{})
}

func (r *Registry) writeEntries(entries []RegistryEntry) error {
	return r.withFileLock(func() error {
		return r.writeEntriesLocked(entries)
	})
}
