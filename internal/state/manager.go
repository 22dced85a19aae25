package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"usvfs/internal/logging"
)

var log = logging.Get("state")

// Manager handles loading and saving a Manager's PolicySet.
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.RWMutex
}

// NewManager creates a new state manager for the given state file path.
// It ensures the state directory exists and is writable.
func NewManager(statePath string) (*Manager, error) {
	log.Debug("Creating new state manager with path: %s", statePath)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	absPath := statePath
	if !filepath.IsAbs(statePath) {
		absPath = filepath.Join(cwd, statePath)
	}
	log.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, err)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, ".usvfs-backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	log.Info("State manager initialization complete")
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: 5,
	}, nil
}

// LoadPolicy loads the policy set from disk, creating an empty default
// one if no state file exists yet.
func (sm *Manager) LoadPolicy() (*PolicySet, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	info, err := os.Stat(sm.statePath)
	if err != nil || info.Size() == 0 {
		if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
			log.Info("No valid state file, creating new policy set")
			p := &PolicySet{
				ForcedLibraries: make(map[string][]string),
				Version:         1,
			}
			data, marshalErr := json.MarshalIndent(p, "", "  ")
			if marshalErr != nil {
				return nil, fmt.Errorf("failed to marshal initial policy: %w", marshalErr)
			}
			if err := os.WriteFile(sm.statePath, data, 0600); err != nil {
				return nil, fmt.Errorf("failed to write initial policy: %w", err)
			}
			return p, nil
		}
		return nil, fmt.Errorf("failed to check state file: %w", err)
	}

	data, err := os.ReadFile(sm.statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("state file is empty")
	}

	var p PolicySet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if p.ForcedLibraries == nil {
		p.ForcedLibraries = make(map[string][]string)
	}

	log.Info("Policy set loaded successfully")
	return &p, nil
}

// SavePolicy persists p to disk, taking a timestamped backup of the
// previous contents first.
func (sm *Manager) SavePolicy(p *PolicySet) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.createBackup(); err != nil {
		log.Warn("Failed to create backup: %v", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty policy data")
	}

	if err := os.WriteFile(sm.statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	log.Debug("Policy set saved successfully")
	return nil
}

func (sm *Manager) createBackup() error {
	if _, err := os.Stat(sm.statePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(sm.statePath)
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("policy-%s.json", timestamp))

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return sm.cleanupOldBackups()
}

func (sm *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return err
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			backups = append(backups, backup{
				path:    filepath.Join(sm.backupDir, entry.Name()),
				modTime: info.ModTime(),
			})
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	for i := sm.backupCount; i < len(backups); i++ {
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}
	return nil
}
