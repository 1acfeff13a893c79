package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type folderState int

const (
	folderOpen folderState = iota
	folderSealed
	folderDeleted
)

// FolderManager creates staging folders and keeps track of every folder
// that has not been sealed or deleted yet, so they can be removed on shutdown.
type FolderManager struct {
	stagingRoot   string
	recordingRoot string
	logger        *zap.SugaredLogger

	mu      sync.Mutex
	folders map[string]*Folder
	counter uint64
	now     func() time.Time
}

func NewFolderManager(stagingRoot, recordingRoot string, logger *zap.SugaredLogger) (*FolderManager, error) {
	for _, dir := range []string{stagingRoot, recordingRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create folder root %s: %w", dir, err)
		}
	}
	return &FolderManager{
		stagingRoot:   stagingRoot,
		recordingRoot: recordingRoot,
		logger:        logger,
		folders:       make(map[string]*Folder),
		now:           time.Now,
	}, nil
}

// Create makes a new staging folder named {unixMillis}-{counter}.
func (m *FolderManager) Create(ctx context.Context) (ports.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.counter++
	name := fmt.Sprintf("%d-%d", m.now().UnixMilli(), m.counter)
	m.mu.Unlock()

	path := filepath.Join(m.stagingRoot, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging folder: %w", err)
	}

	f := &Folder{manager: m, name: name, path: path}

	m.mu.Lock()
	m.folders[name] = f
	m.mu.Unlock()

	m.logger.Debugw("staging folder created", "folder", name)
	return f, nil
}

// Registered returns how many folders are still waiting for a terminal transition.
func (m *FolderManager) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.folders)
}

func (m *FolderManager) StagingRoot() string   { return m.stagingRoot }
func (m *FolderManager) RecordingRoot() string { return m.recordingRoot }

// Close force deletes every folder still registered.
func (m *FolderManager) Close() error {
	m.mu.Lock()
	pending := make([]*Folder, 0, len(m.folders))
	for _, f := range m.folders {
		pending = append(pending, f)
	}
	m.mu.Unlock()

	var errs error
	for _, f := range pending {
		if err := f.Delete(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if len(pending) > 0 {
		m.logger.Infow("removed leftover staging folders", "count", len(pending))
	}
	return errs
}

func (m *FolderManager) deregister(name string) {
	m.mu.Lock()
	delete(m.folders, name)
	m.mu.Unlock()
}

// Folder is a staging directory owned by one recording.
type Folder struct {
	manager *FolderManager
	name    string

	mu    sync.Mutex
	path  string
	state folderState
}

func (f *Folder) Name() string { return f.name }

func (f *Folder) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Add writes a file into the folder. Only valid while the folder is open.
func (f *Folder) Add(name string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != folderOpen {
		return domain.ErrFolderClosed
	}
	target := filepath.Join(f.path, filepath.Base(name))
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Seal renames the folder into the recording root. A failed rename leaves
// the folder open in staging.
func (f *Folder) Seal(name string) (string, error) {
	f.mu.Lock()
	if f.state != folderOpen {
		f.mu.Unlock()
		return "", domain.ErrFolderClosed
	}
	dest := filepath.Join(f.manager.recordingRoot, filepath.Base(name))
	if err := os.Rename(f.path, dest); err != nil {
		f.mu.Unlock()
		f.manager.logger.Errorw("failed to seal folder",
			"folder", f.name,
			"destination", dest,
			"error", err,
		)
		return "", fmt.Errorf("failed to seal folder %s: %w", f.name, err)
	}
	f.path = dest
	f.state = folderSealed
	f.mu.Unlock()

	f.manager.deregister(f.name)
	f.manager.logger.Infow("folder sealed", "folder", f.name, "path", dest)
	return dest, nil
}

// Delete removes the staging directory. Deleting twice is a no-op.
func (f *Folder) Delete() error {
	f.mu.Lock()
	switch f.state {
	case folderDeleted:
		f.mu.Unlock()
		return nil
	case folderSealed:
		f.mu.Unlock()
		return domain.ErrFolderClosed
	}
	err := os.RemoveAll(f.path)
	if err == nil {
		f.state = folderDeleted
	}
	f.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", f.name, err)
	}
	f.manager.deregister(f.name)
	f.manager.logger.Debugw("folder deleted", "folder", f.name)
	return nil
}
