// Package composefile finds source compose files and persists effective ones.
package composefile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// EffectiveName is the file name of every persisted effective definition.
const EffectiveName = "docker-compose.yml"

var (
	ErrNotFound       = errors.New("compose file not found")
	ErrInvalidProject = errors.New("invalid project name")
)

// =============================================================================
// Locate
// =============================================================================

// Locate looks for name in startDir and then in each parent directory up to
// the filesystem root. It returns the absolute path of the first match.
func Locate(startDir, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return name, nil
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}
	for {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s (searched upward from %s)", ErrNotFound, name, startDir)
		}
		dir = parent
	}
}

// =============================================================================
// Store
// =============================================================================

// Store keeps one effective compose file per project under a root directory,
// so a later run can bring the same project down.
type Store struct {
	root   string
	logger *slog.Logger
}

// DefaultRoot returns $TMPDIR/composeenv.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "composeenv")
}

// NewStore creates a store. An empty root selects DefaultRoot.
func NewStore(root string, logger *slog.Logger) *Store {
	if root == "" {
		root = DefaultRoot()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger.With("component", "composefile")}
}

// Path returns where the effective file of project lives.
func (s *Store) Path(project string) string {
	return filepath.Join(s.root, project, EffectiveName)
}

// Write persists data as the effective file of project, replacing any
// previous one atomically.
func (s *Store) Write(project string, data []byte) (string, error) {
	if err := checkProject(project); err != nil {
		return "", err
	}
	path := s.Path(project)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".compose-*.yml")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move effective file into place: %w", err)
	}

	s.logger.Debug("wrote effective compose file", "project", project, "path", path, "bytes", len(data))
	return path, nil
}

// Exists reports whether an effective file is persisted for project.
func (s *Store) Exists(project string) bool {
	if checkProject(project) != nil {
		return false
	}
	_, err := os.Stat(s.Path(project))
	return err == nil
}

// Remove deletes the effective file of project and its directory. Removing a
// project that was never written is not an error.
func (s *Store) Remove(project string) error {
	if err := checkProject(project); err != nil {
		return err
	}
	dir := filepath.Dir(s.Path(project))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	s.logger.Debug("removed effective compose file", "project", project)
	return nil
}

// checkProject keeps project names from escaping the store root.
func checkProject(project string) error {
	if project == "" || project == "." || project == ".." || filepath.Base(project) != project {
		return fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}
	return nil
}
