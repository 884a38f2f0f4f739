// Package workspace provides the scoped agent filesystem under
// <project>/automatosx, with path validation against traversal.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"automatosx/internal/config"
	"automatosx/internal/errs"
)

// MaxFileSize caps reads and writes through the workspace.
const MaxFileSize = 10 * 1024 * 1024

// Namespaces within the visible workspace. PRD holds durable deliverables;
// tmp holds scratch output cleaned up by retention.
const (
	NamespacePRD = "PRD"
	NamespaceTmp = "tmp"
)

// FileInfo is file metadata returned by List.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Manager scopes all agent file access to <project>/automatosx. Legacy
// session workspaces under .automatosx/workspaces remain readable for
// migration; all writes land in the simplified namespaces.
type Manager struct {
	root       string
	legacyRoot string
	logger     zerolog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewManager creates a workspace manager rooted at the project directory.
func NewManager(projectDir string, logger zerolog.Logger) *Manager {
	return &Manager{
		root:       config.WorkspaceDir(projectDir),
		legacyRoot: config.LegacyWorkspacesDir(projectDir),
		logger:     logger,
		ensured:    make(map[string]bool),
	}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// validateRelPath rejects paths that could escape the workspace.
func validateRelPath(rel string) error {
	if rel == "" || rel == "." {
		return errs.New(errs.CodePathInvalid, "path must not be empty")
	}
	if strings.ContainsRune(rel, 0) {
		return errs.New(errs.CodePathInvalid, "path contains a null byte")
	}
	if filepath.IsAbs(rel) {
		return errs.New(errs.CodePathInvalid, "absolute paths are not allowed")
	}
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return errs.Newf(errs.CodePathTraversal, "path escapes the workspace: %s", rel)
	}
	return nil
}

// resolve validates rel and returns its absolute path under root. Symlinks
// in existing path components are resolved so a link cannot smuggle a write
// outside the workspace.
func (m *Manager) resolve(root, rel string) (string, error) {
	if err := validateRelPath(rel); err != nil {
		return "", err
	}

	abs := filepath.Join(root, filepath.Clean(rel))

	// Resolve the deepest existing ancestor; the tail may not exist yet.
	probe := abs
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			rest := strings.TrimPrefix(abs, probe)
			abs = resolved + rest
			break
		}
		if !os.IsNotExist(err) {
			return "", errs.Wrap(errs.CodePathInvalid, "resolve path", err)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", errs.Wrap(errs.CodePathInvalid, "resolve workspace root", err)
		}
		rootResolved = root
	}

	if abs != rootResolved && !strings.HasPrefix(abs, rootResolved+string(filepath.Separator)) {
		return "", errs.Newf(errs.CodePathEscape, "path escapes the workspace: %s", rel)
	}
	return abs, nil
}

// ensureDir creates a directory once per process.
func (m *Manager) ensureDir(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensured[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(errs.CodeFileWrite, "create workspace directory", err)
	}
	m.ensured[dir] = true
	return nil
}

// WriteFile writes content to a path relative to the workspace root,
// creating parent directories as needed.
func (m *Manager) WriteFile(rel string, content []byte) error {
	if len(content) > MaxFileSize {
		return errs.Newf(errs.CodeFileTooLarge, "file exceeds %d bytes", MaxFileSize)
	}

	abs, err := m.resolve(m.root, rel)
	if err != nil {
		return err
	}
	if err := m.ensureDir(filepath.Dir(abs)); err != nil {
		return err
	}
	if err := os.WriteFile(abs, content, 0644); err != nil {
		return errs.Wrap(errs.CodeFileWrite, "write workspace file", err)
	}

	m.logger.Debug().Str("path", rel).Int("bytes", len(content)).Msg("workspace write")
	return nil
}

// ReadFile reads a workspace file, falling back to the legacy session
// workspace tree when the simplified path has nothing.
func (m *Manager) ReadFile(rel string) ([]byte, error) {
	abs, err := m.resolve(m.root, rel)
	if err != nil {
		return nil, err
	}

	data, err := m.readCapped(abs)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	// Legacy fallback, read-only.
	legacyAbs, lerr := m.resolve(m.legacyRoot, rel)
	if lerr != nil {
		return nil, err
	}
	if data, lerr := m.readCapped(legacyAbs); lerr == nil {
		return data, nil
	}

	return nil, errs.Newf(errs.CodeFileNotFound, "workspace file not found: %s", rel)
}

func (m *Manager) readCapped(abs string) ([]byte, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, "stat workspace file", err)
	}
	if info.Size() > MaxFileSize {
		return nil, errs.Newf(errs.CodeFileTooLarge, "file exceeds %d bytes", MaxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, "read workspace file", err)
	}
	return data, nil
}

// List lists entries at a path relative to the workspace root. Listing "."
// is allowed; legacy trees are merged in read-only when the simplified path
// is missing.
func (m *Manager) List(rel string) ([]FileInfo, error) {
	if rel == "" {
		rel = "."
	}

	var abs string
	if rel == "." {
		abs = m.root
	} else {
		var err error
		abs, err = m.resolve(m.root, rel)
		if err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return m.listLegacy(rel)
		}
		return nil, errs.Wrap(errs.CodeFileNotFound, "list workspace directory", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(rel, entry.Name()),
			IsDir:   entry.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

func (m *Manager) listLegacy(rel string) ([]FileInfo, error) {
	abs := m.legacyRoot
	if rel != "." {
		var err error
		abs, err = m.resolve(m.legacyRoot, rel)
		if err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return []FileInfo{}, nil
		}
		return nil, errs.Wrap(errs.CodeFileNotFound, "list legacy workspace", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(rel, entry.Name()),
			IsDir:   entry.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// Delete removes a file from the workspace.
func (m *Manager) Delete(rel string) error {
	abs, err := m.resolve(m.root, rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return errs.Newf(errs.CodeFileNotFound, "workspace file not found: %s", rel)
		}
		return errs.Wrap(errs.CodeFileWrite, "delete workspace file", err)
	}
	return nil
}

// NamespaceStats summarizes one workspace namespace.
type NamespaceStats struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats walks the visible namespaces and returns file counts and byte
// totals keyed by namespace. Missing namespaces count as empty.
func (m *Manager) Stats() (map[string]NamespaceStats, error) {
	out := make(map[string]NamespaceStats, 2)
	for _, ns := range []string{NamespacePRD, NamespaceTmp} {
		var st NamespaceStats
		err := filepath.WalkDir(filepath.Join(m.root, ns), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			st.Files++
			st.TotalBytes += info.Size()
			return nil
		})
		if err != nil {
			return nil, errs.Wrap(errs.CodeFileNotFound, "stat workspace namespace", err)
		}
		out[ns] = st
	}
	return out, nil
}

// CleanupTmp removes tmp files older than the retention window and any
// directories emptied by that. Returns the number of files removed.
func (m *Manager) CleanupTmp(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	tmpRoot := filepath.Join(m.root, NamespaceTmp)

	var removed int
	err := filepath.WalkDir(tmpRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, errs.Wrap(errs.CodeFileWrite, "cleanup tmp", err)
	}

	// Sweep empty directories bottom-up, keeping tmp itself.
	var dirs []string
	filepath.WalkDir(tmpRoot, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != tmpRoot {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i]) // fails unless empty
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("tmp cleanup complete")
	}
	return removed, nil
}
