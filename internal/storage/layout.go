package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	outputSubdir = "v"
	manifestName = "index.m3u8"
)

// Layout maps job identifiers onto the uploads directory tree. Raw uploads
// live directly under the root as <field>-<id><ext>; conversion output lives
// under v/<id>/ next to them. The layout owns no state beyond the root path,
// so it is safe to share across goroutines.
type Layout struct {
	root string
}

// NewLayout resolves the uploads root to an absolute path and creates the
// root and output directories when absent.
func NewLayout(root string) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("uploads root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(absRoot, outputSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("prepare uploads root: %w", err)
	}
	return &Layout{root: absRoot}, nil
}

// Root returns the absolute uploads root directory.
func (l *Layout) Root() string {
	return l.root
}

// StoredName builds the on-disk name for an accepted upload: the multipart
// field name, the job id, and the original extension.
func (l *Layout) StoredName(field, jobID, ext string) string {
	return fmt.Sprintf("%s-%s%s", field, jobID, strings.ToLower(ext))
}

// StoredPath resolves a stored upload name inside the root. The base of the
// name is taken to stop path traversal through crafted filenames.
func (l *Layout) StoredPath(storedName string) string {
	return filepath.Join(l.root, filepath.Base(storedName))
}

// OutputDir returns the conversion output directory for a job.
func (l *Layout) OutputDir(jobID string) string {
	return filepath.Join(l.root, outputSubdir, filepath.Base(jobID))
}

// ManifestPath returns the playlist location inside a job's output tree.
func (l *Layout) ManifestPath(jobID string) string {
	return filepath.Join(l.OutputDir(jobID), manifestName)
}

// PlaybackPath returns the URL path at which a job's manifest is served.
func (l *Layout) PlaybackPath(jobID string) string {
	return fmt.Sprintf("/uploads/%s/%s/%s", outputSubdir, jobID, manifestName)
}

// EnsureOutputDir creates the output directory for a job. It is idempotent.
func (l *Layout) EnsureOutputDir(jobID string) (string, error) {
	dir := l.OutputDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// RemoveArtifacts deletes a job's stored upload and its output tree. Missing
// files are not an error; partial trees from failed conversions are removed
// the same way as complete ones.
func (l *Layout) RemoveArtifacts(storedName, jobID string) error {
	if strings.TrimSpace(storedName) != "" {
		if err := os.Remove(l.StoredPath(storedName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stored upload: %w", err)
		}
	}
	if strings.TrimSpace(jobID) != "" {
		if err := os.RemoveAll(l.OutputDir(jobID)); err != nil {
			return fmt.Errorf("remove output dir: %w", err)
		}
	}
	return nil
}
