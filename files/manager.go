// Package files owns the downloads tree: one directory per job, named by
// the job id. Nothing here trusts a client-supplied path.
package files

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/logger"
)

// tempSuffixes mark files the extractor is still writing or left behind
var tempSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// DirInfo describes one job output directory on disk
type DirInfo struct {
	JobID   string
	ModTime time.Time
}

// Manager creates, lists, serves and removes job output directories.
type Manager struct {
	root   string
	logger *zap.SugaredLogger
}

// NewManager creates the downloads root if needed
func NewManager(root string, log *zap.SugaredLogger) (*Manager, error) {
	if root == "" {
		root = am.DefaultDownloadsDir
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve downloads dir %s", root)
	}
	if err := os.MkdirAll(abs, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "create downloads dir %s", abs)
	}
	return &Manager{root: abs, logger: log}, nil
}

// Root returns the absolute downloads directory
func (m *Manager) Root() string {
	return m.root
}

// OutputDir returns the directory for jobID. The id must be a canonical
// UUID, so the path can only ever be a direct child of the root.
func (m *Manager) OutputDir(jobID string) (string, error) {
	id, err := uuid.Parse(jobID)
	if err != nil || id.String() != jobID {
		return "", errors.NewInvalidRequestError("invalid job id %q", jobID)
	}
	return filepath.Join(m.root, jobID), nil
}

// Prepare creates the job's output directory
func (m *Manager) Prepare(jobID string) (string, error) {
	dir, err := m.OutputDir(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return "", errors.Wrapf(err, "create output dir for job %s", jobID)
	}
	return dir, nil
}

// ListFiles returns the finished regular files in the job's directory,
// sorted by name. Extractor temp files are skipped.
func (m *Manager) ListFiles(jobID string) ([]string, error) {
	dir, err := m.OutputDir(jobID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("no output for job %s", jobID)
		}
		return nil, errors.Wrapf(err, "read output dir for job %s", jobID)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || isTempFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func isTempFile(name string) bool {
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Open opens filename for reading. The name must be a plain file name and
// one of allowed, the job record's file list.
func (m *Manager) Open(jobID, filename string, allowed []string) (*os.File, os.FileInfo, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, nil, err
	}
	dir, err := m.OutputDir(jobID)
	if err != nil {
		return nil, nil, err
	}

	listed := false
	for _, name := range allowed {
		if name == filename {
			listed = true
			break
		}
	}
	if !listed {
		return nil, nil, errors.NewNotFoundError("file %s not found for job %s", filename, jobID)
	}

	f, err := os.Open(filepath.Join(dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NewNotFoundError("file %s not found for job %s", filename, jobID)
		}
		return nil, nil, errors.Wrapf(err, "open %s", filename)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "stat %s", filename)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, errors.NewNotFoundError("file %s not found for job %s", filename, jobID)
	}
	return f, info, nil
}

// Purge removes the job's output directory. Purging a missing directory
// is not an error.
func (m *Manager) Purge(jobID string) error {
	dir, err := m.OutputDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "remove output dir for job %s", jobID)
	}
	m.logger.Debugw("Output removed", logger.FieldJobID, jobID, logger.FieldDir, dir)
	return nil
}

// DiskUsage sums the sizes of all regular files under the root
func (m *Manager) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish mid-walk when a job is purged
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return total, errors.Wrap(err, "sum downloads dir")
	}
	return total, nil
}

// ListDirs returns every job-shaped directory under the root. Entries that
// are not canonical UUIDs are ignored.
func (m *Manager) ListDirs() ([]DirInfo, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, errors.Wrapf(err, "read downloads dir %s", m.root)
	}

	dirs := make([]DirInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if id, err := uuid.Parse(e.Name()); err != nil || id.String() != e.Name() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirInfo{JobID: e.Name(), ModTime: info.ModTime()})
	}
	return dirs, nil
}
