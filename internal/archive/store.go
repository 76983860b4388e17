// Package archive creates, rotates and restores zip snapshots of a world
// directory. Archives are named <yyyy-MM-dd_HH-mm>_<worldDirName>.zip and
// never overwrite an existing file of the same name.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// KeepAll disables rotation.
const KeepAll = -1

// Store writes archives into a destination directory and applies a
// keep-count retention policy.
type Store struct {
	log *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{log: log, now: time.Now}
}

// ArchiveName returns the file name an archive of source created at t
// would get.
func ArchiveName(source string, t time.Time) string {
	return fmt.Sprintf("%s_%s.zip", t.Format("2006-01-02_15-04"), filepath.Base(filepath.Clean(source)))
}

// Archive compresses source into destDir and rotates old archives so at
// most keep remain (keep == KeepAll skips rotation). Returns the path of
// the created archive.
func (s *Store) Archive(source, destDir string, keep int) (string, error) {
	if destDir == "" {
		return "", fmt.Errorf("archive destination directory not configured")
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(destDir, ArchiveName(source, s.now()))

	// O_EXCL: a second archive within the same minute must not clobber
	// the first.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("archive %s already exists", filepath.Base(path))
		}
		return "", fmt.Errorf("create archive: %w", err)
	}

	if err := writeZip(f, source); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	s.log.Info("archive created", "path", path)

	if keep != KeepAll {
		s.rotate(destDir, keep)
	}
	return path, nil
}

// rotate deletes the oldest files in destDir until at most keep remain.
// Per-file delete failures are logged and do not abort the rest.
func (s *Store) rotate(destDir string, keep int) {
	if keep < 0 {
		return
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		s.log.Warn("rotation skipped, cannot list archive dir", "dir", destDir, "err", err)
		return
	}
	type aged struct {
		name string
		mod  time.Time
	}
	var files []aged
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{name: e.Name(), mod: info.ModTime()})
	}
	if len(files) <= keep {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files[:len(files)-keep] {
		p := filepath.Join(destDir, f.name)
		if err := os.Remove(p); err != nil {
			s.log.Warn("rotation could not delete old archive", "path", p, "err", err)
			continue
		}
		s.log.Info("rotated out old archive", "path", p)
	}
}

// Restore extracts archivePath into destDir, creating it if needed.
// It rejects missing archives and files without a .zip extension.
func (s *Store) Restore(archivePath, destDir string) error {
	if !strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		return fmt.Errorf("not a zip archive: %s", archivePath)
	}
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	for _, zf := range r.File {
		if err := extractOne(zf, destDir); err != nil {
			return fmt.Errorf("extract %s: %w", zf.Name, err)
		}
	}
	s.log.Info("archive restored", "archive", archivePath, "dest", destDir)
	return nil
}

func extractOne(zf *zip.File, destDir string) error {
	// Guard against zip-slip: the joined path must stay inside destDir.
	target := filepath.Join(destDir, filepath.FromSlash(zf.Name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry escapes destination: %s", zf.Name)
	}
	if zf.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o750)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	w, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	// #nosec G110 -- archives come from our own backup pipeline
	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// writeZip walks source and stores every regular file under its
// source-relative forward-slash path.
func writeZip(w io.Writer, source string) error {
	zw := zip.NewWriter(w)
	root := filepath.Clean(source)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, f)
		_ = f.Close()
		return err
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}
