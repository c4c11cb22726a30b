package mrpfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// LocalFileSystem stores files in the local filesystem. Writers write to a
// temporary file that atomically replaces the target on Close, so readers
// never observe partially written blobs.
type LocalFileSystem struct{}

// ListFiles lists the regular files matching pathGlob. Artifact and unit
// directories are flat, so matched directories are skipped.
func (l *LocalFileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	matches, err := filepath.Glob(pathGlob)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between the glob and the stat
			continue
		} else if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		files = append(files, FileInfo{Name: match, Size: info.Size()})
	}
	return files, nil
}

func (l *LocalFileSystem) OpenReader(filePath string) (io.ReadCloser, error) {
	file, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNotExist)
	}
	return file, err
}

func (l *LocalFileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	pending, err := renameio.NewPendingFile(filePath, renameio.WithPermissions(0644))
	if err != nil {
		return nil, err
	}
	return &atomicWriter{pending: pending}, nil
}

func (l *LocalFileSystem) Stat(filePath string) (FileInfo, error) {
	fInfo, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, fmt.Errorf("%s: %w", filePath, ErrNotExist)
	} else if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name: filePath,
		Size: fInfo.Size(),
	}, nil
}

func (l *LocalFileSystem) Init() error {
	return nil
}

func (l *LocalFileSystem) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// atomicWriter publishes the pending file on Close.
type atomicWriter struct {
	pending *renameio.PendingFile
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.pending.Write(p)
}

func (w *atomicWriter) Close() error {
	defer w.pending.Cleanup()
	return w.pending.CloseAtomicallyReplace()
}
