package mrpfs

import (
	"errors"
	"io"
	"strings"
)

// FileSystemType is an identifier for supported FileSystems
type FileSystemType int

// Identifiers for supported FileSystemTypes
const (
	Local FileSystemType = iota
	S3
)

// ErrNotExist is returned (wrapped) when a path has no file or object.
var ErrNotExist = errors.New("file does not exist")

// FileSystem provides the storage backend for artifacts and materialized
// operator units. Blobs are written once and read back by path, so the
// same code serves a local directory or an S3 bucket.
type FileSystem interface {
	ListFiles(pathGlob string) ([]FileInfo, error)
	Stat(filePath string) (FileInfo, error)
	OpenReader(filePath string) (io.ReadCloser, error)
	OpenWriter(filePath string) (io.WriteCloser, error)
	Join(elem ...string) string
	Init() error
}

// FileInfo provides information about a file
type FileInfo struct {
	Name string // file path
	Size int64  // file size in bytes
}

// InitFilesystem intializes a filesystem of the given type
func InitFilesystem(fsType FileSystemType) (FileSystem, error) {
	var fs FileSystem
	switch fsType {
	case Local:
		fs = &LocalFileSystem{}
	case S3:
		fs = &S3FileSystem{}
	}

	if err := fs.Init(); err != nil {
		return nil, err
	}
	return fs, nil
}

// InferFilesystem initializes a filesystem by inferring its type from
// a file address.
func InferFilesystem(location string) (FileSystem, error) {
	return InitFilesystem(TypeOf(location))
}

// TypeOf reports which FileSystemType serves location.
func TypeOf(location string) FileSystemType {
	if strings.HasPrefix(location, "s3://") {
		return S3
	}
	return Local
}

// ReadFile reads the whole file at filePath.
func ReadFile(fs FileSystem, filePath string) ([]byte, error) {
	reader, err := fs.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// WriteFile writes data to filePath. The write is only visible once the
// writer has been closed successfully.
func WriteFile(fs FileSystem, filePath string, data []byte) error {
	writer, err := fs.OpenWriter(filePath)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// Exists reports whether filePath is present. Errors other than
// ErrNotExist are returned to the caller.
func Exists(fs FileSystem, filePath string) (bool, error) {
	_, err := fs.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return false, err
}
