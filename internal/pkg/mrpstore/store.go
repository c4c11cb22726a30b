// Package mrpstore is a write-once, content-addressed document store. Every
// document is stored under the digest of its canonical encoding, so a blob
// can never change once written and any run can be retrieved and verified
// by digest.
package mrpstore

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	humanize "github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/mrp/internal/pkg/mrpcodec"
	"github.com/bcongdon/mrp/internal/pkg/mrpfs"
)

const blobExtension = ".json"

// MinPrefixLength is the shortest digest prefix Resolve accepts.
const MinPrefixLength = 4

var (
	digestPattern = regexp.MustCompile("^[0-9a-f]{64}$")
	prefixPattern = regexp.MustCompile("^[0-9a-f]+$")
)

// NotFoundError is returned when no blob exists for a digest.
type NotFoundError struct {
	Digest string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found", e.Digest)
}

// Store persists documents by digest under a root location.
type Store struct {
	fs    mrpfs.FileSystem
	root  string
	cache *lru.Cache
}

// New creates a Store rooted at root on fs. cacheSize bounds the number of
// raw blobs kept in memory for Get; zero disables the cache.
func New(fs mrpfs.FileSystem, root string, cacheSize int) (*Store, error) {
	s := &Store{
		fs:   fs,
		root: root,
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

// Open infers the filesystem from root (local path or s3://bucket/prefix).
func Open(root string, cacheSize int) (*Store, error) {
	fs, err := mrpfs.InferFilesystem(root)
	if err != nil {
		return nil, err
	}
	return New(fs, root, cacheSize)
}

// Root returns the store location.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(digest string) string {
	return s.fs.Join(s.root, digest+blobExtension)
}

// Put stores doc and returns its digest. An existing blob is never
// rewritten; written reports whether this call created it.
func (s *Store) Put(doc interface{}) (digest string, written bool, err error) {
	data, err := mrpcodec.Encode(doc)
	if err != nil {
		return "", false, err
	}
	digest = mrpcodec.DigestBytes(data)

	path := s.path(digest)
	exists, err := mrpfs.Exists(s.fs, path)
	if err != nil {
		return "", false, err
	}
	if exists {
		log.Debugf("Artifact %s already stored", digest)
		return digest, false, nil
	}

	if err := mrpfs.WriteFile(s.fs, path, data); err != nil {
		return "", false, fmt.Errorf("writing artifact %s: %w", digest, err)
	}
	log.Debugf("Stored artifact %s (%s)", digest, humanize.Bytes(uint64(len(data))))
	return digest, true, nil
}

// Has reports whether a blob exists for digest.
func (s *Store) Has(digest string) (bool, error) {
	if !digestPattern.MatchString(digest) {
		return false, nil
	}
	return mrpfs.Exists(s.fs, s.path(digest))
}

// Resolve expands a digest or an unambiguous digest prefix into the full
// digest of a stored blob.
func (s *Store) Resolve(prefix string) (string, error) {
	if digestPattern.MatchString(prefix) {
		has, err := s.Has(prefix)
		if err != nil {
			return "", err
		}
		if !has {
			return "", &NotFoundError{Digest: prefix}
		}
		return prefix, nil
	}
	if len(prefix) < MinPrefixLength || len(prefix) > 64 || !prefixPattern.MatchString(prefix) {
		return "", &NotFoundError{Digest: prefix}
	}

	files, err := s.fs.ListFiles(s.fs.Join(s.root, prefix+"*"+blobExtension))
	if err != nil {
		return "", err
	}
	var matches []string
	for _, file := range files {
		digest := strings.TrimSuffix(path.Base(filepath.ToSlash(file.Name)), blobExtension)
		if digestPattern.MatchString(digest) {
			matches = append(matches, digest)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Digest: prefix}
	case 1:
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", fmt.Errorf("digest prefix %s is ambiguous: matches %s", prefix, strings.Join(matches, ", "))
}

// Get returns the document stored under digest as generic values.
func (s *Store) Get(digest string) (interface{}, error) {
	var doc interface{}
	if err := s.GetInto(digest, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetInto decodes the blob stored under digest into v. Each call decodes a
// fresh value.
func (s *Store) GetInto(digest string, v interface{}) error {
	data, err := s.read(digest)
	if err != nil {
		return err
	}
	return mrpcodec.Decode(data, v)
}

func (s *Store) read(digest string) ([]byte, error) {
	if !digestPattern.MatchString(digest) {
		return nil, &NotFoundError{Digest: digest}
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(digest); ok {
			return cached.([]byte), nil
		}
	}

	data, err := mrpfs.ReadFile(s.fs, s.path(digest))
	if errors.Is(err, mrpfs.ErrNotExist) {
		return nil, &NotFoundError{Digest: digest}
	} else if err != nil {
		return nil, err
	}

	if got := mrpcodec.DigestBytes(data); got != digest {
		return nil, fmt.Errorf("artifact %s is corrupt: content hashes to %s", digest, got)
	}

	if s.cache != nil {
		s.cache.Add(digest, data)
	}
	return data, nil
}
