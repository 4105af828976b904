// Package archive keeps the raw bytes of ingested N42 files in a
// content-addressed blob store. Blobs are keyed by their BLAKE3 digest and
// stored xz-compressed, so re-ingesting the same file is a no-op.
package archive

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/n42kit/core/errors"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// ErrInvalidDigest is returned when a digest is not 64 lowercase hex characters.
var ErrInvalidDigest = errors.NewValidation("digest", "must be 64 lowercase hex characters")

var digestPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// blobExt marks a blob file as an xz stream.
const blobExt = ".xz"

// Store is a BLAKE3-keyed blob store rooted at a directory.
type Store struct {
	root string
}

// NewStore creates a store at root, creating the directory layout if needed.
func NewStore(root string) (*Store, error) {
	blobDir := filepath.Join(root, "blobs", "blake3")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, errors.NewIO("create", blobDir, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Digest computes the BLAKE3 digest of data without storing it.
func Digest(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Put stores data and returns its digest and the compressed size on disk.
// Storing content that already exists only returns its digest.
func (s *Store) Put(data []byte) (string, int64, error) {
	digest := Digest(data)
	path := s.pathFor(digest)
	if info, err := os.Stat(path); err == nil {
		return digest, info.Size(), nil
	}

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return "", 0, fmt.Errorf("xz writer: %w", err)
	}
	if _, err := xw.Write(data); err != nil {
		return "", 0, fmt.Errorf("xz compress: %w", err)
	}
	if err := xw.Close(); err != nil {
		return "", 0, fmt.Errorf("xz compress: %w", err)
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return "", 0, err
	}
	return digest, int64(buf.Len()), nil
}

// writeAtomic writes data to a temp file next to path, then renames it.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return errors.NewIO("create temp file in", dir, err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, data); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return errors.NewIO("write", tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("close", tempPath, err)
	}
	if err := osRename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("rename", path, err)
	}
	return nil
}

// Get returns the decompressed blob for digest. The content is verified
// against the digest before it is returned.
func (s *Store) Get(digest string) ([]byte, error) {
	rc, err := s.Open(digest)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("xz decompress %s: %w", digest, err)
	}
	if got := Digest(data); got != digest {
		return nil, fmt.Errorf("blob %s is corrupt: content hashes to %s", digest, got)
	}
	return data, nil
}

// Open returns a reader over the decompressed blob for digest.
func (s *Store) Open(digest string) (io.ReadCloser, error) {
	if !digestPattern.MatchString(digest) {
		return nil, ErrInvalidDigest
	}
	path := s.pathFor(digest)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "blob", ID: digest, Err: err}
		}
		return nil, errors.NewIO("open", path, err)
	}
	xr, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xz reader %s: %w", digest, err)
	}
	return &blobReader{Reader: xr, file: f}, nil
}

type blobReader struct {
	io.Reader
	file *os.File
}

func (r *blobReader) Close() error { return r.file.Close() }

// Has reports whether a blob with the given digest exists.
func (s *Store) Has(digest string) bool {
	if !digestPattern.MatchString(digest) {
		return false
	}
	_, err := os.Stat(s.pathFor(digest))
	return err == nil
}

// Remove deletes the blob for digest. Removing a missing blob is not an error.
func (s *Store) Remove(digest string) error {
	if !digestPattern.MatchString(digest) {
		return ErrInvalidDigest
	}
	path := s.pathFor(digest)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIO("remove", path, err)
	}
	return nil
}

// pathFor returns <root>/blobs/blake3/<first2>/<digest>.xz.
func (s *Store) pathFor(digest string) string {
	return filepath.Join(s.root, "blobs", "blake3", digest[:2], digest+blobExt)
}
