package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zeebo/blake3"

	n42errors "github.com/FocuswithJustin/n42kit/core/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	return s
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	data := []byte(strings.Repeat("<ChannelData>0 12 5 7</ChannelData>\n", 200))

	digest, size, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	h := blake3.Sum256(data)
	if want := fmt.Sprintf("%x", h[:]); digest != want {
		t.Errorf("digest = %s, want %s", digest, want)
	}
	if size <= 0 || size >= int64(len(data)) {
		t.Errorf("compressed size = %d for %d input bytes", size, len(data))
	}

	got, err := s.Get(digest)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Get returned different bytes")
	}
	if !s.Has(digest) {
		t.Error("Has = false after Put")
	}

	path := filepath.Join(s.Root(), "blobs", "blake3", digest[:2], digest+".xz")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("blob not at %s: %v", path, err)
	}
}

func TestPutDuplicate(t *testing.T) {
	s := newTestStore(t)
	d1, n1, err := s.Put([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	d2, n2, err := s.Put([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 || n1 != n2 {
		t.Errorf("duplicate Put = (%s, %d), want (%s, %d)", d2, n2, d1, n1)
	}
}

func TestPutEmpty(t *testing.T) {
	s := newTestStore(t)
	digest, _, err := s.Put(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(digest)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Get = %q, want empty", got)
	}
}

func TestGetErrors(t *testing.T) {
	s := newTestStore(t)

	missing := strings.Repeat("0", 64)
	if _, err := s.Get(missing); !errors.Is(err, n42errors.ErrNotFound) {
		t.Errorf("missing blob error = %v, want ErrNotFound", err)
	}
	if s.Has(missing) {
		t.Error("Has(missing) = true")
	}

	for _, bad := range []string{"", "abc", strings.Repeat("G", 64), strings.Repeat("A", 64)} {
		if _, err := s.Get(bad); !errors.Is(err, ErrInvalidDigest) {
			t.Errorf("Get(%q) error = %v, want ErrInvalidDigest", bad, err)
		}
		if s.Has(bad) {
			t.Errorf("Has(%q) = true", bad)
		}
	}
}

func TestGetCorrupt(t *testing.T) {
	s := newTestStore(t)
	d1, _, err := s.Put([]byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	d2, _, err := s.Put([]byte("second"))
	if err != nil {
		t.Fatal(err)
	}

	// Swap blob contents so the stored stream no longer matches its key.
	other, err := os.ReadFile(s.pathFor(d2))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.pathFor(d1), other, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(d1); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("Get corrupt blob error = %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	digest, _, err := s.Put([]byte("gone soon"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(digest); err != nil {
		t.Fatal(err)
	}
	if s.Has(digest) {
		t.Error("blob still present after Remove")
	}
	if err := s.Remove(digest); err != nil {
		t.Errorf("second Remove error = %v", err)
	}
	if err := s.Remove("nope"); !errors.Is(err, ErrInvalidDigest) {
		t.Errorf("Remove(nope) error = %v", err)
	}
}

func TestPutRenameFailure(t *testing.T) {
	s := newTestStore(t)
	orig := osRename
	osRename = func(string, string) error { return fmt.Errorf("rename refused") }
	defer func() { osRename = orig }()

	_, _, err := s.Put([]byte("x"))
	var ioe *n42errors.IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("error = %v, want IOError", err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.pathFor(Digest([]byte("x")))))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestPutWriteFailure(t *testing.T) {
	s := newTestStore(t)
	orig := tempFileWrite
	tempFileWrite = func(*os.File, []byte) (int, error) { return 0, fmt.Errorf("disk full") }
	defer func() { tempFileWrite = orig }()

	if _, _, err := s.Put([]byte("y")); err == nil {
		t.Error("expected write failure")
	}
}

func TestConcurrentPut(t *testing.T) {
	s := newTestStore(t)
	data := []byte("shared spectrum file")

	var wg sync.WaitGroup
	digests := make([]string, 8)
	errs := make([]error, 8)
	for i := range digests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			digests[i], _, errs[i] = s.Put(data)
		}(i)
	}
	wg.Wait()

	for i := range digests {
		if errs[i] != nil {
			t.Fatalf("Put %d error = %v", i, errs[i])
		}
		if digests[i] != digests[0] {
			t.Errorf("digest %d = %s, want %s", i, digests[i], digests[0])
		}
	}
	if _, err := s.Get(digests[0]); err != nil {
		t.Errorf("Get after concurrent Put error = %v", err)
	}
}
