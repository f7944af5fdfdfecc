package sourcecache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPutFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	key, err := c.Put(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if key.Scheme() != SchemeFile {
		t.Fatalf("scheme = %s, want file", key.Scheme())
	}

	key2, err := c.Put(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if key != key2 {
		t.Errorf("re-Put of identical content produced a different key: %s != %s", key, key2)
	}

	target := filepath.Join(dir, "out")
	if err := c.Unpack(ctx, key, target, 0); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(target, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("unpacked content = %q, want %q", data, "hello world")
	}
}

func TestPutDirRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	key, err := c.Put(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if key.Scheme() != SchemeDir {
		t.Fatalf("scheme = %s, want dir", key.Scheme())
	}

	target := filepath.Join(dir, "out")
	if err := c.Unpack(ctx, key, target, 0); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(target, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "b" {
		t.Errorf("unpacked content = %q, want %q", data, "b")
	}
}

func makeTarGz(t *testing.T, files []struct{ name, body string }) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return gzBuf.Bytes()
}

func TestUnpackArchiveStripVerifiesDigest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}

	data := makeTarGz(t, []struct{ name, body string }{
		{"pkg-1.0/README", "hi"},
		{"pkg-1.0/src/main.c", "int main(){}"},
	})

	// Compute the digest the same way fetchLocked would, over the
	// unstripped tree, then store the archive under that key as Fetch
	// would have.
	tmp := t.TempDir()
	unpackDir := filepath.Join(tmp, "unpacked")
	if err := extract(unpackDir, bytes.NewReader(data), 0); err != nil {
		t.Fatal(err)
	}
	digest, err := hashTree(unpackDir)
	if err != nil {
		t.Fatal(err)
	}
	key := NewKey(SchemeTarGz, digest)
	dst := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst+".raw", data, 0o666); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "out")
	if err := c.Unpack(ctx, key, target, 1); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(target, "README"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi" {
		t.Errorf("unpacked content = %q, want %q", got, "hi")
	}

	// Tamper with the stored archive: a strip>0 unpack must still
	// detect the mismatch against the key's digest.
	tampered := makeTarGz(t, []struct{ name, body string }{
		{"pkg-1.0/README", "tampered"},
	})
	if err := os.WriteFile(dst+".raw", tampered, 0o666); err != nil {
		t.Fatal(err)
	}
	if err := c.Unpack(ctx, key, filepath.Join(dir, "out2"), 1); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Unpack of tampered archive with strip>0 = %v, want ErrCorrupt", err)
	}
}

func TestExtractTarStrip(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	files := []struct {
		name string
		body string
	}{
		{"pkg-1.0/README", "hi"},
		{"pkg-1.0/src/main.c", "int main(){}"},
	}
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	dst := filepath.Join(dir, "out")
	if err := extractTar(dst, bytes.NewReader(buf.Bytes()), 1); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "README"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" {
		t.Errorf("README content = %q, want %q", data, "hi")
	}
}
