// Package sourcecache implements the content-addressed source cache
// (component C2): fetching tarballs, git trees, and local files and
// directories, storing them keyed by a cryptographic hash of their
// content so repeated fetches of identical material are free.
package sourcecache

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dsnet/compress/brotli"
	"golang.org/x/sync/singleflight"
	"zombiezen.com/go/log"
)

// Scheme identifies the kind of content a [Key] addresses.
type Scheme string

const (
	SchemeTarGz  Scheme = "tar.gz"
	SchemeTarBz2 Scheme = "tar.bz2"
	SchemeZip    Scheme = "zip"
	SchemeGit    Scheme = "git"
	SchemeDir    Scheme = "dir"
	SchemeFile   Scheme = "file"
)

// Key is a source cache key of the form "<scheme>:<digest>".
type Key string

// NewKey joins a scheme and digest into a Key.
func NewKey(scheme Scheme, digest string) Key {
	return Key(string(scheme) + ":" + digest)
}

// Scheme returns the scheme portion of the key.
func (k Key) Scheme() Scheme {
	scheme, _, _ := strings.Cut(string(k), ":")
	return Scheme(scheme)
}

// Digest returns the digest portion of the key.
func (k Key) Digest() string {
	_, digest, _ := strings.Cut(string(k), ":")
	return digest
}

func (k Key) Valid() bool {
	scheme, digest, ok := strings.Cut(string(k), ":")
	if !ok || scheme == "" || digest == "" {
		return false
	}
	switch Scheme(scheme) {
	case SchemeTarGz, SchemeTarBz2, SchemeZip, SchemeGit, SchemeDir, SchemeFile:
		return true
	default:
		return false
	}
}

// ErrCorrupt is returned by Unpack when stored content no longer
// hashes to the key it is filed under.
var ErrCorrupt = errors.New("sourcecache: corrupt source entry")

// Cache is a content-addressed store of source material rooted at a
// directory on disk. The zero value is not usable; construct with
// [Open].
type Cache struct {
	root       string
	httpClient *http.Client
	fetchGroup singleflight.Group
	idx        *index
}

// Open returns a Cache rooted at dir, creating the directory skeleton
// if it does not already exist.
func Open(dir string) (*Cache, error) {
	for _, scheme := range []Scheme{SchemeTarGz, SchemeTarBz2, SchemeZip, SchemeGit, SchemeDir, SchemeFile} {
		if err := os.MkdirAll(filepath.Join(dir, string(scheme)), 0o777); err != nil {
			return nil, fmt.Errorf("open source cache %s: %w", dir, err)
		}
	}
	idx, err := openIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("open source cache %s: %w", dir, err)
	}
	return &Cache{root: dir, httpClient: http.DefaultClient, idx: idx}, nil
}

// Root returns the cache's root directory.
func (c *Cache) Root() string { return c.root }

// Tags reports every fetched key's retention tag, for use by the GC
// collector. Keys never recorded through [Cache.Fetch] are absent.
func (c *Cache) Tags() map[Key]RetentionTag {
	out := make(map[Key]RetentionTag)
	for k, e := range c.idx.tags() {
		out[k] = e.Tag
	}
	return out
}

// RecordedAt reports when key was recorded in the fetch index, if it
// was ever fetched through [Cache.Fetch].
func (c *Cache) RecordedAt(k Key) (time.Time, bool) {
	e, ok := c.idx.tags()[k]
	if !ok {
		return time.Time{}, false
	}
	return e.RecordedAt, true
}

// Remove deletes a source entry and its index record. Used by the GC
// collector; callers outside that path should not normally need it.
func (c *Cache) Remove(k Key) error {
	if err := os.RemoveAll(c.path(k)); err != nil {
		return fmt.Errorf("remove %s: %w", k, err)
	}
	os.Remove(c.path(k) + ".raw")
	return c.idx.forget(k)
}

// path returns the on-disk path for a key's stored entry.
func (c *Cache) path(k Key) string {
	return filepath.Join(c.root, string(k.Scheme()), k.Digest())
}

// Has reports whether k is already present in the cache.
func (c *Cache) Has(k Key) bool {
	if _, err := os.Lstat(c.path(k)); err == nil {
		return true
	}
	_, err := os.Lstat(c.path(k) + ".raw")
	return err == nil
}

// Put stores a local file or directory, returning its key. A
// directory is hashed as a canonical content tree (scheme "dir"); a
// regular file is hashed as raw bytes (scheme "file").
func (c *Cache) Put(ctx context.Context, path string) (Key, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	if info.IsDir() {
		digest, err := hashTree(path)
		if err != nil {
			return "", fmt.Errorf("put %s: %w", path, err)
		}
		key := NewKey(SchemeDir, digest)
		dst := c.path(key)
		if _, err := os.Stat(dst); err == nil {
			return key, nil
		}
		if err := copyDir(path, dst); err != nil {
			return "", fmt.Errorf("put %s: %w", path, err)
		}
		return key, nil
	}

	digest, err := hashFile(path)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	key := NewKey(SchemeFile, digest)
	dst := c.path(key)
	if _, err := os.Stat(dst); err == nil {
		return key, nil
	}
	if err := copyFile(path, dst); err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return key, nil
}

// Fetch downloads url's content and stores it keyed by a hash of its
// unpacked tree (for recognized archive formats) or its raw bytes
// (otherwise). Concurrent Fetch calls for the same URL within one
// process are deduplicated.
func (c *Cache) Fetch(ctx context.Context, url string) (Key, error) {
	v, err, _ := c.fetchGroup.Do(url, func() (any, error) {
		return c.fetchLocked(ctx, url)
	})
	if err != nil {
		return "", err
	}
	return v.(Key), nil
}

func (c *Cache) fetchLocked(ctx context.Context, url string) (Key, error) {
	log.Debugf(ctx, "fetching %s", url)
	data, err := httpGet(ctx, c.httpClient, url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}

	tmp, err := os.MkdirTemp("", "hashdist-fetch-*")
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer os.RemoveAll(tmp)

	unpackDir := filepath.Join(tmp, "unpacked")
	if err := extract(unpackDir, bytes.NewReader(data), 0); err == nil {
		digest, err := hashTree(unpackDir)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", url, err)
		}
		scheme := classifyArchive(data)
		key := NewKey(scheme, digest)
		dst := c.path(key)
		if _, err := os.Stat(dst); err != nil {
			rawPath := dst + ".raw"
			if err := os.WriteFile(rawPath, data, 0o666); err != nil {
				return "", fmt.Errorf("fetch %s: %w", url, err)
			}
		}
		if err := c.idx.record(url, key, tagForScheme(scheme)); err != nil {
			return "", fmt.Errorf("fetch %s: %w", url, err)
		}
		return key, nil
	}

	// Not a recognized archive: store as a raw file.
	key := NewKey(SchemeFile, hashOf(data))
	dst := c.path(key)
	if _, err := os.Stat(dst); err != nil {
		if err := os.WriteFile(dst, data, 0o666); err != nil {
			return "", fmt.Errorf("fetch %s: %w", url, err)
		}
	}
	if err := c.idx.record(url, key, tagForScheme(SchemeFile)); err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	return key, nil
}

// Unpack extracts the source entry at key into targetDir. For archive
// entries it drops the leading strip path components of each member;
// dir and file entries ignore strip. The content is
// verified to hash to key before any files are written.
func (c *Cache) Unpack(ctx context.Context, k Key, targetDir string, strip int) error {
	src := c.path(k)
	switch k.Scheme() {
	case SchemeDir:
		digest, err := hashTree(src)
		if err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		if digest != k.Digest() {
			return fmt.Errorf("unpack %s: %w", k, ErrCorrupt)
		}
		return copyDir(src, targetDir)
	case SchemeFile:
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		if hashOf(data) != k.Digest() {
			return fmt.Errorf("unpack %s: %w", k, ErrCorrupt)
		}
		if err := os.MkdirAll(targetDir, 0o777); err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		return os.WriteFile(filepath.Join(targetDir, filepath.Base(src)), data, 0o666)
	default:
		rawPath := src + ".raw"
		data, err := os.ReadFile(rawPath)
		if err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}

		// Always verify against the unstripped tree: strip is a
		// presentation detail for the caller, and must never let
		// tampered or quarantined content bypass the digest check.
		tmp, err := os.MkdirTemp("", "hashdist-unpack-*")
		if err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		defer os.RemoveAll(tmp)
		verifyDir := filepath.Join(tmp, "verify")
		if err := extract(verifyDir, bytes.NewReader(data), 0); err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		digest, err := hashTree(verifyDir)
		if err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		if digest != k.Digest() {
			return fmt.Errorf("unpack %s: %w", k, ErrCorrupt)
		}

		if err := extract(targetDir, bytes.NewReader(data), strip); err != nil {
			return fmt.Errorf("unpack %s: %w", k, err)
		}
		return nil
	}
}

func classifyArchive(data []byte) Scheme {
	header := data
	if len(header) > 4 {
		header = header[:4]
	}
	switch {
	case hasGzipMagic(header) || hasTarMagic(header):
		return SchemeTarGz
	case hasBzip2Magic(header):
		return SchemeTarBz2
	case hasZipMagic(header):
		return SchemeZip
	default:
		return SchemeFile
	}
}

func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "hashdist")
	req.Header.Set("Accept-Encoding", "br,gzip,deflate")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %s", resp.Status)
	}
	body, err := decodeContentEncoding(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func decodeContentEncoding(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case "":
		return io.NopCloser(r), nil
	case "br":
		return brotli.NewReader(r, nil)
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return io.NopCloser(flate.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %s", encoding)
	}
}
