package sourcecache

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	slashpath "path"
	"path/filepath"
	"strings"
)

// extract unpacks the archive read from src into dst, auto-detecting
// the container format from its leading bytes rather than trusting a
// caller-declared scheme, and dropping the leading strip path
// components from every entry name.
func extract(dst string, src io.Reader, strip int) error {
	header := make([]byte, 4)
	n, err := io.ReadFull(src, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("extract: read header: %w", err)
	}
	header = header[:n]
	rest := io.MultiReader(bytes.NewReader(header), src)

	switch {
	case hasTarMagic(header):
		return extractTar(dst, rest, strip)
	case hasBzip2Magic(header):
		return extractTar(dst, bzip2.NewReader(rest), strip)
	case hasGzipMagic(header):
		gz, err := gzip.NewReader(rest)
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		defer gz.Close()
		return extractTar(dst, gz, strip)
	case hasZipMagic(header):
		buf, err := io.ReadAll(rest)
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		return extractZip(dst, bytes.NewReader(buf), int64(len(buf)), strip)
	case hasXZMagic(header):
		return fmt.Errorf("extract: xz archives are not supported")
	default:
		// Not a recognized archive; Fetch then stores the stream as a
		// single opaque file under scheme "file:".
		return fmt.Errorf("extract: unrecognized archive format")
	}
}

func extractTar(dst string, src io.Reader, strip int) error {
	if err := os.MkdirAll(dst, 0o777); err != nil {
		return err
	}
	r := tar.NewReader(src)
	for {
		hdr, err := nextSupportedTarHeader(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		subdst, err := filepath.Localize(slashpath.Clean(name))
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		if subdst == "." {
			continue
		}
		full := filepath.Join(dst, subdst)
		if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
			return err
		}
		if err := extractTarFile(full, r, hdr); err != nil {
			return err
		}
	}
}

func nextSupportedTarHeader(r *tar.Reader) (*tar.Header, error) {
	for {
		hdr, err := r.Next()
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader:
			continue
		case tar.TypeReg, tar.TypeRegA, tar.TypeSymlink, tar.TypeDir:
			return hdr, nil
		default:
			return nil, fmt.Errorf("extract: unsupported tar entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func extractTarFile(dst string, r *tar.Reader, hdr *tar.Header) error {
	mode := hdr.FileInfo().Mode()
	if mode.Type() == fs.ModeSymlink {
		return os.Symlink(hdr.Linkname, dst)
	}
	return extractFile(dst, mode, func() (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	})
}

func extractZip(dst string, src io.ReaderAt, size int64, strip int) error {
	r, err := zip.NewReader(src, size)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := os.MkdirAll(dst, 0o777); err != nil {
		return err
	}
	for _, f := range r.File {
		name, ok := stripComponents(f.Name, strip)
		if !ok {
			continue
		}
		subdst, err := filepath.Localize(slashpath.Clean(name))
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		if subdst == "." {
			continue
		}
		full := filepath.Join(dst, subdst)
		mode := f.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(full, 0o777); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
			return err
		}
		if err := extractFile(full, mode, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(dst string, mode fs.FileMode, open func() (io.ReadCloser, error)) error {
	switch mode.Type() {
	case 0:
		perm := os.FileMode(0o666)
		if mode&0o111 != 0 {
			perm |= 0o111
		}
		r, err := open()
		if err != nil {
			return err
		}
		defer r.Close()
		w, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err != nil {
			return err
		}
		_, err1 := io.Copy(w, r)
		err2 := w.Close()
		if err1 != nil {
			return fmt.Errorf("write %s: %w", dst, err1)
		}
		return err2
	case fs.ModeDir:
		return os.MkdirAll(dst, 0o777)
	case fs.ModeSymlink:
		r, err := open()
		if err != nil {
			return err
		}
		defer r.Close()
		sb := new(strings.Builder)
		if _, err := io.Copy(sb, r); err != nil {
			return fmt.Errorf("read symlink %s: %w", dst, err)
		}
		return os.Symlink(sb.String(), dst)
	default:
		return fmt.Errorf("extract: unsupported archive member mode %v", mode)
	}
}

// stripComponents drops the first n slash-separated components of
// name, reporting ok=false if name has n or fewer components (nothing
// left after stripping).
func stripComponents(name string, n int) (rest string, ok bool) {
	name = strings.TrimPrefix(name, "/")
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(name, '/')
		if idx < 0 {
			return "", false
		}
		name = name[idx+1:]
	}
	if name == "" {
		return "", false
	}
	return name, true
}

func hasBzip2Magic(header []byte) bool {
	return len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h'
}

func hasZipMagic(header []byte) bool {
	return len(header) >= 4 &&
		header[0] == 'P' &&
		header[1] == 'K' &&
		(header[2] == 0x03 && header[3] == 0x04 ||
			header[2] == 0x05 && header[3] == 0x06 ||
			header[2] == 0x07 && header[3] == 0x08)
}

func hasGzipMagic(header []byte) bool {
	return len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b
}

func hasXZMagic(header []byte) bool {
	return len(header) >= 6 &&
		header[0] == 0xfd &&
		header[1] == '7' &&
		header[2] == 'z' &&
		header[3] == 'X' &&
		header[4] == 'Z' &&
		header[5] == 0
}

func hasTarMagic(header []byte) bool {
	return len(header) >= 8 &&
		header[0] == 'u' &&
		header[1] == 's' &&
		header[2] == 't' &&
		header[3] == 'a' &&
		header[4] == 'r' &&
		(header[5] == 0 && header[6] == '0' && header[7] == '0' ||
			header[5] == ' ' && header[6] == ' ' && header[7] == 0)
}
