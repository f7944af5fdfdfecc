// Package linkdsl implements the small glob-select and
// symlink/copy/absorb/exclude language used by an artifact's install
// metadata to populate a profile directory (component C8).
package linkdsl

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Glob returns the slash-separated paths under root that match an
// ant-style pattern: "*" matches any run of characters within one
// path segment, and "**" matches zero or more entire path segments.
// As in the ant-glob original, "**" may not be the final component of
// a pattern. Returned paths are relative to root.
func Glob(root, pattern string) ([]string, error) {
	parts := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	if len(parts) == 0 {
		return nil, fmt.Errorf("glob: empty pattern")
	}
	if parts[len(parts)-1] == "**" {
		return nil, fmt.Errorf("glob: %q: ** cannot be the last path component", pattern)
	}
	return globParts(root, "", parts)
}

func globParts(root, relSoFar string, parts []string) ([]string, error) {
	part := parts[0]
	isLast := len(parts) == 1

	if part == "**" {
		if isLast {
			return nil, fmt.Errorf("glob: %q: ** cannot be the last path component", path.Join(relSoFar, part))
		}
		var out []string
		dir := filepath.Join(root, relSoFar)
		err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if rel == "." {
				rel = ""
			}
			matches, err := globParts(root, rel, parts[1:])
			if err != nil {
				return err
			}
			out = append(out, matches...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern(relSoFar, parts), err)
		}
		return out, nil
	}

	if strings.Contains(part, "**") {
		return nil, fmt.Errorf("glob: %q: ** cannot be combined with other characters in one path component", part)
	}

	re, err := compileGlobComponent(part)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, relSoFar)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("glob %q: %w", pattern(relSoFar, parts), err)
	}

	var out []string
	for _, e := range entries {
		if !re.MatchString(e.Name()) {
			continue
		}
		rel := path.Join(relSoFar, e.Name())
		if isLast {
			out = append(out, rel)
			continue
		}
		if !e.IsDir() {
			continue
		}
		matches, err := globParts(root, rel, parts[1:])
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

func pattern(relSoFar string, parts []string) string {
	return path.Join(relSoFar, strings.Join(parts, "/"))
}

func compileGlobComponent(part string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(part)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil, fmt.Errorf("glob: compile pattern %q: %w", part, err)
	}
	return re, nil
}
