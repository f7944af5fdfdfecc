package linkdsl

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o666); err != nil {
		t.Fatal(err)
	}
}

func TestApplySymlinkTopLevelDir(t *testing.T) {
	art := t.TempDir()
	profile := t.TempDir()
	writeFile(t, filepath.Join(art, "bin", "tool"), "#!/bin/sh\n")

	rules := []Rule{{Action: "symlink", Select: "*", Prefix: "bin", Target: "bin"}}
	if err := Apply(rules, art, profile); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(profile, "bin", "tool")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("expected %s to be a symlink: %v", link, err)
	}
	if target != filepath.Join(art, "bin", "tool") {
		t.Errorf("symlink target = %q, want %q", target, filepath.Join(art, "bin", "tool"))
	}
}

func TestApplyCopyDuplicatesContent(t *testing.T) {
	art := t.TempDir()
	profile := t.TempDir()
	writeFile(t, filepath.Join(art, "share", "doc", "readme.txt"), "hello")

	rules := []Rule{{Action: "copy", Select: "**/*", Prefix: "share", Target: "share"}}
	if err := Apply(rules, art, profile); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(profile, "share", "doc", "readme.txt")
	info, err := os.Lstat(dst)
	if err != nil {
		t.Fatalf("expected copied file at %s: %v", dst, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("copy rule should not produce a symlink")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("copied content = %q, want %q", data, "hello")
	}
}

func TestApplyAbsorbCreatesRealDirWithSymlinkedLeaves(t *testing.T) {
	art := t.TempDir()
	profile := t.TempDir()
	writeFile(t, filepath.Join(art, "share", "man", "man1", "tool.1"), "manpage")

	rules := []Rule{{Action: "absorb", Select: "*", Prefix: "", Target: ""}}
	if err := Apply(rules, art, profile); err != nil {
		t.Fatal(err)
	}

	shareDir := filepath.Join(profile, "share")
	info, err := os.Lstat(shareDir)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("absorb should create a real directory at the top level, not a symlink")
	}

	leaf := filepath.Join(shareDir, "man", "man1", "tool.1")
	leafInfo, err := os.Lstat(leaf)
	if err != nil {
		t.Fatalf("expected absorbed leaf at %s: %v", leaf, err)
	}
	if leafInfo.Mode()&os.ModeSymlink == 0 {
		t.Error("absorb should symlink individual leaf files")
	}
}

func TestApplyExcludeSkipsMatchedPaths(t *testing.T) {
	art := t.TempDir()
	profile := t.TempDir()
	writeFile(t, filepath.Join(art, "bin", "tool"), "keep")
	writeFile(t, filepath.Join(art, "bin", "tool-debug"), "drop")

	rules := []Rule{
		{Action: "exclude", Select: "tool-debug", Prefix: "bin"},
		{Action: "copy", Select: "*", Prefix: "bin", Target: "bin"},
	}
	if err := Apply(rules, art, profile); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Lstat(filepath.Join(profile, "bin", "tool")); err != nil {
		t.Errorf("expected non-excluded file to be present: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(profile, "bin", "tool-debug")); err == nil {
		t.Error("excluded file should not have been copied")
	}
}
