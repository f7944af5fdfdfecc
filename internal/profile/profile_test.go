package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hashdist.dev/hashdist/internal/spec"
)

func writeArtifact(t *testing.T, root, name string, files map[string]string, links []spec.LinkRule, envVars map[string]string) Artifact {
	t.Helper()
	dir := filepath.Join(root, name)
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o777); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o666); err != nil {
			t.Fatal(err)
		}
	}
	return Artifact{
		ID:  name + "/1/abcd",
		Dir: dir,
		Meta: spec.ArtifactMeta{
			Install: &spec.ProfileInstall{
				Parameters: spec.InstallParameters{Links: links},
			},
			ProfileEnvVars: envVars,
		},
	}
}

func TestAssembleSymlinksIntoProfile(t *testing.T) {
	root := t.TempDir()
	a := writeArtifact(t, root, "greeter", map[string]string{
		"bin/greet": "#!/bin/sh\necho hi\n",
	}, []spec.LinkRule{
		{Action: "symlink", Select: "*", Prefix: "bin", Target: "bin"},
	}, map[string]string{"GREETER_HOME": "$ARTIFACT"})

	profileDir := filepath.Join(root, "profile")
	if err := Assemble(context.Background(), []Artifact{a}, profileDir); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(profileDir, "bin", "greet")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("expected bin/greet to be a symlink: %v", err)
	}
	if target != filepath.Join(a.Dir, "bin", "greet") {
		t.Errorf("symlink target = %q, want %q", target, filepath.Join(a.Dir, "bin", "greet"))
	}

	data, err := os.ReadFile(filepath.Join(profileDir, "profile.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("profile.json is empty")
	}
}

func TestAssembleConflictingEnvVars(t *testing.T) {
	root := t.TempDir()
	a := writeArtifact(t, root, "alpha", nil, nil, map[string]string{"SHARED": "alpha"})
	b := writeArtifact(t, root, "beta", nil, nil, map[string]string{"SHARED": "beta"})

	profileDir := filepath.Join(root, "profile")
	err := Assemble(context.Background(), []Artifact{a, b}, profileDir)
	if err == nil {
		t.Fatal("expected a conflict error, got nil")
	}
	if _, ok := err.(*ErrConflict); !ok {
		t.Errorf("error = %v (%T), want *ErrConflict", err, err)
	}
}

func TestAssembleAbsorbSharesDirectory(t *testing.T) {
	root := t.TempDir()
	a := writeArtifact(t, root, "docs-a", map[string]string{
		"share/man/man1/a.1": "a",
	}, []spec.LinkRule{
		{Action: "absorb", Select: "**/*", Prefix: "share", Target: "share"},
	}, nil)
	b := writeArtifact(t, root, "docs-b", map[string]string{
		"share/man/man1/b.1": "b",
	}, []spec.LinkRule{
		{Action: "absorb", Select: "**/*", Prefix: "share", Target: "share"},
	}, nil)

	profileDir := filepath.Join(root, "profile")
	if err := Assemble(context.Background(), []Artifact{a, b}, profileDir); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"a.1", "b.1"} {
		p := filepath.Join(profileDir, "share", "man", "man1", name)
		if _, err := os.Lstat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
}
