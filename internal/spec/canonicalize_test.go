package spec

import "testing"

func simpleBuildSpec() *BuildSpec {
	return &BuildSpec{
		Name:    "foo",
		Version: "1.0",
		Build: Job{
			Import: []Import{{Ref: "sh", ID: "virtual:sh"}},
			Commands: []Command{
				{Cmd: []string{"${sh}/bin/sh", "-c", "true"}},
			},
		},
	}
}

func TestCanonicalizeKeyOrderIndependent(t *testing.T) {
	b := simpleBuildSpec()
	b.Build.Commands[0].Env = map[string]string{"A": "1", "B": "2"}
	resolved := map[string]string{"sh": "virtual:sh"}

	id1, err := Canonicalize(b, resolved)
	if err != nil {
		t.Fatal(err)
	}

	b2 := simpleBuildSpec()
	b2.Build.Commands[0].Env = map[string]string{"B": "2", "A": "1"}
	id2, err := Canonicalize(b2, resolved)
	if err != nil {
		t.Fatal(err)
	}

	if id1.Hash != id2.Hash {
		t.Errorf("hash depends on env map iteration order: %s vs %s", id1.Hash, id2.Hash)
	}
}

func TestCanonicalizeNohashExempt(t *testing.T) {
	resolved := map[string]string{"sh": "virtual:sh"}

	b1 := simpleBuildSpec()
	b1.Build.Commands[0].Env = map[string]string{"MAKEFLAGS_nohash": "-j1"}
	id1, err := Canonicalize(b1, resolved)
	if err != nil {
		t.Fatal(err)
	}

	b2 := simpleBuildSpec()
	b2.Build.Commands[0].Env = map[string]string{"MAKEFLAGS_nohash": "-j8"}
	id2, err := Canonicalize(b2, resolved)
	if err != nil {
		t.Fatal(err)
	}

	if id1.Hash != id2.Hash {
		t.Errorf("_nohash key changed the hash: %s vs %s", id1.Hash, id2.Hash)
	}

	b3 := simpleBuildSpec()
	b3.Build.Commands[0].Env = map[string]string{"MAKEFLAGS": "-j1"}
	id3, err := Canonicalize(b3, resolved)
	if err != nil {
		t.Fatal(err)
	}
	if id1.Hash == id3.Hash {
		t.Errorf("a hashed (non-_nohash) key should change the hash")
	}
}

func TestCanonicalizeEmptyVersionNormalized(t *testing.T) {
	b := simpleBuildSpec()
	b.Version = ""
	resolved := map[string]string{"sh": "virtual:sh"}
	id, err := Canonicalize(b, resolved)
	if err != nil {
		t.Fatal(err)
	}
	if id.Version != "n" {
		t.Errorf("empty version should canonicalize to %q, got %q", "n", id.Version)
	}
}

func TestValidateRejectsBadName(t *testing.T) {
	b := simpleBuildSpec()
	b.Name = "bad name"
	if err := b.Validate(); err == nil {
		t.Error("expected validation error for name with a space")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	b := simpleBuildSpec()
	b.Version = "1.0/oops"
	if err := b.Validate(); err == nil {
		t.Error("expected validation error for version with a slash")
	}
}

func TestValidateRejectsNonSubstitutionFirstToken(t *testing.T) {
	b := simpleBuildSpec()
	b.Build.Commands[0].Cmd = []string{"/bin/sh", "-c", "true"}
	if err := b.Validate(); err == nil {
		t.Error("expected validation error when the first command token isn't a ${ref} substitution")
	}
}

func TestValidateRejectsUndeclaredImportRef(t *testing.T) {
	b := simpleBuildSpec()
	b.Build.Commands[0].Cmd = []string{"${nope}/bin/sh", "-c", "true"}
	if err := b.Validate(); err == nil {
		t.Error("expected validation error for a command referencing an undeclared import")
	}
}

func TestValidateAllowsHitWithoutDeclaration(t *testing.T) {
	b := &BuildSpec{
		Name:    "profile",
		Version: "1",
		Build: Job{
			Commands: []Command{
				{Cmd: []string{"${hit}/hdist", "__assemble-profile", "$ARTIFACT"}},
			},
		},
	}
	if err := b.Validate(); err != nil {
		t.Errorf("hit should be exempt from the declared-import check: %v", err)
	}
}

func TestCanonicalizeInputsAffectHash(t *testing.T) {
	resolved := map[string]string{"sh": "virtual:sh"}

	b1 := simpleBuildSpec()
	b1.Build.Commands[0].Inputs = "one"
	id1, err := Canonicalize(b1, resolved)
	if err != nil {
		t.Fatal(err)
	}

	b2 := simpleBuildSpec()
	b2.Build.Commands[0].Inputs = "two"
	id2, err := Canonicalize(b2, resolved)
	if err != nil {
		t.Fatal(err)
	}

	if id1.Hash == id2.Hash {
		t.Error("differing command inputs produced the same hash")
	}

	b3 := simpleBuildSpec()
	id3, err := Canonicalize(b3, resolved)
	if err != nil {
		t.Fatal(err)
	}
	if id1.Hash == id3.Hash {
		t.Error("a spec with inputs set should differ from one without")
	}
}

func TestCanonicalizeProfileInstallParametersAffectHash(t *testing.T) {
	resolved := map[string]string{"sh": "virtual:sh"}

	b1 := simpleBuildSpec()
	b1.ProfileInstall = &ProfileInstall{
		Parameters: InstallParameters{
			Parameters: map[string]Value{"flavor": "a"},
		},
	}
	id1, err := Canonicalize(b1, resolved)
	if err != nil {
		t.Fatal(err)
	}

	b2 := simpleBuildSpec()
	b2.ProfileInstall = &ProfileInstall{
		Parameters: InstallParameters{
			Parameters: map[string]Value{"flavor": "b"},
		},
	}
	id2, err := Canonicalize(b2, resolved)
	if err != nil {
		t.Fatal(err)
	}

	if id1.Hash == id2.Hash {
		t.Error("differing profile_install parameters produced the same hash")
	}

	b3 := simpleBuildSpec()
	b3.ProfileInstall = &ProfileInstall{
		Parameters: InstallParameters{
			Parameters: map[string]Value{"flavor": "a", "ignored_nohash": "x"},
		},
	}
	id3, err := Canonicalize(b3, resolved)
	if err != nil {
		t.Fatal(err)
	}
	if id1.Hash != id3.Hash {
		t.Errorf("a _nohash key in profile_install parameters changed the hash: %s vs %s", id1.Hash, id3.Hash)
	}
}

func TestCanonicalizeMissingImportResolution(t *testing.T) {
	b := simpleBuildSpec()
	if _, err := Canonicalize(b, map[string]string{}); err == nil {
		t.Error("expected an error when an import has no resolution entry")
	}
}
