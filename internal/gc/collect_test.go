package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hashdist.dev/hashdist/internal/buildstore"
	"hashdist.dev/hashdist/internal/jobrunner"
	"hashdist.dev/hashdist/internal/sourcecache"
	"hashdist.dev/hashdist/internal/spec"
)

func leafSpec(name string) *spec.BuildSpec {
	return &spec.BuildSpec{
		Name:    name,
		Version: "1",
		Build: spec.Job{
			Import: []spec.Import{{Ref: "sh", ID: "sh/0/0000"}},
			Commands: []spec.Command{
				{Cmd: []string{"${sh}/sh", "-c", "touch \"$ARTIFACT/marker\""}},
			},
		},
	}
}

func shImport() jobrunner.ResolvedImport {
	return jobrunner.ResolvedImport{Ref: "sh", Declared: "sh/0/0000", ID: "sh/0/0000", Dir: "/bin", InEnv: true}
}

func TestCollectRetainsRootedAndRemovesOrphans(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available in this environment")
	}
	ctx := context.Background()
	root := t.TempDir()
	store, err := buildstore.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := sourcecache.Open(filepath.Join(root, "sources"))
	if err != nil {
		t.Fatal(err)
	}
	imports := []jobrunner.ResolvedImport{shImport()}

	kept, err := store.Build(ctx, leafSpec("kept"), imports, sc)
	if err != nil {
		t.Fatal(err)
	}
	orphan, err := store.Build(ctx, leafSpec("orphan"), imports, sc)
	if err != nil {
		t.Fatal(err)
	}

	roots, err := OpenRoots(filepath.Join(root, "gcroots"))
	if err != nil {
		t.Fatal(err)
	}
	if err := roots.Add("my-profile", kept.Dir); err != nil {
		t.Fatal(err)
	}

	report, err := Collect(ctx, root, roots, sc, DefaultPolicy(), false)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.KeptArtifacts) != 1 || report.KeptArtifacts[0] != kept.Dir {
		t.Errorf("KeptArtifacts = %v, want [%s]", report.KeptArtifacts, kept.Dir)
	}
	if len(report.RemovedArtifacts) != 1 || report.RemovedArtifacts[0] != orphan.Dir {
		t.Errorf("RemovedArtifacts = %v, want [%s]", report.RemovedArtifacts, orphan.Dir)
	}
	if _, err := os.Stat(kept.Dir); err != nil {
		t.Errorf("kept artifact was removed: %v", err)
	}
	if _, err := os.Stat(orphan.Dir); !os.IsNotExist(err) {
		t.Errorf("orphan artifact still exists: %v", err)
	}
}

func TestCollectDryRunRemovesNothing(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available in this environment")
	}
	ctx := context.Background()
	root := t.TempDir()
	store, err := buildstore.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := sourcecache.Open(filepath.Join(root, "sources"))
	if err != nil {
		t.Fatal(err)
	}
	imports := []jobrunner.ResolvedImport{shImport()}

	orphan, err := store.Build(ctx, leafSpec("orphan"), imports, sc)
	if err != nil {
		t.Fatal(err)
	}

	roots, err := OpenRoots(filepath.Join(root, "gcroots"))
	if err != nil {
		t.Fatal(err)
	}

	report, err := Collect(ctx, root, roots, sc, DefaultPolicy(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.RemovedArtifacts) != 1 {
		t.Fatalf("RemovedArtifacts = %v, want 1 entry", report.RemovedArtifacts)
	}
	if _, err := os.Stat(orphan.Dir); err != nil {
		t.Errorf("dry run removed artifact: %v", err)
	}
}
