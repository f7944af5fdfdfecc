package jobrunner

import (
	"strings"
	"testing"

	"hashdist.dev/hashdist/internal/spec"
)

func TestBuildEnvAccumulatesInOrder(t *testing.T) {
	imports := []ResolvedImport{
		{Ref: "zlib", ID: "zlib/1.2.7/abcd", Dir: "/opt/zlib", InEnv: true, ModifyEnv: spec.ImportModifyEnv{Lib: true, Include: true}},
		{Ref: "gcc", ID: "gcc/12/efgh", Dir: "/opt/gcc", InEnv: true, ModifyEnv: spec.ImportModifyEnv{Bin: true}, Before: []string{"zlib"}},
	}
	env, err := BuildEnv(imports, "/build", "/opt/out")
	if err != nil {
		t.Fatal(err)
	}
	if env.Ordered[0].Ref != "gcc" {
		t.Errorf("first ordered import = %s, want gcc (before constraint)", env.Ordered[0].Ref)
	}
	if !strings.Contains(env.Vars["PATH"], "/opt/gcc/bin") {
		t.Errorf("PATH = %q, missing gcc bin", env.Vars["PATH"])
	}
	if !strings.Contains(env.Vars["HDIST_CFLAGS"], "/opt/zlib/include") {
		t.Errorf("HDIST_CFLAGS = %q, missing zlib include", env.Vars["HDIST_CFLAGS"])
	}
	if env.Vars["zlib"] != "/opt/zlib" {
		t.Errorf("zlib var = %q, want /opt/zlib", env.Vars["zlib"])
	}
	if env.Vars["zlib_id"] != "zlib/1.2.7/abcd" {
		t.Errorf("zlib_id = %q", env.Vars["zlib_id"])
	}
}

func TestBuildEnvVirtualAlias(t *testing.T) {
	imports := []ResolvedImport{
		{Ref: "unix", Declared: "virtual:unix", ID: "unix-env/1.0/abcd", Dir: "/opt/resolved-unix", InEnv: false},
	}
	env, err := BuildEnv(imports, "/build", "/opt/out")
	if err != nil {
		t.Fatal(err)
	}
	got := UnpackVirtuals(env.Vars["HDIST_VIRTUALS"])
	if got["unix"] != "unix-env/1.0/abcd" {
		t.Errorf("HDIST_VIRTUALS[unix] = %q, want the concrete resolution id", got["unix"])
	}
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"zlib": "/opt/zlib"}
	got := substitute(`${zlib}/bin/x \$not-a-var ${missing}`, vars)
	want := `/opt/zlib/bin/x $not-a-var ${missing}`
	if got != want {
		t.Errorf("substitute = %q, want %q", got, want)
	}
}
