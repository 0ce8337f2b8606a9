package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/exobuild/prereq/pkg/buildenv"
	"github.com/exobuild/prereq/pkg/prereq"
)

func writeScript(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRegistry(t *testing.T) *prereq.Registry {
	t.Helper()

	reg, err := prereq.New(buildenv.New(), prereq.Options{TopDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestLoadDefinesComponents(t *testing.T) {
	path := writeScript(t, `
def define_components(reqs):
    reqs.define(
        name = "uuid",
        libs = ["uuid"],
        headers = ["uuid/uuid.h"],
        package = "uuid-devel",
    )

    reqs.define(
        name = "argobots",
        retriever = git(url = "https://github.com/pmodels/argobots.git"),
        commands = [
            "./autogen.sh",
            ["./configure", "--prefix=$ARGOBOTS_PREFIX"],
            "make install",
        ],
        libs = ["abt"],
        headers = ["abt.h"],
    )

    reqs.set_targets(
        common = ["uuid"],
        server = ["argobots"],
    )
`)

	reg := newRegistry(t)
	if err := Load(reg, path); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.GetComponent("uuid"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.GetComponent("argobots"); err != nil {
		t.Fatal(err)
	}

	// No explicit target selects everything.
	defaults := reg.DefaultComponents()
	if len(defaults) != 2 {
		t.Fatalf("got %v", defaults)
	}
}

func TestLoadRequiresDefineComponents(t *testing.T) {
	path := writeScript(t, `x = 1`)

	err := Load(newRegistry(t), path)
	var scriptErr *prereq.BadScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("expected BadScriptError, got %v", err)
	}
}

func TestLoadReportsScriptFailure(t *testing.T) {
	path := writeScript(t, `
def define_components(reqs):
    reqs.define(name = "broken", retriever = 42)
`)

	err := Load(newRegistry(t), path)
	var scriptErr *prereq.BadScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("expected BadScriptError, got %v", err)
	}
	if scriptErr.Trace == "" {
		t.Fatal("expected a backtrace for a runtime failure")
	}
}

func TestTargetPredicates(t *testing.T) {
	path := writeScript(t, `
def define_components(reqs):
    if reqs.server_requested():
        reqs.define(name = "pmdk")
    if reqs.client_requested():
        reqs.define(name = "fuse")
`)

	reg, err := prereq.New(buildenv.New(), prereq.Options{
		TopDir:  t.TempDir(),
		Targets: []string{"server"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := Load(reg, path); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.GetComponent("pmdk"); err != nil {
		t.Fatal("server component should be defined:", err)
	}
	if _, err := reg.GetComponent("fuse"); err == nil {
		t.Fatal("client component should not be defined")
	}
}
