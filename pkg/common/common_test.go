package common

import (
	"path/filepath"
	"testing"

	"go.starlark.net/starlark"
)

func TestToStringList(t *testing.T) {
	list := starlark.NewList([]starlark.Value{
		starlark.String("a"),
		starlark.String("b"),
	})

	got, err := ToStringList(list)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}

	bad := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	if _, err := ToStringList(bad); err == nil {
		t.Fatal("expected an error for non-string elements")
	}
}

func TestEnsure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := Ensure(path, false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := Exists(path); !ok {
		t.Fatal("directory not created")
	}

	// Idempotent on an existing directory.
	if err := Ensure(path, false); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never")

	if err := Ensure(path, true); err != nil {
		t.Fatal(err)
	}
	if ok, _ := Exists(path); ok {
		t.Fatal("dry-run created the directory")
	}
}
