package buildinfo

import (
	"path/filepath"
	"testing"
)

func TestSaveLoad(t *testing.T) {
	info := New()
	info.Update("PREFIX", "/opt/install")
	info.Update("UUID_PREFIX", "/usr")
	info.Update("BUILD_DIR", "/src/build/release")

	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := info.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Get("PREFIX") != "/opt/install" {
		t.Fatalf("got %q", loaded.Get("PREFIX"))
	}

	keys := loaded.Keys()
	if len(keys) != 3 || keys[0] != "BUILD_DIR" || keys[1] != "PREFIX" || keys[2] != "UUID_PREFIX" {
		t.Fatalf("keys not sorted: %v", keys)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), DefaultFile)); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
