package buildenv

import (
	"strings"
	"testing"
)

func TestAppendUnique(t *testing.T) {
	env := New()

	env.AppendUnique(CPPPath, "/a/include", "/b/include")
	env.AppendUnique(CPPPath, "/a/include")
	env.AppendUnique(CPPPath, "/b/include", "/c/include")

	got := env.Get(CPPPath)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %v", got)
	}
	if got[0] != "/a/include" || got[1] != "/b/include" || got[2] != "/c/include" {
		t.Fatalf("order not preserved: %v", got)
	}
}

func TestSubst(t *testing.T) {
	env := New()
	env.Set("PREFIX", "/opt/thing")

	if got := env.Subst("$PREFIX/bin"); got != "/opt/thing/bin" {
		t.Fatalf("got %q", got)
	}
	if got := env.Subst("${PREFIX}/lib"); got != "/opt/thing/lib" {
		t.Fatalf("got %q", got)
	}
	if got := env.Subst("$$ORIGIN/../lib"); got != "$ORIGIN/../lib" {
		t.Fatalf("got %q", got)
	}
	if got := env.Subst("$MISSING/x"); got != "/x" {
		t.Fatalf("unknown variable should expand empty, got %q", got)
	}
}

func TestClone(t *testing.T) {
	env := New()
	env.AppendUnique(Libs, "uuid")
	env.Set("PREFIX", "/one")
	env.SetEnv("LC_ALL", "C")

	clone := env.Clone()
	clone.AppendUnique(Libs, "crypto")
	clone.Set("PREFIX", "/two")

	if len(env.Get(Libs)) != 1 {
		t.Fatalf("clone mutated the original: %v", env.Get(Libs))
	}
	if env.Var("PREFIX") != "/one" {
		t.Fatal("clone mutated scalar variable")
	}
	if clone.GetEnv("LC_ALL") != "C" {
		t.Fatal("clone lost process environment")
	}
}

func TestEnvPathInsert(t *testing.T) {
	env := New()
	env.SetEnv("PATH", "/usr/bin")

	env.PrependENVPath("PATH", "/opt/bin")
	env.PrependENVPath("PATH", "/opt/bin")
	env.AppendENVPath("PATH", "/usr/bin")

	if got := env.GetEnv("PATH"); got != "/opt/bin:/usr/bin" {
		t.Fatalf("got %q", got)
	}

	env.AppendENVPath("LD_LIBRARY_PATH", "/opt/lib")
	if got := env.GetEnv("LD_LIBRARY_PATH"); got != "/opt/lib" {
		t.Fatalf("got %q", got)
	}
}

func TestMergeFlags(t *testing.T) {
	env := New()
	env.MergeFlags([]string{"-I/x/include", "-L/x/lib", "-luuid", "-DFOO=1", "-Wl,--as-needed", "-O2"})

	if got := env.Get(CPPPath); len(got) != 1 || got[0] != "/x/include" {
		t.Fatalf("CPPPATH: %v", got)
	}
	if got := env.Get(LibPath); len(got) != 1 || got[0] != "/x/lib" {
		t.Fatalf("LIBPATH: %v", got)
	}
	if got := env.Get(Libs); len(got) != 1 || got[0] != "uuid" {
		t.Fatalf("LIBS: %v", got)
	}
	if got := env.Get(CPPDefines); len(got) != 1 || got[0] != "FOO=1" {
		t.Fatalf("CPPDEFINES: %v", got)
	}
	if got := env.Get(LinkFlags); len(got) != 1 || !strings.HasPrefix(got[0], "-Wl,") {
		t.Fatalf("LINKFLAGS: %v", got)
	}
	if got := env.Get(CCFlags); len(got) != 1 || got[0] != "-O2" {
		t.Fatalf("CCFLAGS: %v", got)
	}
}
