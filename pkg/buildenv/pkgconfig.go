package buildenv

import (
	"fmt"
	"os/exec"
	"strings"
)

// MergeFlags folds compiler/linker flag tokens into the environment the way
// the build backend's ParseConfig does: include and library search paths,
// link libraries and defines land in their list variables, -Wl options in
// LINKFLAGS and anything else in CCFLAGS.
func (e *Env) MergeFlags(tokens []string) {
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, "-I"):
			e.AppendUnique(CPPPath, strings.TrimPrefix(tok, "-I"))
		case strings.HasPrefix(tok, "-L"):
			e.AppendUnique(LibPath, strings.TrimPrefix(tok, "-L"))
		case strings.HasPrefix(tok, "-l"):
			e.AppendUnique(Libs, strings.TrimPrefix(tok, "-l"))
		case strings.HasPrefix(tok, "-D"):
			e.AppendUnique(CPPDefines, strings.TrimPrefix(tok, "-D"))
		case strings.HasPrefix(tok, "-Wl,"):
			e.AppendUnique(LinkFlags, tok)
		default:
			e.AppendUnique(CCFlags, tok)
		}
	}
}

// ParseConfig runs pkg-config with the given option (--cflags or --libs)
// and merges the reported flags. Callers treat failure as best-effort.
func ParseConfig(e *Env, opts, name string) error {
	pkgConfig, err := LookPath(e, "pkg-config")
	if err != nil {
		return fmt.Errorf("pkg-config not found: %w", err)
	}

	cmd := exec.Command(pkgConfig, opts, name)
	cmd.Env = e.Environ()

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("pkg-config %s %s: %w", opts, name, err)
	}

	e.MergeFlags(strings.Fields(string(out)))

	return nil
}
