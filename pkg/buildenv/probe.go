package buildenv

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Prober answers the existence checks behind target verification. The
// default implementation probes the filesystem and PATH; toolchain-level
// probing (compile checks, symbol resolution) belongs to the build backend
// and can be plugged in through this interface.
type Prober interface {
	CheckProg(e *Env, prog string) bool
	CheckHeader(e *Env, header string) bool
	CheckLib(e *Env, lib string) bool
	CheckFunc(e *Env, lib, function string) bool
}

var defaultIncludePath = []string{"/usr/include", "/usr/local/include"}

var defaultLibDirs = []string{"/usr/lib64", "/usr/lib", "/usr/local/lib"}

type PathProber struct{}

func (*PathProber) CheckProg(e *Env, prog string) bool {
	if filepath.IsAbs(prog) {
		info, err := os.Stat(prog)
		return err == nil && info.Mode()&0o111 != 0
	}

	for _, dir := range strings.Split(e.GetEnv("PATH"), string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, prog))
		if err == nil && info.Mode()&0o111 != 0 {
			return true
		}
	}

	return false
}

func (*PathProber) CheckHeader(e *Env, header string) bool {
	dirs := append(append([]string(nil), e.Get(CPPPath)...), defaultIncludePath...)
	for _, dir := range dirs {
		if ok, _ := exists(filepath.Join(dir, header)); ok {
			return true
		}
	}
	return false
}

func (p *PathProber) CheckLib(e *Env, lib string) bool {
	dirs := append(append([]string(nil), e.Get(LibPath)...), defaultLibDirs...)
	for _, dir := range dirs {
		for _, pattern := range []string{"lib" + lib + ".so*", "lib" + lib + ".a"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err == nil && len(matches) > 0 {
				return true
			}
		}
	}
	return false
}

// CheckFunc verifies the library providing the function links at all.
// Resolving individual symbols needs the compiler and is out of scope for
// the path prober.
func (p *PathProber) CheckFunc(e *Env, lib, function string) bool {
	return p.CheckLib(e, lib)
}

func exists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ Prober = &PathProber{}

// LookPath resolves prog against the environment's PATH rather than the
// process's.
func LookPath(e *Env, prog string) (string, error) {
	if filepath.IsAbs(prog) {
		return prog, nil
	}
	for _, dir := range strings.Split(e.GetEnv("PATH"), string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		full := filepath.Join(dir, prog)
		if info, err := os.Stat(full); err == nil && info.Mode()&0o111 != 0 {
			return full, nil
		}
	}
	return exec.LookPath(prog)
}
