package buildenv

import (
	"os"
	"strings"
)

// Construction variable names used by the engine. The values are ordered,
// duplicate-suppressed string lists.
const (
	CPPPath    = "CPPPATH"
	CPPDefines = "CPPDEFINES"
	LibPath    = "LIBPATH"
	Libs       = "LIBS"
	RPath      = "RPATH"
	RPathFull  = "RPATH_FULL"
	LinkFlags  = "LINKFLAGS"
	CCFlags    = "CCFLAGS"
)

// Env is the shared construction environment. It accumulates search paths,
// link inputs and defines for compiling against prerequisite components,
// scalar variables used for $VAR substitution in build commands, and the
// process environment passed to subcommands.
//
// A single Env is mutated in place by every Require call. Callers needing
// isolation must Clone explicitly.
type Env struct {
	lists  map[string][]string
	vars   map[string]string
	env    map[string]string
	prober Prober
}

func New() *Env {
	e := &Env{
		lists:  make(map[string][]string),
		vars:   make(map[string]string),
		env:    make(map[string]string),
		prober: &PathProber{},
	}

	if path := os.Getenv("PATH"); path != "" {
		e.env["PATH"] = path
	}

	return e
}

// Clone returns a deep copy sharing only the prober.
func (e *Env) Clone() *Env {
	n := &Env{
		lists:  make(map[string][]string, len(e.lists)),
		vars:   make(map[string]string, len(e.vars)),
		env:    make(map[string]string, len(e.env)),
		prober: e.prober,
	}
	for k, v := range e.lists {
		n.lists[k] = append([]string(nil), v...)
	}
	for k, v := range e.vars {
		n.vars[k] = v
	}
	for k, v := range e.env {
		n.env[k] = v
	}
	return n
}

// AppendUnique appends values to a list variable, skipping entries already
// present so repeated propagation never duplicates or reorders.
func (e *Env) AppendUnique(key string, values ...string) {
	cur := e.lists[key]
	for _, val := range values {
		found := false
		for _, existing := range cur {
			if existing == val {
				found = true
				break
			}
		}
		if !found {
			cur = append(cur, val)
		}
	}
	e.lists[key] = cur
}

// Get returns the contents of a list variable.
func (e *Env) Get(key string) []string {
	return e.lists[key]
}

// Set replaces a scalar substitution variable.
func (e *Env) Set(key, value string) {
	e.vars[key] = value
}

func (e *Env) Var(key string) string {
	return e.vars[key]
}

// Subst expands $VAR and ${VAR} references against the scalar variables.
// Unknown variables expand to the empty string and $$ escapes a literal
// dollar sign, as in the build backend.
func (e *Env) Subst(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			if end := strings.IndexByte(s[i+2:], '}'); end >= 0 {
				b.WriteString(e.vars[s[i+2:i+2+end]])
				i += 2 + end
				continue
			}
		}
		j := i + 1
		for j < len(s) && (isAlnum(s[j]) || s[j] == '_') {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			continue
		}
		b.WriteString(e.vars[s[i+1:j]])
		i = j - 1
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (e *Env) SetEnv(key, value string) {
	e.env[key] = value
}

func (e *Env) GetEnv(key string) string {
	return e.env[key]
}

// AppendENVPath appends a directory to a PATH-style process environment
// variable unless it is already listed.
func (e *Env) AppendENVPath(key, dir string) {
	e.insertENVPath(key, dir, false)
}

// PrependENVPath prepends a directory to a PATH-style process environment
// variable unless it is already listed.
func (e *Env) PrependENVPath(key, dir string) {
	e.insertENVPath(key, dir, true)
}

func (e *Env) insertENVPath(key, dir string, front bool) {
	cur := e.env[key]
	if cur == "" {
		e.env[key] = dir
		return
	}
	for _, p := range strings.Split(cur, string(os.PathListSeparator)) {
		if p == dir {
			return
		}
	}
	if front {
		e.env[key] = dir + string(os.PathListSeparator) + cur
	} else {
		e.env[key] = cur + string(os.PathListSeparator) + dir
	}
}

// Environ renders the process environment for exec.
func (e *Env) Environ() []string {
	var ret []string
	for k, v := range e.env {
		ret = append(ret, k+"="+v)
	}
	return ret
}

func (e *Env) Prober() Prober {
	return e.prober
}

func (e *Env) SetProber(p Prober) {
	e.prober = p
}
