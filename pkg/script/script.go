// Package script executes the component definition script. The script is
// written in Starlark and must declare a define_components function, which
// receives the registry and defines every external component with it.
package script

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/anmitsu/go-shlex"
	"github.com/exobuild/prereq/pkg/common"
	"github.com/exobuild/prereq/pkg/prereq"
	"github.com/exobuild/prereq/pkg/retriever"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultFile is the definition script looked up at the tree root.
const DefaultFile = "components.star"

func getFileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		Recursion:       true,
		GlobalReassign:  true,
	}
}

// Load executes the definition script and calls its define_components
// function with the registry.
func Load(reg *prereq.Registry, filename string) error {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	thread := &starlark.Thread{Name: filename}

	globals, err := starlark.ExecFileOptions(getFileOptions(), thread, filename, contents, getGlobals(reg))
	if err != nil {
		return scriptError(filename, err)
	}

	define, ok := globals["define_components"]
	if !ok {
		return &prereq.BadScriptError{
			Script: filename,
			Err:    fmt.Errorf("define_components function not found"),
		}
	}

	_, err = starlark.Call(thread, define, starlark.Tuple{&registryValue{reg: reg}}, []starlark.Tuple{})
	if err != nil {
		return scriptError(filename, err)
	}

	return nil
}

func scriptError(filename string, err error) error {
	trace := ""
	if sErr, ok := err.(*starlark.EvalError); ok {
		slog.Error("got starlark error", "error", sErr, "backtrace", sErr.Backtrace())
		trace = sErr.Backtrace()
	}
	return &prereq.BadScriptError{Script: filename, Trace: trace, Err: err}
}

func getGlobals(reg *prereq.Registry) starlark.StringDict {
	ret := starlark.StringDict{}

	ret["git"] = starlark.NewBuiltin("git", func(
		thread *starlark.Thread,
		fn *starlark.Builtin,
		args starlark.Tuple,
		kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		var (
			url        string
			branch     string
			submodules bool
		)

		if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
			"url", &url,
			"branch?", &branch,
			"submodules?", &submodules,
		); err != nil {
			return starlark.None, err
		}

		git := retriever.NewGitRetriever(reg.Runner(), reg.Env(), url)
		git.Branch = branch
		git.Submodules = submodules

		return &retrieverValue{name: "git", impl: git}, nil
	})

	ret["web"] = starlark.NewBuiltin("web", func(
		thread *starlark.Thread,
		fn *starlark.Builtin,
		args starlark.Tuple,
		kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		var (
			url    string
			md5sum string
		)

		if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
			"url", &url,
			"md5?", &md5sum,
		); err != nil {
			return starlark.None, err
		}

		web := retriever.NewWebRetriever(url, md5sum)
		web.DryRun = reg.DryRun()

		return &retrieverValue{name: "web", impl: web}, nil
	})

	return ret
}

// retrieverValue wraps a source retriever for use as a define() argument.
type retrieverValue struct {
	name string
	impl retriever.Retriever
}

func (r *retrieverValue) String() string      { return "Retriever{" + r.name + "}" }
func (*retrieverValue) Type() string          { return "Retriever" }
func (*retrieverValue) Hash() (uint32, error) { return 0, fmt.Errorf("Retriever is not hashable") }
func (*retrieverValue) Truth() starlark.Bool  { return starlark.True }
func (*retrieverValue) Freeze()               {}

var _ starlark.Value = &retrieverValue{}

// registryValue exposes the registry to the definition script.
type registryValue struct {
	reg *prereq.Registry
}

// Attr implements starlark.HasAttrs.
func (r *registryValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "define":
		return starlark.NewBuiltin("Registry.define", r.define), nil
	case "set_targets":
		return starlark.NewBuiltin("Registry.set_targets", r.setTargets), nil
	case "server_requested":
		return requestedBuiltin("Registry.server_requested", r.reg.ServerRequested), nil
	case "client_requested":
		return requestedBuiltin("Registry.client_requested", r.reg.ClientRequested), nil
	case "test_requested":
		return requestedBuiltin("Registry.test_requested", r.reg.TestRequested), nil
	default:
		return nil, nil
	}
}

// AttrNames implements starlark.HasAttrs.
func (r *registryValue) AttrNames() []string {
	return []string{"define", "set_targets", "server_requested", "client_requested", "test_requested"}
}

func (*registryValue) String() string        { return "Registry" }
func (*registryValue) Type() string          { return "Registry" }
func (*registryValue) Hash() (uint32, error) { return 0, fmt.Errorf("Registry is not hashable") }
func (*registryValue) Truth() starlark.Bool  { return starlark.True }
func (*registryValue) Freeze()               {}

var (
	_ starlark.Value    = &registryValue{}
	_ starlark.HasAttrs = &registryValue{}
)

func requestedBuiltin(name string, f func() bool) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(
		thread *starlark.Thread,
		fn *starlark.Builtin,
		args starlark.Tuple,
		kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		return starlark.Bool(f()), nil
	})
}

func (r *registryValue) define(
	thread *starlark.Thread,
	fn *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var (
		name          string
		libs          starlark.Iterable
		libsCC        string
		functions     *starlark.Dict
		headers       starlark.Iterable
		progs         starlark.Iterable
		pkgconfig     string
		requires      starlark.Iterable
		requiredLibs  starlark.Iterable
		requiredProgs starlark.Iterable
		defines       starlark.Iterable
		pkg           string
		commands      starlark.Iterable
		ret           starlark.Value
		extraLib      starlark.Iterable
		extraInclude  starlark.Iterable
		outOfSrc      bool
		patchRPath    starlark.Iterable
		optional      bool
	)

	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &name,
		"libs?", &libs,
		"libs_cc?", &libsCC,
		"functions?", &functions,
		"headers?", &headers,
		"progs?", &progs,
		"pkgconfig?", &pkgconfig,
		"requires?", &requires,
		"required_libs?", &requiredLibs,
		"required_progs?", &requiredProgs,
		"defines?", &defines,
		"package?", &pkg,
		"commands?", &commands,
		"retriever?", &ret,
		"extra_lib_path?", &extraLib,
		"extra_include_path?", &extraInclude,
		"out_of_src_build?", &outOfSrc,
		"patch_rpath?", &patchRPath,
		"optional?", &optional,
	); err != nil {
		return starlark.None, err
	}

	spec := prereq.ComponentSpec{
		LibsCC:        libsCC,
		PkgConfig:     pkgconfig,
		Package:       pkg,
		OutOfSrcBuild: outOfSrc,
		Optional:      optional,
	}

	var err error
	for _, field := range []struct {
		dst *[]string
		src starlark.Iterable
	}{
		{&spec.Libs, libs},
		{&spec.Headers, headers},
		{&spec.Progs, progs},
		{&spec.Requires, requires},
		{&spec.RequiredLibs, requiredLibs},
		{&spec.RequiredProgs, requiredProgs},
		{&spec.Defines, defines},
		{&spec.ExtraLibPath, extraLib},
		{&spec.ExtraIncludePath, extraInclude},
		{&spec.PatchRPath, patchRPath},
	} {
		if field.src == nil {
			continue
		}
		*field.dst, err = common.ToStringList(field.src)
		if err != nil {
			return starlark.None, err
		}
	}

	if functions != nil {
		spec.Functions = make(map[string][]string)
		for _, item := range functions.Items() {
			lib, ok := starlark.AsString(item[0])
			if !ok {
				return starlark.None, fmt.Errorf("could not convert %s to string", item[0].Type())
			}
			it, ok := item[1].(starlark.Iterable)
			if !ok {
				return starlark.None, fmt.Errorf("could not convert %s to Iterable", item[1].Type())
			}
			funcs, err := common.ToStringList(it)
			if err != nil {
				return starlark.None, err
			}
			spec.Functions[lib] = funcs
		}
	}

	if commands != nil {
		spec.Commands, err = toCommands(commands)
		if err != nil {
			return starlark.None, err
		}
	}

	if ret != nil && ret != starlark.None {
		retVal, ok := ret.(*retrieverValue)
		if !ok {
			return starlark.None, fmt.Errorf("could not convert %s to Retriever", ret.Type())
		}
		spec.Retriever = retVal.impl
	}

	r.reg.Define(name, spec)

	return starlark.None, nil
}

// toCommands converts a list of build commands. Each command is either a
// string, split with shell quoting rules, or a list of argument tokens.
func toCommands(it starlark.Iterable) ([][]string, error) {
	iter := it.Iterate()
	defer iter.Done()

	var ret [][]string

	var val starlark.Value
	for iter.Next(&val) {
		if str, ok := starlark.AsString(val); ok {
			tokens, err := shlex.Split(str, true)
			if err != nil {
				return nil, fmt.Errorf("could not split command %q: %v", str, err)
			}
			ret = append(ret, tokens)
			continue
		}

		sub, ok := val.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("could not convert %s to command", val.Type())
		}
		tokens, err := common.ToStringList(sub)
		if err != nil {
			return nil, err
		}
		ret = append(ret, tokens)
	}

	return ret, nil
}

func (r *registryValue) setTargets(
	thread *starlark.Thread,
	fn *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var (
		commonSet starlark.Iterable
		clientSet starlark.Iterable
		serverSet starlark.Iterable
		testSet   starlark.Iterable
	)

	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"common?", &commonSet,
		"client?", &clientSet,
		"server?", &serverSet,
		"test?", &testSet,
	); err != nil {
		return starlark.None, err
	}

	sets := make(map[string][]string)
	for name, it := range map[string]starlark.Iterable{
		"common": commonSet,
		"client": clientSet,
		"server": serverSet,
		"test":   testSet,
	} {
		if it == nil {
			continue
		}
		list, err := common.ToStringList(it)
		if err != nil {
			return starlark.None, err
		}
		sets[name] = list
	}

	r.reg.SetTargetComponents(sets)

	return starlark.None, nil
}
