// Package prereq defines and manages the external components required by a
// project: dependency resolution, install-prefix allocation, the
// retrieve/build decision state machine and environment propagation.
package prereq

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/exobuild/prereq/pkg/buildenv"
	"github.com/exobuild/prereq/pkg/buildinfo"
	"github.com/exobuild/prereq/pkg/common"
	"github.com/exobuild/prereq/pkg/runner"
)

// Process environment variables passed through to build subprocesses.
var passthroughEnv = []string{
	"HOME", "TERM", "SSH_AUTH_SOCK",
	"http_proxy", "https_proxy",
	"PKG_CONFIG_PATH", "MODULEPATH",
	"MODULESHOME", "MODULESLOADED",
}

// Registry owns the component definitions and drives their resolution. A
// component is required at most once per process: later Require calls
// replay the cached outcome (or the cached error) without re-running
// retrieval or build commands.
type Registry struct {
	opts Options

	env       *buildenv.Env
	systemEnv *buildenv.Env
	run       *runner.Runner

	defined  map[string]*Component
	required map[string]bool
	failures map[string]error

	prebuiltPaths map[string]string
	srcPaths      map[string]string

	info    *buildinfo.Info
	configs *Config

	buildDir     string
	srcBuildDir  string
	prereqPrefix string

	downloadDeps bool
	buildDeps    bool

	installed    []string
	include      []string
	buildTargets []string

	targetComponents map[string][]string
}

// New builds a registry around the shared top-level construction
// environment.
func New(env *buildenv.Env, opts Options) (*Registry, error) {
	opts.normalize()

	r := &Registry{
		opts:          opts,
		env:           env,
		defined:       make(map[string]*Component),
		required:      make(map[string]bool),
		failures:      make(map[string]error),
		prebuiltPaths: make(map[string]string),
		srcPaths:      make(map[string]string),
		info:          buildinfo.New(),
	}

	switch opts.BuildDeps {
	case BuildDepsYes, BuildDepsOnly:
		r.downloadDeps = true
		r.buildDeps = true
	case BuildDepsBuildOnly:
		r.buildDeps = true
	}

	for _, name := range passthroughEnv {
		if value := os.Getenv(name); value != "" {
			env.SetEnv(name, value)
		}
	}
	if opts.PrependPath != "" {
		env.PrependENVPath("PATH", opts.PrependPath)
	}
	if opts.LocaleName != "" {
		env.SetEnv("LC_ALL", opts.LocaleName)
	}

	topDir := opts.TopDir
	if topDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		topDir = wd
	}
	topDir, err := filepath.Abs(topDir)
	if err != nil {
		return nil, err
	}
	r.opts.TopDir = topDir

	r.srcBuildDir = r.subPath(filepath.Join(opts.BuildRoot, opts.BuildType))
	env.Set("BUILD_DIR", r.srcBuildDir)
	if err := common.Ensure(r.srcBuildDir, opts.DryRun); err != nil {
		return nil, err
	}
	r.info.Update("BUILD_DIR", r.srcBuildDir)

	// Prerequisites build in a sub-dir based on the selected target type.
	r.buildDir = r.subPath(filepath.Join(opts.BuildRoot, "external", r.opts.TargetType))
	if err := common.Ensure(r.buildDir, opts.DryRun); err != nil {
		return nil, err
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = filepath.Join(topDir, "install")
	}
	r.opts.Prefix = prefix
	env.Set("PREFIX", prefix)
	r.info.Update("PREFIX", prefix)
	r.prereqPrefix = filepath.Join(prefix, "prereq", r.opts.TargetType)

	if opts.EnvScript != "" {
		r.info.Update("ENV_SCRIPT", opts.EnvScript)
	}

	r.run = runner.New(opts.Jobs, opts.DryRun)

	if opts.ConfigFile != "" {
		configs, err := LoadBuildConfig(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		r.configs = configs
	}

	r.installed = opts.UseInstalled
	r.include = opts.Include
	r.buildTargets = resolveTargets(opts.Targets)

	r.systemEnv = env.Clone()

	return r, nil
}

// resolveTargets expands the requested build targets: test (or no explicit
// target) selects everything.
func resolveTargets(targets []string) []string {
	if len(targets) == 0 || contains(targets, "test") {
		return []string{"client", "server", "test"}
	}
	var ret []string
	for _, t := range []string{"client", "server"} {
		if contains(targets, t) {
			ret = append(ret, t)
		}
	}
	return ret
}

func (r *Registry) subPath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(r.opts.TopDir, path)
}

// Env returns the shared top-level construction environment.
func (r *Registry) Env() *buildenv.Env { return r.env }

// Runner returns the command runner used for retrieval and builds.
func (r *Registry) Runner() *runner.Runner { return r.run }

// BuildInfo returns the accumulated build-vars snapshot.
func (r *Registry) BuildInfo() *buildinfo.Info { return r.info }

// SaveBuildInfo persists the snapshot at the tree root for downstream
// tooling.
func (r *Registry) SaveBuildInfo() error {
	if r.opts.DryRun {
		return nil
	}
	return r.info.Save(filepath.Join(r.opts.TopDir, buildinfo.DefaultFile))
}

// GetBuildDir returns the build directory for external components.
func (r *Registry) GetBuildDir() string { return r.buildDir }

// DryRun reports whether side effects are suppressed.
func (r *Registry) DryRun() bool { return r.opts.DryRun }

// SetDeps limits which default components Prebuild covers when the build
// policy is "only".
func (r *Registry) SetDeps(deps []string) { r.opts.Deps = deps }

// GetSrcBuildDir returns the directory hosting intermediate build files.
func (r *Registry) GetSrcBuildDir() string { return r.srcBuildDir }

// PrereqPrefix returns the shared install prefix for built prerequisites.
func (r *Registry) PrereqPrefix() string { return r.prereqPrefix }

func (r *Registry) ServerRequested() bool { return contains(r.buildTargets, "server") }
func (r *Registry) ClientRequested() bool { return contains(r.buildTargets, "client") }
func (r *Registry) TestRequested() bool   { return contains(r.buildTargets, "test") }

// Define registers an external prerequisite component.
func (r *Registry) Define(name string, spec ComponentSpec) {
	useInstalled := contains(r.installed, "all") || contains(r.installed, name)
	r.defined[name] = newComponent(r, name, useInstalled, spec)
}

// GetComponent returns a component definition.
func (r *Registry) GetComponent(name string) (*Component, error) {
	comp, ok := r.defined[name]
	if !ok {
		return nil, &MissingDefinitionError{Component: name}
	}
	return comp, nil
}

// Included reports whether optional components are enabled by the include
// list. Non-optional components are always included.
func (r *Registry) Included(names ...string) bool {
	for _, name := range names {
		comp, ok := r.defined[name]
		if !ok || !comp.spec.Optional {
			continue
		}
		if !contains(r.include, name) && !contains(r.include, "all") {
			return false
		}
	}
	return true
}

// RequireOptions modify a Require call.
type RequireOptions struct {
	// HeadersOnly skips library configuration entirely.
	HeadersOnly bool
	// Libs overrides the default libraries per component name. Ignored
	// when HeadersOnly is set.
	Libs map[string][]string
}

// Require ensures components are available, building them if necessary,
// and applies their environment to env. It reports whether any component
// changed.
func (r *Registry) Require(env *buildenv.Env, names ...string) (bool, error) {
	return r.RequireWith(env, RequireOptions{}, names...)
}

// RequireWith is Require with per-call options.
func (r *Registry) RequireWith(env *buildenv.Env, opts RequireOptions, names ...string) (bool, error) {
	changes := false

	for _, name := range names {
		comp, ok := r.defined[name]
		if !ok {
			return changes, &MissingDefinitionError{Component: name}
		}
		if err, ok := r.failures[name]; ok {
			return changes, err
		}

		var neededLibs []string
		if !opts.HeadersOnly {
			if override, ok := opts.Libs[name]; ok {
				neededLibs = override
			} else {
				neededLibs = comp.spec.Libs
			}
			if neededLibs == nil {
				neededLibs = []string{}
			}
		}

		if changed, ok := r.required[name]; ok {
			if r.opts.Help {
				continue
			}
			// Checkout and build done previously.
			comp.SetEnvironment(env, neededLibs)
			if r.opts.Clean {
				continue
			}
			if changed {
				changes = true
			}
			continue
		}

		r.required[name] = false
		if comp.IsInstalled(neededLibs) {
			continue
		}

		if err := r.build(env, comp, neededLibs); err != nil {
			// Save the failure in case the component is requested again.
			r.failures[name] = err
			slog.Error("component failed", "component", name, "err", err)
			return changes, err
		}

		if r.required[name] {
			changes = true
		}
	}

	return changes, nil
}

func (r *Registry) build(env *buildenv.Env, comp *Component, neededLibs []string) error {
	if err := comp.Configure(); err != nil {
		return err
	}

	built, err := comp.Build(env, neededLibs)
	if err != nil {
		return err
	}

	if built {
		r.required[comp.name] = true
	} else {
		r.modifyPrefix(comp)
	}

	// Set the environment again: new directories may be present.
	comp.SetEnvironment(env, neededLibs)
	return nil
}

// modifyPrefix rewrites the recorded prefix to /usr for components that
// were neither fetched nor installed under the prereq prefix.
func (r *Registry) modifyPrefix(comp *Component) {
	if comp.spec.Package != "" {
		return
	}

	prefixVar := strings.ToUpper(comp.name) + "_PREFIX"

	srcMissing := true
	if comp.srcPath != "" {
		if ok, _ := common.Exists(comp.srcPath); ok {
			srcMissing = false
		}
	} else {
		srcMissing = false
	}

	if !srcMissing {
		return
	}
	if ok, _ := common.Exists(filepath.Join(r.prereqPrefix, comp.name)); ok {
		return
	}
	if ok, _ := common.Exists(r.env.Var(prefixVar)); ok {
		return
	}

	r.saveComponentPrefix(prefixVar, "/usr")
}

// Availability is the explicit result of an optional-component check.
type Availability struct {
	Available bool
	// Reason explains an unavailable result.
	Reason error
}

// CheckComponent probes component availability against a private clone of
// the top environment. In strict mode (RequireOptional) a failure is
// returned as an error instead of an unavailable result.
func (r *Registry) CheckComponent(names ...string) (Availability, error) {
	env := r.env.Clone()
	if _, err := r.Require(env, names...); err != nil {
		if r.opts.RequireOptional {
			return Availability{}, err
		}
		return Availability{Available: false, Reason: err}, nil
	}
	return Availability{Available: true}, nil
}

// IsInstalled reports whether a component is satisfied by a system
// install.
func (r *Registry) IsInstalled(name string) bool {
	avail, err := r.CheckComponent(name)
	if err != nil || !avail.Available {
		return false
	}
	comp, ok := r.defined[name]
	return ok && comp.useInstalled
}

// GetPrebuiltPath searches the alternate-prefix list for a location that
// satisfies the component. The result, including a negative one, is
// memoized.
func (r *Registry) GetPrebuiltPath(comp *Component, name string) string {
	if path, ok := r.prebuiltPaths[name]; ok {
		return path
	}

	var paths []string
	if r.opts.AltPrefix != "" {
		paths = strings.Split(r.opts.AltPrefix, string(os.PathListSeparator))
	}

	for _, path := range paths {
		ipath := filepath.Join(path, "include")
		if ok, _ := common.Exists(ipath); !ok {
			ipath = ""
		}
		lpath := ""
		for _, lib := range []string{"lib64", "lib"} {
			candidate := filepath.Join(path, lib)
			if ok, _ := common.Exists(candidate); ok {
				lpath = candidate
				break
			}
		}
		if ipath == "" && lpath == "" {
			continue
		}

		env := r.env.Clone()
		if ipath != "" {
			env.AppendUnique(buildenv.CPPPath, ipath)
		}
		if lpath != "" {
			env.AppendUnique(buildenv.LibPath, lpath)
		}
		if !comp.HasMissingTargets(env) {
			r.prebuiltPaths[name] = path
			return path
		}
	}

	r.prebuiltPaths[name] = ""
	return ""
}

func (r *Registry) saveComponentPrefix(name, value string) {
	r.env.Set(name, value)
	r.info.Update(name, value)
}

// GetPrefixes returns the component's install prefix and the global
// prefix, recording the chosen component prefix into build info.
func (r *Registry) GetPrefixes(name, prebuiltPath string) (string, string) {
	prefix := r.env.Var("PREFIX")
	compPrefix := strings.ToUpper(name) + "_PREFIX"

	if prebuiltPath != "" {
		r.saveComponentPrefix(compPrefix, prebuiltPath)
		return prebuiltPath, prefix
	}

	targetPrefix := filepath.Join(r.prereqPrefix, name)
	r.saveComponentPrefix(compPrefix, targetPrefix)
	return targetPrefix, prefix
}

// GetSrcPath returns the source location for an external component.
func (r *Registry) GetSrcPath(name string) string {
	if path, ok := r.srcPaths[name]; ok {
		return path
	}
	path := filepath.Join(r.buildDir, name)
	r.srcPaths[name] = path
	return path
}

// GetConfig looks up a pinned branch/commit/patch entry.
func (r *Registry) GetConfig(section, name string) string {
	if r.configs == nil {
		return ""
	}
	return r.configs.Get(section, name)
}

// LoadConfig merges a component's additional config file found alongside
// its fetched source.
func (r *Registry) LoadConfig(name, path string) error {
	if r.configs == nil {
		return nil
	}
	configPath := r.configs.Get("configs", name)
	if configPath == "" {
		return nil
	}
	fullPath := filepath.Join(path, configPath)
	fmt.Printf("Reading config file for %s from %s\n", name, fullPath)
	return r.configs.Merge(fullPath)
}

// SetTargetComponents records the component sets the definition script
// assigns to each build target ("common", "client", "server", "test").
func (r *Registry) SetTargetComponents(sets map[string][]string) {
	r.targetComponents = sets
}

// DefaultComponents returns the components to prebuild for the requested
// targets.
func (r *Registry) DefaultComponents() []string {
	if r.targetComponents == nil {
		return nil
	}

	reqs := append([]string(nil), r.targetComponents["common"]...)
	if r.TestRequested() {
		reqs = append(reqs, r.targetComponents["test"]...)
	}
	if r.ServerRequested() {
		reqs = append(reqs, r.targetComponents["server"]...)
	}
	if r.ClientRequested() {
		reqs = append(reqs, r.targetComponents["client"]...)
	}
	return reqs
}

// Prebuild requires the default component set, each against a private
// environment clone.
func (r *Registry) Prebuild() error {
	reqs := r.DefaultComponents()
	if r.opts.BuildDeps == BuildDepsOnly && len(r.opts.Deps) > 0 {
		// Optionally limit the deps built in this pass.
		reqs = r.opts.Deps
	}

	for _, name := range reqs {
		if !r.Included(name) {
			continue
		}
		env := r.env.Clone()
		if _, err := r.Require(env, name); err != nil {
			return err
		}
	}

	return nil
}
