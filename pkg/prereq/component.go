package prereq

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/exobuild/prereq/pkg/buildenv"
	"github.com/exobuild/prereq/pkg/common"
	"github.com/exobuild/prereq/pkg/retriever"
)

// ComponentSpec describes an external component at definition time.
type ComponentSpec struct {
	// Libs are the library names dependent components link against.
	Libs []string
	// LibsCC optionally overrides the compiler used to test Libs.
	LibsCC string
	// Functions maps a library to functions expected from it.
	Functions map[string][]string
	// Headers and Progs expected once the component is available.
	Headers []string
	Progs   []string
	// PkgConfig names the pkg-config module to merge for installation
	// checks and dependent builds.
	PkgConfig string
	// Requires names prerequisite component definitions.
	Requires []string
	// RequiredLibs and RequiredProgs are system-level dependencies checked
	// before a source build starts.
	RequiredLibs  []string
	RequiredProgs []string
	// Defines needed to compile against the component.
	Defines []string
	// Package names an installable system package that can satisfy the
	// component instead of a source build.
	Package string
	// Commands build the component from source, in order.
	Commands [][]string
	// ConfigCB is a custom verification callback run before the standard
	// target checks.
	ConfigCB func(*buildenv.Env) bool
	// Retriever downloads the component source. Nil means the component is
	// assumed system-installed.
	Retriever retriever.Retriever
	// ExtraLibPath and ExtraIncludePath add subdirectories to the paths
	// propagated to dependent components.
	ExtraLibPath     []string
	ExtraIncludePath []string
	// OutOfSrcBuild builds in a directory separate from the source tree.
	OutOfSrcBuild bool
	// PatchRPath lists install subdirectories whose shared objects get
	// relative RPATHs after a build.
	PatchRPath []string
	// Optional components are only built when enabled by the include list.
	Optional bool
}

// Component tracks one external prerequisite through configure, verify,
// retrieve and build. Instances live for the whole process; Configure runs
// at most once and fixes the install prefix for good.
type Component struct {
	reg  *Registry
	name string
	spec ComponentSpec

	useInstalled bool
	targetsFound bool

	prebuiltPath    string
	componentPrefix string
	prefix          string
	srcPath         string
	buildPath       string

	libPath       []string
	includePath   []string
	requiredProgs []string

	checkOnly bool
	dryRun    bool
}

func newComponent(reg *Registry, name string, useInstalled bool, spec ComponentSpec) *Component {
	c := &Component{
		reg:          reg,
		name:         name,
		spec:         spec,
		useInstalled: useInstalled,
		checkOnly:    reg.opts.CheckOnly,
		dryRun:       reg.opts.DryRun,
	}

	c.libPath = append([]string{"lib", "lib64"}, defaultLibPath()...)
	c.libPath = append(c.libPath, spec.ExtraLibPath...)
	c.includePath = append([]string{"include"}, spec.ExtraIncludePath...)

	c.requiredProgs = append([]string(nil), spec.RequiredProgs...)
	if len(spec.PatchRPath) > 0 {
		c.requiredProgs = append(c.requiredProgs, "patchelf")
	}

	return c
}

func (c *Component) Name() string { return c.name }

// Prefix returns the component's install prefix once configured.
func (c *Component) Prefix() string { return c.componentPrefix }

// UseInstalled reports whether the component is being satisfied by a
// system install.
func (c *Component) UseInstalled() bool { return c.useInstalled }

// probeAllowed reports whether real existence probes may run. Pure dry-run
// disables them; check-only keeps them enabled so the report is accurate.
func (c *Component) probeAllowed() bool {
	return !c.dryRun || c.checkOnly
}

// Configure assigns the component's paths: a prebuilt location if one
// satisfies it, install prefixes, and source/build directories.
func (c *Component) Configure() error {
	if c.spec.Retriever == nil {
		c.prebuiltPath = "/usr"
	} else {
		c.prebuiltPath = c.reg.GetPrebuiltPath(c, c.name)
	}

	c.componentPrefix, c.prefix = c.reg.GetPrefixes(c.name, c.prebuiltPath)

	c.srcPath = ""
	if c.spec.Retriever != nil {
		c.srcPath = c.reg.GetSrcPath(c.name)
	}
	c.buildPath = c.srcPath
	if c.spec.OutOfSrcBuild {
		c.buildPath = filepath.Join(c.reg.GetBuildDir(), c.name+".build")
		if err := common.Ensure(c.buildPath, c.dryRun); err != nil {
			return err
		}
	}

	return nil
}

// IsInstalled checks whether a system install satisfies the component. A
// failed check permanently clears useInstalled.
func (c *Component) IsInstalled(neededLibs []string) bool {
	if !c.useInstalled {
		return false
	}
	env := c.reg.systemEnv.Clone()
	c.SetEnvironment(env, neededLibs)
	if c.HasMissingTargets(env) {
		c.useInstalled = false
		return false
	}
	return true
}

// HasMissingTargets runs the target-verification pipeline: pkg-config
// cflags, custom callback, programs, headers, libraries, functions. It
// short-circuits on the first failure. A passing result is cached; a
// failing one is re-checked next time since a build may fix it.
func (c *Component) HasMissingTargets(env *buildenv.Env) bool {
	if c.targetsFound {
		return false
	}

	if !c.probeAllowed() {
		fmt.Println("Would check for missing build targets")
		return true
	}

	// The pkg-config file may not exist yet; that is not a failure.
	c.parseConfig(env, "--cflags")

	if c.reg.opts.Help {
		return true
	}

	fmt.Printf("Checking targets for component '%s'\n", c.name)

	prober := env.Prober()

	if c.spec.ConfigCB != nil && !c.spec.ConfigCB(env) {
		return true
	}

	for _, prog := range c.spec.Progs {
		if !prober.CheckProg(env, prog) {
			return true
		}
	}

	for _, header := range c.spec.Headers {
		if !prober.CheckHeader(env, header) {
			return true
		}
	}

	for _, lib := range c.spec.Libs {
		if c.spec.LibsCC != "" {
			env.Set(strings.ToUpper(c.name)+"_PREFIX", c.componentPrefix)
			oldCC := env.Var("CC")
			env.Set("CC", c.spec.LibsCC)
			ok := prober.CheckLib(env, lib)
			env.Set("CC", oldCC)
			if !ok {
				return true
			}
			continue
		}
		if !prober.CheckLib(env, lib) {
			return true
		}
	}

	for lib, functions := range c.spec.Functions {
		for _, function := range functions {
			if !prober.CheckFunc(env, lib, function) {
				return true
			}
		}
	}

	c.targetsFound = true
	return false
}

// SetEnvironment propagates the component's paths, defines and libraries
// into env. All appends are duplicate-suppressing, so repeated calls are
// idempotent. A nil neededLibs means headers-only: link configuration is
// skipped.
func (c *Component) SetEnvironment(env *buildenv.Env, neededLibs []string) {
	var libPaths []string

	if !c.useInstalled && c.componentPrefix != "" && c.componentPrefix != "/usr" {
		// Make sure program checks look in the component's bin dir.
		env.PrependENVPath("PATH", filepath.Join(c.componentPrefix, "bin"))

		for _, path := range c.includePath {
			env.AppendUnique(buildenv.CPPPath, filepath.Join(c.componentPrefix, path))
		}

		// The same rules that apply to headers apply to RPATH: a build
		// using a component needs the RPATH of its dependencies.
		for _, path := range c.libPath {
			full := filepath.Join(c.componentPrefix, path)
			if ok, _ := common.Exists(full); !ok {
				continue
			}
			libPaths = append(libPaths, full)
			// Adjusted to a relative rpath after the build.
			env.AppendUnique(buildenv.RPathFull, full)
			// For binaries run during the build.
			env.AppendENVPath("LD_LIBRARY_PATH", full)
		}

		// Prefer RUNPATH over RPATH so LD_LIBRARY_PATH can override it.
		env.AppendUnique(buildenv.LinkFlags, "-Wl,--enable-new-dtags")
	}

	if c.componentPrefix == "/usr" && c.spec.Package == "" {
		env.AppendUnique(buildenv.RPath, "/usr/lib")
		env.AppendUnique(buildenv.LinkFlags, "-Wl,--enable-new-dtags")
	}

	for _, define := range c.spec.Defines {
		env.AppendUnique(buildenv.CPPDefines, define)
	}

	c.parseConfig(env, "--cflags")

	if neededLibs == nil {
		return
	}

	c.parseConfig(env, "--libs")
	for _, path := range libPaths {
		env.AppendUnique(buildenv.LibPath, path)
	}
	for _, lib := range neededLibs {
		env.AppendUnique(buildenv.Libs, lib)
	}
}

// parseConfig merges the component's pkg-config flags into env.
// Best-effort: a missing pkg-config file is ignored.
func (c *Component) parseConfig(env *buildenv.Env, opts string) {
	if c.spec.PkgConfig == "" {
		return
	}

	if path := os.Getenv("PKG_CONFIG_PATH"); path != "" && env.GetEnv("PKG_CONFIG_PATH") == "" {
		env.SetEnv("PKG_CONFIG_PATH", path)
	}

	if !c.useInstalled && c.componentPrefix != "" && c.componentPrefix != "/usr" {
		found := false
		for _, path := range []string{"lib", "lib64"} {
			config := filepath.Join(c.componentPrefix, path, "pkgconfig")
			if ok, _ := common.Exists(config); !ok {
				continue
			}
			found = true
			env.AppendENVPath("PKG_CONFIG_PATH", config)
		}
		if !found {
			return
		}
	}

	_ = buildenv.ParseConfig(env, opts, c.spec.PkgConfig)
}

// get downloads the component sources if necessary.
func (c *Component) get() error {
	if c.prebuiltPath != "" {
		fmt.Printf("Using prebuilt binaries for %s\n", c.name)
		return nil
	}

	if c.spec.Retriever == nil {
		fmt.Printf("Using installed version of %s\n", c.name)
		return nil
	}

	if !c.reg.downloadDeps {
		return &DownloadRequiredError{Component: c.name}
	}

	fmt.Printf("Downloading source for %s\n", c.name)

	patches, err := c.resolvePatches()
	if err != nil {
		return err
	}

	return c.spec.Retriever.Fetch(c.srcPath, retriever.Options{
		CommitSHA: c.reg.GetConfig("commit_versions", c.name),
		Branch:    c.reg.GetConfig("branches", c.name),
		Patches:   patches,
	})
}

// resolvePatches parses the component's patch_versions config entry. Each
// comma-separated entry may carry a "subdir^" prefix; HTTPS entries are
// downloaded once into the build root as <name>_patch_<n>.
func (c *Component) resolvePatches() ([]retriever.Patch, error) {
	patchstr := c.reg.GetConfig("patch_versions", c.name)
	if patchstr == "" {
		return nil, nil
	}

	var patches []retriever.Patch
	patchnum := 1
	for _, raw := range strings.Split(patchstr, ",") {
		subdir := ""
		if strings.Contains(raw, "^") {
			parts := strings.SplitN(raw, "^", 2)
			subdir, raw = parts[0], parts[1]
		}

		if !strings.Contains(raw, "https://") {
			patches = append(patches, retriever.Patch{Source: raw, Subdir: subdir})
			continue
		}

		patchName := fmt.Sprintf("%s_patch_%d", c.name, patchnum)
		patchPath := filepath.Join(c.reg.GetBuildDir(), patchName)
		patchnum++
		patches = append(patches, retriever.Patch{Source: patchPath, Subdir: subdir})

		if ok, _ := common.Exists(patchPath); ok {
			continue
		}

		command := []string{"curl", "-sSfL", "--retry", "10", "--retry-max-time", "60",
			"-o", patchPath, raw}
		if !c.reg.run.Run([][]string{command}, "", c.reg.env) {
			return nil, &BuildError{Component: raw}
		}
	}

	return patches, nil
}

// hasMissingSystemDeps checks the system-level libraries and programs a
// source build needs.
func (c *Component) hasMissingSystemDeps(env *buildenv.Env) bool {
	if !c.probeAllowed() {
		fmt.Println("Would check for missing system libraries")
		return false
	}

	if c.reg.opts.Help {
		return true
	}

	prober := env.Prober()

	for _, lib := range c.spec.RequiredLibs {
		if !prober.CheckLib(env, lib) {
			return true
		}
	}

	for _, prog := range c.requiredProgs {
		if !prober.CheckProg(env, prog) {
			return true
		}
	}

	return false
}

// checkInstalledPackage verifies a prebuilt or system-installed component
// actually provides its targets.
func (c *Component) checkInstalledPackage(env *buildenv.Env) error {
	if !c.HasMissingTargets(env) {
		return nil
	}

	if c.dryRun {
		if c.spec.Package == "" {
			fmt.Printf("Missing %s\n", c.name)
		} else {
			fmt.Printf("Missing package %s %s\n", c.spec.Package, c.name)
		}
		return nil
	}

	return &MissingTargetsError{Component: c.name, Package: c.spec.Package}
}

// checkUserOptions handles help and clean modes, which short-circuit
// builds.
func (c *Component) checkUserOptions(env *buildenv.Env, neededLibs []string) (bool, error) {
	if c.reg.opts.Help {
		if len(c.spec.Requires) > 0 {
			if _, err := c.reg.Require(env, c.spec.Requires...); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	c.SetEnvironment(env, neededLibs)
	if c.reg.opts.Clean {
		return true, nil
	}
	return false, nil
}

func (c *Component) rmOldDir(path string) error {
	if c.dryRun {
		fmt.Printf("Would empty %s\n", path)
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.Mkdir(path, os.ModePerm)
}

// Build builds the component if necessary and reports whether its state
// changed.
func (c *Component) Build(env *buildenv.Env, neededLibs []string) (bool, error) {
	changes := false
	envcopy := c.reg.systemEnv.Clone()

	if done, err := c.checkUserOptions(env, neededLibs); done || err != nil {
		return true, err
	}

	c.SetEnvironment(envcopy, c.spec.Libs)
	if c.prebuiltPath != "" {
		return false, c.checkInstalledPackage(envcopy)
	}

	buildDep := c.reg.buildDeps
	if contains(c.reg.installed, "all") {
		buildDep = false
	}
	if contains(c.reg.installed, c.name) {
		buildDep = false
	}
	if c.componentPrefix != "" {
		if ok, _ := common.Exists(c.componentPrefix); ok {
			buildDep = false
		}
	}

	// A component with both a package name and build commands prefers the
	// package when it already satisfies the targets: an installable package
	// wins over a source build.
	missingTargets := false
	if buildDep {
		if c.spec.Package != "" && !c.HasMissingTargets(envcopy) {
			buildDep = false
		}
	} else {
		missingTargets = c.HasMissingTargets(envcopy)
	}

	if buildDep {
		if c.hasMissingSystemDeps(c.reg.systemEnv) {
			return false, &MissingSystemLibsError{Component: c.name}
		}

		if err := c.get(); err != nil {
			return false, err
		}

		if err := c.reg.LoadConfig(c.name, c.srcPath); err != nil {
			return false, err
		}

		if len(c.spec.Requires) > 0 {
			if _, err := c.reg.RequireWith(envcopy, RequireOptions{HeadersOnly: true}, c.spec.Requires...); err != nil {
				return false, err
			}
			c.SetEnvironment(envcopy, c.spec.Libs)
		}

		if err := common.Ensure(c.reg.prereqPrefix, c.dryRun); err != nil {
			return false, err
		}

		changes = true
		if c.spec.OutOfSrcBuild {
			if err := c.rmOldDir(c.buildPath); err != nil {
				return false, err
			}
		}
		if !c.reg.run.Run(c.spec.Commands, c.buildPath, envcopy) {
			return changes, &BuildError{Component: c.name}
		}
	} else if missingTargets {
		if c.dryRun {
			fmt.Printf("Would do required build of %s\n", c.name)
		} else {
			return false, &BuildRequiredError{Component: c.name}
		}
	}

	// Apply the environment once more: new directories may exist now.
	if len(c.spec.Requires) > 0 {
		if _, err := c.reg.RequireWith(envcopy, RequireOptions{HeadersOnly: true}, c.spec.Requires...); err != nil {
			return changes, err
		}
	}
	c.SetEnvironment(envcopy, c.spec.Libs)

	if changes {
		c.PatchRPaths()
	}

	if c.HasMissingTargets(envcopy) && !c.dryRun {
		return changes, &MissingTargetsError{Component: c.name}
	}

	return changes, nil
}

// PatchRPaths rewrites the RPATH of every shared object under the declared
// subdirectories to an $ORIGIN-relative list covering the component and
// its prerequisites. Per-file failures are logged and skipped.
func (c *Component) PatchRPaths() {
	rpath := []string{"$$ORIGIN"}
	var norigin []string

	compPath := c.componentPrefix
	if compPath == "" || strings.HasPrefix(compPath, "/usr") {
		return
	}
	if ok, _ := common.Exists(compPath); !ok {
		return
	}

	for _, libdir := range []string{"lib64", "lib"} {
		path := filepath.Join(compPath, libdir)
		if ok, _ := common.Exists(path); ok {
			norigin = append(norigin, filepath.Clean(path))
			break
		}
	}

	for _, prereqName := range c.spec.Requires {
		rootpath := filepath.Join(compPath, "..", prereqName)
		if ok, _ := common.Exists(rootpath); !ok {
			// No sibling install: fall back to the prerequisite's own
			// absolute lib dir.
			comp, err := c.reg.GetComponent(prereqName)
			if err != nil {
				continue
			}
			subpath := comp.componentPrefix
			if subpath == "" || strings.HasPrefix(subpath, "/usr") {
				continue
			}
			for _, libdir := range []string{"lib64", "lib"} {
				lpath := filepath.Join(subpath, libdir)
				if ok, _ := common.Exists(lpath); ok {
					rpath = append(rpath, lpath)
				}
			}
			continue
		}

		for _, libdir := range []string{"lib64", "lib"} {
			path := filepath.Join(rootpath, libdir)
			if ok, _ := common.Exists(path); !ok {
				continue
			}
			rpath = append(rpath, "$$ORIGIN/../../"+prereqName+"/"+libdir)
			norigin = append(norigin, filepath.Clean(path))
			break
		}
	}

	rpath = append(rpath, norigin...)

	for _, folder := range c.spec.PatchRPath {
		path := filepath.Join(compPath, folder)
		files, err := os.ReadDir(path)
		if err != nil {
			fmt.Printf("Skipped patching %s: %v\n", path, err)
			continue
		}
		for _, lib := range files {
			if !strings.HasSuffix(lib.Name(), ".so") {
				continue
			}
			fullLib := filepath.Join(path, lib.Name())
			cmd := []string{"patchelf", "--set-rpath", strings.Join(rpath, ":"), fullLib}
			if !c.reg.run.Run([][]string{cmd}, "", c.reg.env) {
				fmt.Printf("Skipped patching %s\n", fullLib)
			}
		}
	}
}
