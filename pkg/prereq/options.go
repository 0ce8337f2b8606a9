package prereq

// Build dependency policy values, matching the --build-deps flag.
const (
	BuildDepsNo        = "no"
	BuildDepsYes       = "yes"
	BuildDepsOnly      = "only"
	BuildDepsBuildOnly = "build-only"
)

// Options is the global build configuration for one invocation.
type Options struct {
	// BuildDeps selects the download/build policy: "yes" and "only" enable
	// downloads and builds, "build-only" enables builds against already
	// downloaded sources, "no" disables both.
	BuildDeps string

	// CheckOnly probes what would be needed without downloading or
	// building. It implies DryRun but keeps the dependency probes real.
	CheckOnly bool

	// DryRun prints commands and skips side effects.
	DryRun bool

	// Help and Clean mirror the build backend's modes: both short-circuit
	// component builds.
	Help  bool
	Clean bool

	// Jobs is the parallelism injected into sub-build tool invocations.
	Jobs int

	// UseInstalled lists components (or "all") assumed preinstalled on the
	// system.
	UseInstalled []string

	// Include enables optional components ("all" or exact names).
	Include []string

	// Deps limits which default components are prebuilt when BuildDeps is
	// "only".
	Deps []string

	// AltPrefix is a pathsep-separated list of alternative install roots
	// searched for prebuilt components.
	AltPrefix string

	// RequireOptional makes optional-component check failures fatal.
	RequireOptional bool

	// TopDir is the source tree root. Defaults to the working directory.
	TopDir string

	// BuildRoot is the build output root, relative to TopDir unless
	// absolute. Defaults to "build".
	BuildRoot string

	// Prefix is the installation path. Defaults to <TopDir>/install.
	Prefix string

	// BuildType is one of dev, debug, release. TargetType selects the
	// prerequisite build type and defaults to BuildType.
	BuildType  string
	TargetType string

	// Targets are the requested build targets out of client, server, test.
	Targets []string

	// ConfigFile points at the pinned-version build config (INI).
	ConfigFile string

	// PrependPath is prepended to the subprocess PATH.
	PrependPath string

	// LocaleName sets LC_ALL for build subprocesses.
	LocaleName string

	// EnvScript is a per-user shell script recorded in build info for
	// developers to source before running built artifacts. It is never
	// executed by the build itself.
	EnvScript string
}

func (o *Options) normalize() {
	if o.BuildDeps == "" {
		o.BuildDeps = BuildDepsNo
	}
	if o.CheckOnly {
		// check-only is mostly a dry-run request.
		o.DryRun = true
	}
	if o.Jobs <= 0 {
		o.Jobs = 1
	}
	if o.BuildRoot == "" {
		o.BuildRoot = "build"
	}
	if o.BuildType == "" {
		o.BuildType = "release"
	}
	if o.TargetType == "" || o.TargetType == "default" {
		o.TargetType = o.BuildType
	}
}

func contains(list []string, val string) bool {
	for _, v := range list {
		if v == val {
			return true
		}
	}
	return false
}
