package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/exobuild/prereq/pkg/buildenv"
	"github.com/exobuild/prereq/pkg/prereq"
	"github.com/exobuild/prereq/pkg/script"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	rootBuildDeps       string
	rootCheckOnly       bool
	rootDryRun          bool
	rootJobs            int
	rootBuildConfig     string
	rootBuildRoot       string
	rootPrefix          string
	rootAltPrefix       string
	rootUseInstalled    []string
	rootInclude         []string
	rootRequireOptional bool
	rootPrependPath     string
	rootLocaleName      string
	rootEnvScript       string
	rootScript          string
	rootBuildType       string
	rootTargetType      string
)

var rootCmd = &cobra.Command{
	Use:   "prereq",
	Short: "Prereq: fetch, verify and build external build prerequisites",
}

func newRegistry(targets []string) (*prereq.Registry, error) {
	reg, err := prereq.New(buildenv.New(), prereq.Options{
		BuildDeps:       rootBuildDeps,
		CheckOnly:       rootCheckOnly,
		DryRun:          rootDryRun,
		Jobs:            rootJobs,
		UseInstalled:    rootUseInstalled,
		Include:         rootInclude,
		AltPrefix:       rootAltPrefix,
		RequireOptional: rootRequireOptional,
		BuildRoot:       rootBuildRoot,
		Prefix:          rootPrefix,
		BuildType:       rootBuildType,
		TargetType:      rootTargetType,
		Targets:         targets,
		ConfigFile:      rootBuildConfig,
		PrependPath:     rootPrependPath,
		LocaleName:      rootLocaleName,
		EnvScript:       rootEnvScript,
	})
	if err != nil {
		return nil, err
	}

	if err := script.Load(reg, rootScript); err != nil {
		return nil, err
	}

	return reg, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootBuildDeps, "build-deps", prereq.BuildDepsNo, "download and build missing dependencies (yes, no, only, build-only)")
	flags.BoolVar(&rootCheckOnly, "check-only", false, "report what would be fetched and built without doing it")
	flags.BoolVar(&rootDryRun, "dry-run", false, "print commands without running them")
	flags.IntVar(&rootJobs, "jobs", 1, "parallelism passed to sub-build tools")
	flags.StringVar(&rootBuildConfig, "build-config", "utils/build.config", "pinned-version build configuration file")
	flags.StringVar(&rootBuildRoot, "build-root", "build", "build output root")
	flags.StringVar(&rootPrefix, "prefix", "", "installation path, defaults to <top>/install")
	flags.StringVar(&rootAltPrefix, "alt-prefix", "", "colon separated list of alternative roots searched for prebuilt components")
	flags.StringSliceVar(&rootUseInstalled, "use-installed", nil, "components assumed preinstalled on the system, or 'all'")
	flags.StringSliceVar(&rootInclude, "include", nil, "optional components to enable, or 'all'")
	flags.BoolVar(&rootRequireOptional, "require-optional", false, "treat optional component check failures as fatal")
	flags.StringVar(&rootPrependPath, "prepend-path", "", "prepend to the subprocess PATH")
	flags.StringVar(&rootLocaleName, "locale-name", "", "set LC_ALL for build subprocesses")
	flags.StringVar(&rootEnvScript, "env-script", "", "per-user environment script recorded in build info")
	flags.StringVar(&rootScript, "script", script.DefaultFile, "component definition script")
	flags.StringVar(&rootBuildType, "build-type", "release", "build type (dev, debug, release)")
	flags.StringVar(&rootTargetType, "target-type", "default", "prerequisite build type, defaults to the build type")
}

func Run() {
	w := os.Stderr

	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		}),
	))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
