// Package runner executes ordered build command lists against a directory
// and a construction environment.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/exobuild/prereq/pkg/buildenv"
)

// Runner runs command lists synchronously, substituting $VAR tokens and
// stopping at the first failing command. There is no rollback.
type Runner struct {
	// Jobs is injected as "-j N" after a bare make invocation.
	Jobs int
	// DryRun prints commands instead of executing them and reports success.
	DryRun bool

	// Exec runs a single resolved command. Overridable for tests.
	Exec func(argv []string, dir string, env []string) error
}

func New(jobs int, dryRun bool) *Runner {
	return &Runner{
		Jobs:   jobs,
		DryRun: dryRun,
		Exec:   execute,
	}
}

// Run executes commands in dir with env. It reports whether every command
// exited successfully.
func (r *Runner) Run(commands [][]string, dir string, env *buildenv.Env) bool {
	if dir != "" {
		fmt.Printf("Running commands in %s\n", dir)
	}

	for _, command := range commands {
		var argv []string
		for _, part := range command {
			if part == "make" {
				argv = append(argv, "make", "-j", strconv.Itoa(r.jobs()))
			} else {
				argv = append(argv, env.Subst(part))
			}
		}

		if len(argv) == 0 {
			fmt.Println(color.RedString("Empty command in build step"))
			return false
		}

		if r.DryRun {
			fmt.Printf("%s %s\n", color.YellowString("Would RUN:"), strings.Join(argv, " "))
			continue
		}

		fmt.Printf("%s %s\n", color.GreenString("RUN:"), strings.Join(argv, " "))
		if err := r.Exec(argv, dir, env.Environ()); err != nil {
			return false
		}
	}

	return true
}

func (r *Runner) jobs() int {
	if r.Jobs > 0 {
		return r.Jobs
	}
	return 1
}

func execute(argv []string, dir string, env []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
