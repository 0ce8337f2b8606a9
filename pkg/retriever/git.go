package retriever

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/exobuild/prereq/pkg/buildenv"
	"github.com/exobuild/prereq/pkg/common"
)

// GitRetriever clones a git repository and checks out a pinned revision.
// An unpinned fetch is refused outright so upstream changes can never break
// the build silently.
type GitRetriever struct {
	URL        string
	Submodules bool
	Branch     string

	run Runner
	env *buildenv.Env
}

func NewGitRetriever(run Runner, env *buildenv.Env, url string) *GitRetriever {
	return &GitRetriever{URL: url, run: run, env: env}
}

// Fetch implements Retriever.
func (g *GitRetriever) Fetch(destDir string, opts Options) error {
	branch := opts.Branch
	if branch == "" {
		branch = g.Branch
	}

	if opts.CommitSHA == "" && branch == "" {
		comp := filepath.Base(destDir)
		fmt.Printf(`
*********************** ERROR ************************
No commit_versions entry in the build config for
%s. Please specify one to avoid breaking the
build with random upstream changes.
*********************** ERROR ************************
`, comp)
		return &DownloadError{Repo: g.URL, Component: destDir}
	}

	if ok, _ := common.Exists(destDir); !ok {
		if !g.run.Run([][]string{{"git", "clone", g.URL, destDir}}, "", g.env) {
			return &DownloadError{Repo: g.URL, Component: destDir}
		}
	}

	if branch != "" {
		if err := g.checkout(destDir, branch); err != nil {
			return err
		}
	}

	if opts.CommitSHA != "" {
		if err := g.checkout(destDir, opts.CommitSHA); err != nil {
			return err
		}
	}

	// Discard any previously patched state.
	if !g.run.Run([][]string{{"git", "reset", "--hard", "HEAD"}}, destDir, g.env) {
		return &DownloadError{Repo: g.URL, Component: destDir}
	}

	if g.Submodules {
		commands := [][]string{
			{"git", "submodule", "init"},
			{"git", "submodule", "update"},
		}
		if !g.run.Run(commands, destDir, g.env) {
			return &DownloadError{Repo: g.URL, Component: destDir}
		}
	}

	return g.applyPatches(destDir, opts.Patches)
}

// checkout checks out a ref, refreshing tags and remote refs and retrying
// once if the first attempt fails.
func (g *GitRetriever) checkout(destDir, ref string) error {
	if g.run.Run([][]string{{"git", "checkout", ref}}, destDir, g.env) {
		return nil
	}

	if !g.run.Run([][]string{{"git", "fetch", "-t", "-a"}}, destDir, g.env) {
		return &DownloadError{Repo: g.URL, Component: destDir}
	}

	if !g.run.Run([][]string{{"git", "checkout", ref}}, destDir, g.env) {
		return &DownloadError{Repo: g.URL, Component: destDir}
	}

	return nil
}

func (g *GitRetriever) applyPatches(destDir string, patches []Patch) error {
	for _, patch := range patches {
		slog.Info("applying patch", "patch", patch.Source, "component", filepath.Base(destDir))

		command := []string{"git", "apply"}
		if patch.Subdir != "" {
			command = append(command, "--directory", patch.Subdir)
		}
		command = append(command, patch.Source)

		if !g.run.Run([][]string{command}, destDir, g.env) {
			return &DownloadError{Repo: g.URL, Component: destDir}
		}
	}

	return nil
}

var _ Retriever = &GitRetriever{}
