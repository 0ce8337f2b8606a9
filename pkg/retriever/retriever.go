// Package retriever fetches component sources from version control or
// archive downloads into a working directory.
package retriever

import (
	"fmt"

	"github.com/exobuild/prereq/pkg/buildenv"
)

// Patch is a patch to apply after retrieval, optionally inside a
// subdirectory of the source tree.
type Patch struct {
	Source string
	Subdir string
}

// Options carry the pinned revision and patch set for a fetch.
type Options struct {
	CommitSHA string
	Branch    string
	Patches   []Patch
}

// Retriever downloads component sources into destDir. Implementations must
// treat an existing, previously-fetched destination as valid.
type Retriever interface {
	Fetch(destDir string, opts Options) error
}

// Runner runs external command lists. Satisfied by runner.Runner.
type Runner interface {
	Run(commands [][]string, dir string, env *buildenv.Env) bool
}

// DownloadError reports that a source could not be downloaded.
type DownloadError struct {
	Repo      string
	Component string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("Failed to get %s from %s", e.Component, e.Repo)
}

// ExtractionError reports that an archive could not be unpacked, including
// a rejected path-traversal attempt.
type ExtractionError struct {
	Component string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("Failed to extract %s", e.Component)
}

// UnsupportedCompressionError reports an archive format the retriever does
// not know how to unpack.
type UnsupportedCompressionError struct {
	Component string
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("Don't know how to extract %s", e.Component)
}
