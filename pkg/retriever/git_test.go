package retriever

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exobuild/prereq/pkg/buildenv"
)

// recordingRunner captures commands and answers them from a script of
// results. Unscripted commands succeed.
type recordingRunner struct {
	commands [][]string
	fail     map[string]bool
}

func (r *recordingRunner) Run(commands [][]string, dir string, env *buildenv.Env) bool {
	for _, command := range commands {
		r.commands = append(r.commands, command)
		if r.fail[strings.Join(command, " ")] {
			return false
		}
	}
	return true
}

func TestUnpinnedFetchFailsBeforeAnyCommand(t *testing.T) {
	run := &recordingRunner{}
	git := NewGitRetriever(run, buildenv.New(), "https://example.com/repo.git")

	err := git.Fetch(filepath.Join(t.TempDir(), "repo"), Options{})
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if len(run.commands) != 0 {
		t.Fatalf("commands ran for an unpinned fetch: %v", run.commands)
	}
}

func TestFetchClonesAndChecksOutPin(t *testing.T) {
	run := &recordingRunner{}
	git := NewGitRetriever(run, buildenv.New(), "https://example.com/repo.git")

	dest := filepath.Join(t.TempDir(), "repo")
	if err := git.Fetch(dest, Options{CommitSHA: "abc123"}); err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"git", "clone", "https://example.com/repo.git", dest},
		{"git", "checkout", "abc123"},
		{"git", "reset", "--hard", "HEAD"},
	}
	if len(run.commands) != len(want) {
		t.Fatalf("got %v", run.commands)
	}
	for i := range want {
		if strings.Join(run.commands[i], " ") != strings.Join(want[i], " ") {
			t.Fatalf("command %d: got %v want %v", i, run.commands[i], want[i])
		}
	}
}

func TestCheckoutRetriesAfterFetch(t *testing.T) {
	run := &recordingRunner{}

	// The checkout fails until a fetch refreshes the refs.
	wrapped := &retryRunner{inner: run, unblockAfter: "git fetch -t -a", blocked: "git checkout v1.2"}
	git := NewGitRetriever(wrapped, buildenv.New(), "https://example.com/repo.git")

	// An existing destination skips the clone.
	dest := t.TempDir()
	if err := git.Fetch(dest, Options{Branch: "v1.2"}); err != nil {
		t.Fatal(err)
	}

	joined := make([]string, 0, len(run.commands))
	for _, command := range run.commands {
		joined = append(joined, strings.Join(command, " "))
	}

	sawFetch := false
	checkouts := 0
	for _, cmd := range joined {
		if cmd == "git fetch -t -a" {
			sawFetch = true
		}
		if cmd == "git checkout v1.2" {
			checkouts++
		}
	}
	if !sawFetch || checkouts != 2 {
		t.Fatalf("expected fetch and two checkout attempts, got %v", joined)
	}
}

// retryRunner fails a blocked command until an unblocking command runs.
type retryRunner struct {
	inner        *recordingRunner
	blocked      string
	unblockAfter string
	unblocked    bool
}

func (r *retryRunner) Run(commands [][]string, dir string, env *buildenv.Env) bool {
	for _, command := range commands {
		joined := strings.Join(command, " ")
		r.inner.commands = append(r.inner.commands, command)
		if joined == r.unblockAfter {
			r.unblocked = true
		}
		if joined == r.blocked && !r.unblocked {
			return false
		}
	}
	return true
}

func TestPatchesApplied(t *testing.T) {
	run := &recordingRunner{}
	git := NewGitRetriever(run, buildenv.New(), "https://example.com/repo.git")

	dest := t.TempDir()
	err := git.Fetch(dest, Options{
		CommitSHA: "abc123",
		Patches: []Patch{
			{Source: "/patches/fix.patch"},
			{Source: "/patches/sub.patch", Subdir: "deps/inner"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var applies []string
	for _, command := range run.commands {
		if len(command) >= 2 && command[1] == "apply" {
			applies = append(applies, strings.Join(command, " "))
		}
	}
	if len(applies) != 2 {
		t.Fatalf("expected 2 apply commands, got %v", applies)
	}
	if applies[0] != "git apply /patches/fix.patch" {
		t.Fatalf("got %q", applies[0])
	}
	if applies[1] != "git apply --directory deps/inner /patches/sub.patch" {
		t.Fatalf("got %q", applies[1])
	}
}
