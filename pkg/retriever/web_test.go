package retriever

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

type tarEntry struct {
	name     string
	contents string
	dir      bool
	link     string
}

func makeArchive(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, ent := range entries {
		hdr := &tar.Header{Name: ent.name, Mode: 0o644}
		switch {
		case ent.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case ent.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = ent.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(ent.contents))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(ent.contents)); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func serveArchive(t *testing.T, body []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFetchExtractsStrippingPrefix(t *testing.T) {
	body := makeArchive(t, []tarEntry{
		{name: "comp-1.0/", dir: true},
		{name: "comp-1.0/configure", contents: "#!/bin/sh\n"},
		{name: "comp-1.0/src/main.c", contents: "int main(void) { return 0; }\n"},
	})
	srv := serveArchive(t, body)

	sum := md5.Sum(body)

	web := NewWebRetriever(srv.URL+"/comp-1.0.tar.gz", hex.EncodeToString(sum[:]))
	dest := filepath.Join(t.TempDir(), "comp")

	if err := web.Fetch(dest, Options{}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dest, "configure")); err != nil {
		t.Fatal("top-level prefix not stripped:", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "src", "main.c")); err != nil {
		t.Fatal(err)
	}
}

func TestFetchExistingDestIsNoop(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	dest := t.TempDir()

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "")
	if err := web.Fetch(dest, Options{}); err != nil {
		t.Fatal(err)
	}
	if requests != 0 {
		t.Fatalf("fetched despite existing destination: %d requests", requests)
	}
}

func TestFetchRejectsTraversal(t *testing.T) {
	body := makeArchive(t, []tarEntry{
		{name: "comp/ok", contents: "fine\n"},
		{name: "../escape", contents: "bad\n"},
	})
	srv := serveArchive(t, body)

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "")
	web.sleep = func(time.Duration) {}

	base := t.TempDir()
	dest := filepath.Join(base, "comp")

	err := web.Fetch(dest, Options{})
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(base, "escape")); statErr == nil {
		t.Fatal("traversal entry was written")
	}
}

func TestFetchRejectsSymlinkEscape(t *testing.T) {
	// A symlink out of the extraction root followed by a file written
	// through it must abort, and nothing may land outside.
	outside := t.TempDir()

	body := makeArchive(t, []tarEntry{
		{name: "comp/", dir: true},
		{name: "comp/link", link: filepath.Join("..", "..", "..", filepath.Base(outside))},
		{name: "comp/link/evil", contents: "pwned\n"},
	})
	srv := serveArchive(t, body)

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "")
	web.sleep = func(time.Duration) {}

	err := web.Fetch(filepath.Join(t.TempDir(), "comp"), Options{})
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(outside, "evil")); statErr == nil {
		t.Fatal("file written outside the extraction root")
	}
}

func TestFetchRejectsAbsoluteSymlink(t *testing.T) {
	body := makeArchive(t, []tarEntry{
		{name: "comp/ok", contents: "fine\n"},
		{name: "comp/link", link: "/etc"},
	})
	srv := serveArchive(t, body)

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "")
	web.sleep = func(time.Duration) {}

	err := web.Fetch(filepath.Join(t.TempDir(), "comp"), Options{})
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestFetchAllowsInternalSymlink(t *testing.T) {
	body := makeArchive(t, []tarEntry{
		{name: "comp/", dir: true},
		{name: "comp/lib/libfoo.so.1", contents: "elf\n"},
		{name: "comp/lib/libfoo.so", link: "libfoo.so.1"},
	})
	srv := serveArchive(t, body)

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "")
	dest := filepath.Join(t.TempDir(), "comp")

	if err := web.Fetch(dest, Options{}); err != nil {
		t.Fatal(err)
	}

	target, err := os.Readlink(filepath.Join(dest, "lib", "libfoo.so"))
	if err != nil {
		t.Fatal(err)
	}
	if target != "libfoo.so.1" {
		t.Fatalf("got %q", target)
	}
}

func TestFetchRejectsUnsupportedCompression(t *testing.T) {
	srv := serveArchive(t, []byte("not a tarball"))

	web := NewWebRetriever(srv.URL+"/comp.zip", "")
	web.sleep = func(time.Duration) {}

	err := web.Fetch(filepath.Join(t.TempDir(), "comp"), Options{})
	var compErr *UnsupportedCompressionError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected UnsupportedCompressionError, got %v", err)
	}
}

func TestDownloadRetrySchedule(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var slept []time.Duration

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "")
	web.sleep = func(d time.Duration) { slept = append(slept, d) }

	err := web.Fetch(filepath.Join(t.TempDir(), "comp"), Options{})
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}

	if attempts != downloadRetries+1 {
		t.Fatalf("expected %d attempts, got %d", downloadRetries+1, attempts)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("backoff schedule wrong: %v", slept)
		}
	}
}

func TestDownloadChecksumMismatchExhausts(t *testing.T) {
	srv := serveArchive(t, []byte("surprise contents"))

	web := NewWebRetriever(srv.URL+"/comp.tar.gz", "00000000000000000000000000000000")
	web.sleep = func(time.Duration) {}

	err := web.Fetch(filepath.Join(t.TempDir(), "comp"), Options{})
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
}
