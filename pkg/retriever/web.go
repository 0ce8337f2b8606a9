package retriever

import (
	"archive/tar"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/schollz/progressbar/v3"

	"github.com/exobuild/prereq/pkg/common"
)

const downloadRetries = 3

// WebRetriever downloads a source archive over HTTP and extracts it. Only
// gzip-compressed tar archives are supported. If the destination directory
// already exists the fetch assumes a prior retrieval is still valid.
type WebRetriever struct {
	URL string
	MD5 string

	// DryRun skips the unpack step, printing intent instead.
	DryRun bool

	client *http.Client
	sleep  func(time.Duration)
}

func NewWebRetriever(url, md5sum string) *WebRetriever {
	return &WebRetriever{
		URL:    url,
		MD5:    md5sum,
		client: http.DefaultClient,
		sleep:  time.Sleep,
	}
}

// Fetch implements Retriever.
func (w *WebRetriever) Fetch(destDir string, opts Options) error {
	if ok, _ := common.Exists(destDir); ok {
		// Assume nothing has changed since the last fetch.
		return nil
	}

	archive := filepath.Join(filepath.Dir(destDir), path.Base(w.URL))

	if !w.checkMD5(archive) && !w.download(archive) {
		return &DownloadError{Repo: w.URL, Component: destDir}
	}

	if !strings.HasSuffix(w.URL, ".tar.gz") && !strings.HasSuffix(w.URL, ".tgz") {
		return &UnsupportedCompressionError{Component: destDir}
	}

	if w.DryRun {
		fmt.Printf("Would unpack gzipped tar file: %s\n", archive)
		return nil
	}

	if err := w.extract(archive, destDir); err != nil {
		slog.Error("extraction failed", "archive", archive, "err", err)
		return &ExtractionError{Component: destDir}
	}

	return nil
}

// checkMD5 reports whether filename exists and matches the expected
// checksum. A mismatched file is removed so it can be re-downloaded.
func (w *WebRetriever) checkMD5(filename string) bool {
	data, err := os.ReadFile(filename)
	if err != nil {
		return false
	}

	// No pinned checksum: any complete download is accepted.
	if w.MD5 == "" {
		return true
	}

	sum := md5.Sum(data)
	hexdigest := hex.EncodeToString(sum[:])

	if hexdigest != w.MD5 {
		fmt.Printf("Removing existing file %s: md5 %s != %s\n", filename, w.MD5, hexdigest)
		os.Remove(filename)
		return false
	}

	fmt.Printf("File %s matches md5 %s\n", filename, w.MD5)
	return true
}

// download fetches the archive, retrying with exponential backoff and
// verifying the checksum after every attempt.
func (w *WebRetriever) download(filename string) bool {
	initialSleep := 1 * time.Second

	for idx := 0; idx <= downloadRetries; idx++ {
		failureReason := "Download command failed"
		if err := w.fetchOnce(filename); err != nil {
			slog.Warn("download failed", "url", w.URL, "err", err)
		} else {
			if w.checkMD5(filename) {
				fmt.Printf("Successfully downloaded %s\n", w.URL)
				return true
			}
			failureReason = "md5 mismatch"
		}

		fmt.Printf("Try #%d to get %s failed: %s\n", idx+1, w.URL, failureReason)

		if idx != downloadRetries {
			w.sleep(initialSleep)
			initialSleep *= 2
		}
	}

	return false
}

func (w *WebRetriever) fetchOnce(filename string) error {
	resp, err := w.client.Get(w.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer out.Close()

	prog := progressbar.DefaultBytes(resp.ContentLength, w.URL)
	defer prog.Close()

	_, err = io.Copy(io.MultiWriter(prog, out), resp.Body)
	return err
}

// extract unpacks a gzip tar archive into destDir, stripping the archive's
// common top-level directory. Any entry whose resolved path would escape
// the extraction root aborts the whole operation.
func (w *WebRetriever) extract(archive, destDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	stage, err := os.MkdirTemp(filepath.Dir(destDir), ".extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	prefix := ""
	first := true

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target, err := securePath(stage, hdr.Name)
		if err != nil {
			return err
		}

		top := topComponent(hdr.Name)
		if first {
			prefix = top
			first = false
		} else if top != prefix {
			prefix = ""
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := secureLinkname(stage, target, hdr.Name, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			slog.Warn("skipping unsupported archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	root := stage
	if prefix != "" {
		root = filepath.Join(stage, prefix)
	}

	return os.Rename(root, destDir)
}

// securePath joins name onto root, rejecting entries that resolve outside
// of it.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("attempted path traversal in tar file: %s", name)
	}
	return target, nil
}

// secureLinkname rejects symlink entries whose target escapes the
// extraction root: a later entry written through such a link would land
// outside it.
func secureLinkname(root, target, name, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("absolute symlink target in tar file: %s -> %s", name, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), linkname)
	if resolved != filepath.Clean(root) && !strings.HasPrefix(resolved, filepath.Clean(root)+string(os.PathSeparator)) {
		return fmt.Errorf("symlink escapes extraction root in tar file: %s -> %s", name, linkname)
	}
	return nil
}

func topComponent(name string) string {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if i := strings.IndexByte(clean, '/'); i >= 0 {
		return clean[:i]
	}
	return clean
}

var _ Retriever = &WebRetriever{}
