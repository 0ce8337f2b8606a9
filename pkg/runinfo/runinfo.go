// Package runinfo consumes the build-vars snapshot on behalf of test
// tooling: it locates the snapshot, answers key lookups and derives the
// process environment needed to run installed binaries.
package runinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/exobuild/prereq/pkg/buildinfo"
	"github.com/exobuild/prereq/pkg/common"
	"gopkg.in/yaml.v3"
)

// Runner holds the test-runner configuration and the loaded build vars.
type Runner struct {
	config map[string]interface{}
	info   *buildinfo.Info
}

// New creates a runner from a YAML config file. An empty path yields an
// empty config.
func New(configPath string) (*Runner, error) {
	r := &Runner{
		config: make(map[string]interface{}),
		info:   buildinfo.New(),
	}

	if configPath == "" {
		return r, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &r.config); err != nil {
		return nil, fmt.Errorf("malformed config file %s: %w", configPath, err)
	}

	return r, nil
}

// LoadBuildVars locates and loads the build-vars snapshot: the working
// directory first, then the configured build_path.
func (r *Runner) LoadBuildVars() error {
	rootpath, err := os.Getwd()
	if err != nil {
		return err
	}

	optsFile := filepath.Join(rootpath, buildinfo.DefaultFile)
	if ok, _ := common.Exists(optsFile); !ok {
		buildpath, _ := r.GetConfig("build_path", "").(string)
		optsFile = filepath.Join(buildpath, buildinfo.DefaultFile)
		if ok, _ := common.Exists(optsFile); !ok {
			return fmt.Errorf("build vars file not found in %s or %s", rootpath, buildpath)
		}
	}

	info, err := buildinfo.Load(optsFile)
	if err != nil {
		return err
	}
	r.info = info

	return nil
}

// EnvSetup loads the build vars and derives the environment updates needed
// to run installed binaries and tests: PATH entries for the install prefix
// and, on darwin, loader paths for every component prefix.
func (r *Runner) EnvSetup() (map[string]string, error) {
	if err := r.LoadBuildVars(); err != nil {
		return nil, err
	}

	env := make(map[string]string)

	path := os.Getenv("PATH")
	installed := r.info.Get("PREFIX")
	for _, dir := range []string{
		filepath.Join(installed, "TESTING", "tests"),
		filepath.Join(installed, "bin"),
	} {
		path = prependPath(path, dir)
	}
	env["PATH"] = path

	if runtime.GOOS == "darwin" {
		env["DYLD_LIBRARY_PATH"] = r.darwinLibPath()
	}

	return env, nil
}

// darwinLibPath collects lib/lib64 dirs of every recorded component prefix.
// macOS strips DYLD_LIBRARY_PATH from spawned processes, so tests must
// rebuild it from the snapshot.
func (r *Runner) darwinLibPath() string {
	var libPaths []string

	for _, key := range r.info.Keys() {
		if !strings.Contains(key, "PREFIX") {
			continue
		}
		prefix := r.info.Get(key)
		if prefix == "/usr" {
			continue
		}
		for _, libdir := range []string{"lib", "lib64"} {
			full := filepath.Join(prefix, libdir)
			if ok, _ := common.Exists(full); ok {
				libPaths = prependUnique(libPaths, full)
			}
		}
	}

	joined := strings.Join(libPaths, string(os.PathListSeparator))
	if dyld := os.Getenv("DYLD_LIBRARY_PATH"); dyld != "" {
		joined = joined + string(os.PathListSeparator) + dyld
	}
	return joined
}

// GetInfo returns a build variable, or "" when absent.
func (r *Runner) GetInfo(key string) string {
	return r.info.Get(key)
}

// Keys returns the loaded build variable names in sorted order.
func (r *Runner) Keys() []string {
	return r.info.Keys()
}

// SetInfo overrides a build variable.
func (r *Runner) SetInfo(key, value string) {
	r.info.Update(key, value)
}

// GetConfig looks up a config value, optionally under a subkey. Missing
// entries yield nil.
func (r *Runner) GetConfig(key, subkey string) interface{} {
	value, ok := r.config[key]
	if !ok {
		return nil
	}
	if subkey == "" {
		return value
	}
	sub, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return sub[subkey]
}

// SetConfig stores a config value, optionally under a subkey.
func (r *Runner) SetConfig(key, subkey string, value interface{}) {
	if subkey == "" {
		r.config[key] = value
		return
	}
	sub, ok := r.config[key].(map[string]interface{})
	if !ok {
		sub = make(map[string]interface{})
		r.config[key] = sub
	}
	sub[subkey] = value
}

func prependPath(path, dir string) string {
	if path == "" {
		return dir
	}
	for _, p := range strings.Split(path, string(os.PathListSeparator)) {
		if p == dir {
			return path
		}
	}
	return dir + string(os.PathListSeparator) + path
}

func prependUnique(list []string, val string) []string {
	for _, v := range list {
		if v == val {
			return list
		}
	}
	return append([]string{val}, list...)
}
