package prereq

import (
	"strings"

	"gopkg.in/ini.v1"
)

// Config holds the pinned-version build configuration: commit hashes,
// branches and patch lists per component, keyed by section.
type Config struct {
	file *ini.File
}

// LoadBuildConfig reads the build config. A missing file yields an empty
// config so unpinned trees still work.
func LoadBuildConfig(path string) (*Config, error) {
	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, err
	}
	return &Config{file: file}, nil
}

// Get returns a config value, or "" when the section or key is absent.
// Section and key lookups are case-insensitive to match the original
// config format.
func (c *Config) Get(section, name string) string {
	sec := c.section(section)
	if sec == nil {
		return ""
	}
	for _, key := range sec.Keys() {
		if strings.EqualFold(key.Name(), name) {
			return key.Value()
		}
	}
	return ""
}

func (c *Config) section(name string) *ini.Section {
	for _, sec := range c.file.Sections() {
		if strings.EqualFold(sec.Name(), name) {
			return sec
		}
	}
	return nil
}

// Merge overlays another config file; later values win.
func (c *Config) Merge(path string) error {
	return c.file.Append(path)
}
