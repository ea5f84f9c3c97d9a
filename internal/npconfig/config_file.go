package npconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// fileFields is the subset of Config a config file may supply; CLI flags
// and environment variables layer on top of whatever this returns.
type fileFields struct {
	DatabaseURL    string `yaml:"database_url"`
	DatabasePrefix string `yaml:"database_prefix"`
	NextcloudURL   string `yaml:"nextcloud_url"`
	RedisURL       string `yaml:"redis_url"`
}

// loadConfigFile reads path (or, when glob is true, merges every match of
// path as a glob pattern, later matches overriding earlier ones) as YAML.
func loadConfigFile(path string, glob bool) (fileFields, error) {
	paths := []string{path}
	if glob {
		matches, err := filepath.Glob(path)
		if err != nil {
			return fileFields{}, fmt.Errorf("npconfig: invalid config glob %q: %w", path, err)
		}
		paths = matches
	}

	var merged fileFields
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fileFields{}, fmt.Errorf("npconfig: reading config file %q: %w", p, err)
		}
		var fields fileFields
		if err := yaml.Unmarshal(data, &fields); err != nil {
			return fileFields{}, fmt.Errorf("npconfig: parsing config file %q: %w", p, err)
		}
		if fields.DatabaseURL != "" {
			merged.DatabaseURL = fields.DatabaseURL
		}
		if fields.DatabasePrefix != "" {
			merged.DatabasePrefix = fields.DatabasePrefix
		}
		if fields.NextcloudURL != "" {
			merged.NextcloudURL = fields.NextcloudURL
		}
		if fields.RedisURL != "" {
			merged.RedisURL = fields.RedisURL
		}
	}
	return merged, nil
}
