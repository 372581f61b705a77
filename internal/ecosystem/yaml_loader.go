package ecosystem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"nexusallow/internal/domain"

	"gopkg.in/yaml.v3"
)

// LoadOverrides reads ecosystem definition files from a directory and merges
// them into the registry. Files must have a .yaml or .yml extension and
// contain a single ecosystem definition; an entry whose key matches a
// built-in ecosystem replaces it (for example to point pypi-proxy at a
// mirror). A missing directory is not an error.
func (r *Registry) LoadOverrides(dir string, logger *slog.Logger) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("ecosystem override directory does not exist, skipping", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read ecosystem override dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read ecosystem override %s: %w", path, err)
		}

		var eco domain.Ecosystem
		if err := yaml.Unmarshal(data, &eco); err != nil {
			return fmt.Errorf("parse ecosystem override %s: %w", path, err)
		}
		if eco.Key == "" {
			eco.Key = strings.TrimSuffix(name, filepath.Ext(name))
		}

		if err := r.register(eco); err != nil {
			return fmt.Errorf("ecosystem override %s: %w", path, err)
		}
		logger.Info("loaded ecosystem override", "key", eco.Key, "repo", eco.RepoName, "path", path)
	}

	return nil
}
