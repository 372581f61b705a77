// Package ecosystem defines the package ecosystems the sidecar manages and
// the naming/normalization rules attached to each.
package ecosystem

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"nexusallow/internal/domain"
)

// Built-in ecosystems. Proxy names and upstream URLs follow the deployment
// convention of one proxy repository per ecosystem.
var builtin = map[string]domain.Ecosystem{
	"pypi": {
		Key:       "pypi",
		Format:    "pypi",
		RepoName:  "pypi-proxy",
		RemoteURL: "https://pypi.org/",
	},
	"cran": {
		Key:       "cran",
		Format:    "r",
		RepoName:  "cran-proxy",
		RemoteURL: "https://cran.r-project.org/",
	},
	"apt": {
		Key:       "apt",
		Format:    "apt",
		RepoName:  "apt-proxy",
		RemoteURL: "http://deb.debian.org/debian",
	},
}

// Registry resolves ecosystem keys to their definitions.
type Registry struct {
	ecosystems map[string]domain.Ecosystem
}

// NewRegistry returns a registry containing the built-in ecosystems.
func NewRegistry() *Registry {
	ecos := make(map[string]domain.Ecosystem, len(builtin))
	for k, v := range builtin {
		ecos[k] = v
	}
	return &Registry{ecosystems: ecos}
}

// Get resolves an ecosystem by key.
func (r *Registry) Get(key string) (domain.Ecosystem, error) {
	eco, ok := r.ecosystems[key]
	if !ok {
		return domain.Ecosystem{}, fmt.Errorf("unknown ecosystem %q", key)
	}
	return eco, nil
}

// Keys returns all registered ecosystem keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.ecosystems))
	for k := range r.ecosystems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// register adds or replaces an ecosystem definition.
func (r *Registry) register(eco domain.Ecosystem) error {
	if eco.Key == "" || eco.Format == "" || eco.RepoName == "" || eco.RemoteURL == "" {
		return fmt.Errorf("incomplete ecosystem definition for %q", eco.Key)
	}
	r.ecosystems[eco.Key] = eco
	return nil
}

// pypiSeparators matches runs of characters PyPI treats as equivalent in
// package names.
var pypiSeparators = regexp.MustCompile(`[._-]+`)

// Normalize canonicalizes a package name for the given ecosystem. PyPI names
// are case-insensitive with '.', '_' and '-' treated as one separator, so
// they are lowercased with separator runs collapsed to '-'. CRAN and APT
// names are case-sensitive and kept verbatim.
func Normalize(eco domain.Ecosystem, name string) string {
	name = strings.TrimSpace(name)
	if eco.Key == "pypi" {
		name = pypiSeparators.ReplaceAllString(strings.ToLower(name), "-")
	}
	return name
}
