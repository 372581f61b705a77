package domain

import "fmt"

// Ecosystem describes one package format fronted by a proxy repository:
// the manager-side format identifier, the proxy repository it is served
// from and the upstream registry being proxied.
type Ecosystem struct {
	Key       string `yaml:"key"`       // stable identifier: "pypi", "cran", "apt"
	Format    string `yaml:"format"`    // repository format as the manager reports it
	RepoName  string `yaml:"repoName"`  // name of the proxy repository
	RemoteURL string `yaml:"remoteUrl"` // upstream registry URL
}

// SelectorName returns the name of the content selector that carries this
// ecosystem's allowlist expression. Ecosystem-qualified so names never
// collide across ecosystems.
func (e Ecosystem) SelectorName() string { return e.Key + "-allowlist" }

// PrivilegeName returns the name of the content-selector privilege bound to
// the allowlist selector.
func (e Ecosystem) PrivilegeName() string { return e.Key + "-allowlist" }

type Mode string

const (
	// ModeAll allows every package in the ecosystem's proxy format.
	ModeAll Mode = "all"
	// ModeSelected allows only packages named in the allowlist.
	ModeSelected Mode = "selected"
)

// ParseMode validates a mode string from config or CLI flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAll, ModeSelected:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid packages mode %q (want %q or %q)", s, ModeAll, ModeSelected)
}

// Allowlist is a deduplicated, sorted set of package names for one
// ecosystem. Sorted order is load-bearing: expression building must be
// deterministic regardless of file line order.
type Allowlist []string

// Has reports whether name is in the allowlist.
func (a Allowlist) Has(name string) bool {
	for _, n := range a {
		if n == name {
			return true
		}
	}
	return false
}
