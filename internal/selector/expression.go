// Package selector compiles desired allowlist state into the manager's
// content-selector query expressions (CSEL).
package selector

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"nexusallow/internal/domain"
)

// safeName matches package names that can be embedded in a CSEL string
// literal without escaping. Anything outside this set (quotes, backslashes,
// whitespace, control characters) is rejected outright rather than risking
// a broken or overly permissive expression.
var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// Build compiles (ecosystem, mode, allowlist) into a content-selector
// expression. The output is a pure function of its inputs: entries are
// sorted and deduplicated here, so the same set yields a byte-identical
// expression regardless of input order and a value comparison detects
// no-op reconciliations.
func Build(eco domain.Ecosystem, mode domain.Mode, list domain.Allowlist) (string, error) {
	guard := fmt.Sprintf("format == %q", eco.Format)

	if mode == domain.ModeAll {
		prefix, err := allPackagesPath(eco)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s and path=^%q", guard, prefix), nil
	}

	if len(list) == 0 {
		// Deny all: no coordinate ever has an empty path segment, so this
		// expression matches nothing while staying syntactically valid.
		return fmt.Sprintf("%s and path==\"//\"", guard), nil
	}

	names := append([]string(nil), list...)
	sort.Strings(names)
	names = slices.Compact(names)

	terms := make([]string, 0, len(names))
	for _, name := range names {
		if !safeName.MatchString(name) {
			return "", &domain.InvalidPackageNameError{Ecosystem: eco.Key, Name: name}
		}
		term, err := packageTerm(eco, name)
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}

	return fmt.Sprintf("%s and (%s)", guard, strings.Join(terms, " or ")), nil
}

// allPackagesPath returns the path prefix that covers every package
// artifact in the ecosystem's proxy layout.
func allPackagesPath(eco domain.Ecosystem) (string, error) {
	switch eco.Key {
	case "pypi":
		return "/packages/", nil
	case "cran":
		return "/src/contrib", nil
	case "apt":
		return "/pool/", nil
	}
	return "", fmt.Errorf("no selector syntax for ecosystem %q", eco.Key)
}

// packageTerm renders one allowlist entry in the ecosystem's coordinate
// syntax.
func packageTerm(eco domain.Ecosystem, name string) (string, error) {
	switch eco.Key {
	case "pypi":
		// Wheel and sdist downloads live under /packages/<name>/.
		return fmt.Sprintf("path=^%q", "/packages/"+name+"/"), nil
	case "cran":
		// Current releases are tarballs named <name>_<version>; archived
		// releases move under Archive/<name>/.
		return fmt.Sprintf("(path=^%q or path=^%q)",
			"/src/contrib/"+name+"_",
			"/src/contrib/Archive/"+name+"/"+name+"_"), nil
	case "apt":
		return fmt.Sprintf("path=^%q", "/pool/main/"+poolPrefix(name)+"/"+name+"/"), nil
	}
	return "", fmt.Errorf("no selector syntax for ecosystem %q", eco.Key)
}

// poolPrefix returns the Debian pool sharding directory for a package:
// the first letter, or the first four characters for lib* packages.
func poolPrefix(name string) string {
	if strings.HasPrefix(name, "lib") && len(name) > 3 {
		return name[:4]
	}
	return name[:1]
}

// Definition names a standing content selector created during base
// configuration, independent of the allowlist.
type Definition struct {
	Name        string
	Description string
	Expression  string
}

// IndexSelectors returns the ecosystem's index selectors: the metadata
// paths a package client must always be able to read (search indexes,
// package lists) regardless of which packages are allowed.
func IndexSelectors(eco domain.Ecosystem) []Definition {
	switch eco.Key {
	case "pypi":
		return []Definition{{
			Name:        "pypi-simple",
			Description: "Allow access to the PyPI simple index",
			Expression:  `format == "pypi" and path=^"/simple"`,
		}}
	case "cran":
		return []Definition{
			{
				Name:        "cran-packages",
				Description: "Allow access to the CRAN PACKAGES index",
				Expression:  `format == "r" and path=="/src/contrib/PACKAGES"`,
			},
			{
				Name:        "cran-archive",
				Description: "Allow access to CRAN archive metadata",
				Expression:  `format == "r" and path=="/src/contrib/Meta/archive.rds"`,
			},
		}
	case "apt":
		return []Definition{{
			Name:        "apt-dists",
			Description: "Allow access to APT release and package indexes",
			Expression:  `format == "apt" and path=^"/dists/"`,
		}}
	}
	return nil
}
