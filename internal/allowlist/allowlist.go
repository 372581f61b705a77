// Package allowlist loads operator-declared package allowlists from
// line-oriented text files.
package allowlist

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"nexusallow/internal/domain"
	"nexusallow/internal/ecosystem"
)

// Load reads the allowlist file at path for the given ecosystem. One package
// name per line; blank lines and '#' comments are ignored; names are
// normalized per ecosystem, deduplicated and sorted. A missing file returns
// domain.ErrNotFound: a declared allowlist must exist before any remote
// state is touched.
func Load(path string, eco domain.Ecosystem) (domain.Allowlist, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("allowlist %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open allowlist %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name := ecosystem.Normalize(eco, line)
		if name == "" {
			continue
		}
		seen[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allowlist %s: %w", path, err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return domain.Allowlist(names), nil
}
