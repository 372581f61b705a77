package ecosystem

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	pypi, err := r.Get("pypi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pypi.Format != "pypi" || pypi.RepoName != "pypi-proxy" {
		t.Fatalf("unexpected pypi definition: %+v", pypi)
	}

	cran, err := r.Get("cran")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cran.Format != "r" {
		t.Fatalf("cran format should be 'r', got %q", cran.Format)
	}

	if _, err := r.Get("npm"); err == nil {
		t.Fatal("expected error for unknown ecosystem")
	}
}

func TestRegistry_Keys(t *testing.T) {
	keys := NewRegistry().Keys()
	want := []string{"apt", "cran", "pypi"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func TestNormalize_PyPI(t *testing.T) {
	pypi := builtin["pypi"]
	cases := map[string]string{
		"NumPy":            "numpy",
		"Flask_SQLAlchemy": "flask-sqlalchemy",
		"zope.interface":   "zope-interface",
		"a.-_b":            "a-b",
		"  requests  ":     "requests",
	}
	for in, want := range cases {
		if got := Normalize(pypi, in); got != want {
			t.Errorf("Normalize(pypi, %q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_CRANVerbatim(t *testing.T) {
	cran := builtin["cran"]
	if got := Normalize(cran, "data.table"); got != "data.table" {
		t.Errorf("CRAN names must be kept verbatim, got %q", got)
	}
	if got := Normalize(cran, "Matrix"); got != "Matrix" {
		t.Errorf("CRAN names are case-sensitive, got %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	override := `key: pypi
format: pypi
repoName: pypi-proxy
remoteUrl: https://mirror.example.org/pypi/
`
	if err := os.WriteFile(filepath.Join(dir, "pypi.yaml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	extra := `format: conda
repoName: conda-proxy
remoteUrl: https://repo.anaconda.com/
`
	if err := os.WriteFile(filepath.Join(dir, "conda.yaml"), []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadOverrides(dir, testLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pypi, _ := r.Get("pypi")
	if pypi.RemoteURL != "https://mirror.example.org/pypi/" {
		t.Errorf("override should replace the built-in remote URL, got %q", pypi.RemoteURL)
	}

	// Key defaults to the file name when omitted.
	conda, err := r.Get("conda")
	if err != nil {
		t.Fatalf("expected conda ecosystem from override file: %v", err)
	}
	if conda.Format != "conda" {
		t.Errorf("unexpected conda definition: %+v", conda)
	}
}

func TestLoadOverrides_MissingDirIsFine(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadOverrides(filepath.Join(t.TempDir(), "nope"), testLogger()); err != nil {
		t.Fatalf("missing override dir must not error: %v", err)
	}
}

func TestLoadOverrides_Incomplete(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("format: zip\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry()
	if err := r.LoadOverrides(dir, testLogger()); err == nil {
		t.Fatal("expected error for incomplete ecosystem definition")
	}
}
