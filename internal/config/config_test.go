package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_EmptyHost(t *testing.T) {
	cfg := Defaults()
	cfg.Manager.Host = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty host")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Manager.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Manager.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidMode(t *testing.T) {
	cfg := Defaults()
	eco := cfg.Ecosystems["pypi"]
	eco.Mode = "some"
	cfg.Ecosystems["pypi"] = eco
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestValidate_SelectedRequiresFile(t *testing.T) {
	cfg := Defaults()
	eco := cfg.Ecosystems["pypi"]
	eco.Mode = "selected"
	eco.AllowlistFile = ""
	cfg.Ecosystems["pypi"] = eco
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for selected mode without allowlist file")
	}
}

func TestValidate_DisabledEcosystemSkipped(t *testing.T) {
	cfg := Defaults()
	cfg.Ecosystems["apt"] = EcosystemConfig{Enabled: false, Mode: "bogus"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled ecosystems must not be validated, got: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NEXUSALLOW_TEST_PW", "s3cret")

	if got := ExpandEnvVars("${NEXUSALLOW_TEST_PW}"); got != "s3cret" {
		t.Errorf("expected s3cret, got %q", got)
	}
	if got := ExpandEnvVars("${NEXUSALLOW_UNSET_VAR:-fallback}"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := ExpandEnvVars("${NEXUSALLOW_UNSET_VAR}"); got != "${NEXUSALLOW_UNSET_VAR}" {
		t.Errorf("unset without default should stay literal, got %q", got)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Defaults()
	cfg.Manager.Host = "nexus.internal"
	cfg.Manager.Port = 8081
	cfg.Manager.AdminPassword = "literal-pw"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Manager.Host != "nexus.internal" || loaded.Manager.Port != 8081 {
		t.Fatalf("round trip lost manager settings: %+v", loaded.Manager)
	}
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("NEXUSALLOW_ADMIN_PASSWORD", "from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"manager": {"host": "localhost", "port": 8081, "adminPassword": "${NEXUSALLOW_ADMIN_PASSWORD}", "timeoutSeconds": 10}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Manager.AdminPassword != "from-env" {
		t.Fatalf("expected env substitution, got %q", cfg.Manager.AdminPassword)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
