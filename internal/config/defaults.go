package config

func Defaults() *Config {
	return &Config{
		Manager: ManagerConfig{
			Host:           "localhost",
			Port:           80,
			AdminUsername:  "admin",
			AdminPassword:  "${NEXUSALLOW_ADMIN_PASSWORD}",
			DataDir:        "./nexus-data",
			TimeoutSeconds: 10,
		},
		Ecosystems: map[string]EcosystemConfig{
			"pypi": {
				Enabled:       true,
				Mode:          "selected",
				AllowlistFile: "./allowlists/pypi.allowlist",
			},
			"cran": {
				Enabled:       true,
				Mode:          "selected",
				AllowlistFile: "./allowlists/cran.allowlist",
			},
			"apt": {
				Enabled: false,
				Mode:    "selected",
			},
		},
		Reconcile: ReconcileConfig{
			DebounceSeconds:      2,
			ResyncMinutes:        15,
			BootstrapPollSeconds: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.nexusallow/history.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9184",
		},
		LogLevel: "info",
	}
}
