package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"nexusallow/internal/allowlist"
	"nexusallow/internal/bootstrap"
	"nexusallow/internal/config"
	"nexusallow/internal/domain"
	"nexusallow/internal/ecosystem"
	"nexusallow/internal/history"
	"nexusallow/internal/nexus"
	"nexusallow/internal/reconcile"

	"github.com/spf13/cobra"
)

var (
	version = "0.3.0"
	logger  *slog.Logger

	configPath string

	// Connection flag overrides; empty/zero means "use config".
	flagHost          string
	flagPort          int
	flagPathPrefix    string
	flagAdminPassword string

	// Packages flag overrides shared by the configuration commands.
	flagPackages string
	flagPyPIFile string
	flagCRANFile string
	flagAPTFile  string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "nexusallow",
		Short: "Enforce package allowlists on a Nexus repository manager",
		Long:  "nexusallow configures a Nexus-style repository manager so that only allowlisted PyPI/CRAN/APT packages can be installed through its proxy repositories.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.nexusallow/config.json)")
	root.PersistentFlags().StringVar(&flagHost, "host", "", "manager hostname (overrides config)")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "manager port (overrides config)")
	root.PersistentFlags().StringVar(&flagPathPrefix, "path-prefix", "", "manager context path (overrides config)")
	root.PersistentFlags().StringVar(&flagAdminPassword, "admin-password", "", "admin password (overrides config)")

	root.AddCommand(initCmd())
	root.AddCommand(changeInitialPasswordCmd())
	root.AddCommand(testAuthenticationCmd())
	root.AddCommand(initialConfigurationCmd())
	root.AddCommand(updateAllowlistsCmd())
	root.AddCommand(runCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func changeInitialPasswordCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "change-initial-password",
		Short: "Rotate the manager's generated initial admin password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.Manager.DataDir = dataDir
			}

			seq := bootstrap.NewSequencer(bootstrap.Config{
				DataDir:       cfg.Manager.DataDir,
				AdminPassword: cfg.Manager.AdminPassword,
				NewClient:     clientFactory(cfg),
				Logger:        logger,
			})
			err = seq.RotateOnly(cmd.Context())
			if errors.Is(err, domain.ErrAlreadyChanged) {
				logger.Info("initial password appears to have been already changed")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "manager data directory holding admin.password (overrides config)")
	return cmd
}

func testAuthenticationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-authentication",
		Short: "Verify admin credentials against the manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newClient(cfg, cfg.Manager.AdminPassword)
			return client.TestAuth(cmd.Context())
		},
	}
}

func initialConfigurationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initial-configuration",
		Short: "Create base repositories, selectors, privileges and roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newClient(cfg, cfg.Manager.AdminPassword)
			if err := reconcileOnce(cmd.Context(), cfg, client); err != nil {
				return err
			}
			if err := client.EnableAnonymousAccess(cmd.Context()); err != nil {
				return err
			}
			return client.SetAnonymousRoles(cmd.Context(), []string{reconcile.RoleID})
		},
	}
	addPackagesFlags(cmd)
	return cmd
}

func updateAllowlistsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-allowlists",
		Short: "Reconcile the manager against the current allowlist files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newClient(cfg, cfg.Manager.AdminPassword)
			return reconcileOnce(cmd.Context(), cfg, client)
		},
	}
	addPackagesFlags(cmd)
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reconciliation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.NewStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no reconciliation runs recorded")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-6s %-8s packages=%-4d mutations=%-3d %s",
					r.StartedAt.Format(time.RFC3339), r.Ecosystem, r.Mode, r.Packages, r.Mutations, r.Status)
				if r.Error != "" {
					line += "  " + r.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nexusallow %s\n", version)
		},
	}
}

func addPackagesFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagPackages, "packages", "", "allow 'all' packages or only 'selected' packages (overrides config for every enabled ecosystem)")
	cmd.Flags().StringVar(&flagPyPIFile, "pypi-package-file", "", "path of the allowed PyPI packages file (overrides config)")
	cmd.Flags().StringVar(&flagCRANFile, "cran-package-file", "", "path of the allowed CRAN packages file (overrides config)")
	cmd.Flags().StringVar(&flagAPTFile, "apt-package-file", "", "path of the allowed APT packages file (overrides config)")
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file (falling back to defaults when absent)
// and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
	}

	if flagHost != "" {
		cfg.Manager.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Manager.Port = flagPort
	}
	if flagPathPrefix != "" {
		cfg.Manager.PathPrefix = flagPathPrefix
	}
	if flagAdminPassword != "" {
		cfg.Manager.AdminPassword = flagAdminPassword
	}

	if flagPackages != "" {
		if _, err := domain.ParseMode(flagPackages); err != nil {
			return nil, err
		}
		for key, eco := range cfg.Ecosystems {
			eco.Mode = flagPackages
			cfg.Ecosystems[key] = eco
		}
	}
	for key, file := range map[string]string{
		"pypi": flagPyPIFile,
		"cran": flagCRANFile,
		"apt":  flagAPTFile,
	} {
		if file == "" {
			continue
		}
		eco := cfg.Ecosystems[key]
		eco.Enabled = true
		eco.AllowlistFile = file
		cfg.Ecosystems[key] = eco
	}

	// Defaults carry the env placeholder verbatim; expand it here so running
	// without a config file still picks the password up from the environment.
	cfg.Manager.AdminPassword = config.ExpandEnvVars(cfg.Manager.AdminPassword)
	if cfg.Manager.AdminPassword == "" || strings.HasPrefix(cfg.Manager.AdminPassword, "${") {
		return nil, fmt.Errorf("admin password not set (config manager.adminPassword, NEXUSALLOW_ADMIN_PASSWORD, or --admin-password)")
	}
	return cfg, nil
}

func newClient(cfg *config.Config, password string) *nexus.Client {
	return nexus.New(nexus.Config{
		Host:       cfg.Manager.Host,
		Port:       cfg.Manager.Port,
		PathPrefix: cfg.Manager.PathPrefix,
		Username:   cfg.Manager.AdminUsername,
		Password:   password,
		Timeout:    time.Duration(cfg.Manager.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})
}

// clientFactory adapts newClient to the bootstrap sequencer, which needs
// clients for both the initial and the operator password.
func clientFactory(cfg *config.Config) func(password string) domain.AdminClient {
	return func(password string) domain.AdminClient {
		return newClient(cfg, password)
	}
}

// buildRegistry returns the ecosystem registry with YAML overrides applied.
func buildRegistry(cfg *config.Config) (*ecosystem.Registry, error) {
	registry := ecosystem.NewRegistry()
	if cfg.Reconcile.EcosystemDir != "" {
		if err := registry.LoadOverrides(cfg.Reconcile.EcosystemDir, logger); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildSpecs turns the config into desired state, re-reading every
// allowlist file. Called freshly on each trigger so reconciliation always
// sees the files' current content.
func buildSpecs(cfg *config.Config, registry *ecosystem.Registry) ([]reconcile.Spec, error) {
	keys := make([]string, 0, len(cfg.Ecosystems))
	for key, ecoCfg := range cfg.Ecosystems {
		if ecoCfg.Enabled {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	specs := make([]reconcile.Spec, 0, len(keys))
	for _, key := range keys {
		ecoCfg := cfg.Ecosystems[key]
		eco, err := registry.Get(key)
		if err != nil {
			return nil, err
		}
		mode, err := domain.ParseMode(ecoCfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("ecosystem %s: %w", key, err)
		}

		// A declared allowlist file must be loadable even in "all" mode, so
		// an operator typo surfaces before the mode is ever switched.
		var list domain.Allowlist
		if ecoCfg.AllowlistFile != "" {
			list, err = allowlist.Load(ecoCfg.AllowlistFile, eco)
			if err != nil {
				return nil, err
			}
		}
		if mode != domain.ModeSelected {
			list = nil
		}
		specs = append(specs, reconcile.Spec{Ecosystem: eco, Mode: mode, Allowlist: list})
	}
	return specs, nil
}

// reconcileOnce runs a single reconciliation pass for every enabled
// ecosystem, without history recording. Used by the one-shot commands.
func reconcileOnce(ctx context.Context, cfg *config.Config, client *nexus.Client) error {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	specs, err := buildSpecs(cfg, registry)
	if err != nil {
		return err
	}
	return reconcile.New(client, nil, logger).ApplyAll(ctx, specs)
}
