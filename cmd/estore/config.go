package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/output"
)

var configForce bool

// secretItems maps secret names accepted by set-secret to keychain items
var secretItems = map[string]string{
	"neo4j.password":       config.KeyringNeo4jPasswordItem,
	"cache.redis_password": config.KeyringRedisPasswordItem,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage estore configuration",
	Long:  `View, validate and initialize estore configuration.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, p, err := configPrinter(cmd)
		if err != nil {
			return err
		}
		if p.JSON() {
			masked := *cfg
			masked.Neo4j.Password = config.MaskSecret(cfg.Neo4j.Password)
			masked.Cache.RedisPassword = config.MaskSecret(cfg.Cache.RedisPassword)
			return p.WriteJSON(masked)
		}
		p.KeyValues([][2]string{
			{"root", cfg.Root},
			{"storage.type", cfg.Storage.Type},
			{"storage.local_path", cfg.Storage.LocalPath},
			{"cache.directory", cfg.Cache.Directory},
			{"cache.l2", cfg.Cache.L2},
			{"cache.l3", fmt.Sprint(cfg.Cache.L3)},
			{"cache.redis_addr", cfg.Cache.RedisAddr},
			{"cache.redis_password", config.MaskSecret(cfg.Cache.RedisPassword)},
			{"registry.caller_threshold", fmt.Sprint(cfg.Registry.CallerThreshold)},
			{"registry.lock_ttl", cfg.Registry.LockTTL.String()},
			{"registry.write_back", fmt.Sprint(cfg.Registry.WriteBack)},
			{"index.workers", fmt.Sprint(cfg.Index.Workers)},
			{"watch.debounce", cfg.Watch.Debounce.String()},
			{"risk.fail_on", cfg.Risk.FailOn},
			{"neo4j.uri", cfg.Neo4j.URI},
			{"neo4j.user", cfg.Neo4j.User},
			{"neo4j.password", config.MaskSecret(cfg.Neo4j.Password)},
			{"logging.level", cfg.Logging.Level},
		})
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every configuration section",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, p, err := configPrinter(cmd)
		if err != nil {
			return err
		}
		result := cfg.Validate(config.ValidationContextAll)
		if p.JSON() {
			if err := p.WriteJSON(result); err != nil {
				return err
			}
		} else if result.HasErrors() {
			fmt.Fprint(p.Writer(), result.Error())
		} else {
			for _, w := range result.Warnings {
				fmt.Fprintf(p.Writer(), "warning: %s\n", w)
			}
			p.Success("Configuration is valid")
		}
		if result.HasErrors() {
			return &exitError{code: 1}
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(".estore", "config.yaml")
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists; use --force to overwrite", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		f, err := output.ParseFormat(format)
		if err != nil {
			return err
		}
		output.NewPrinter(cmd.OutOrStdout(), f).Success("Wrote %s", path)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <neo4j.password|cache.redis_password> <value>",
	Short: "Store a password in the OS keychain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, ok := secretItems[args[0]]
		if !ok {
			return fmt.Errorf("unknown secret %q", args[0])
		}
		km := config.NewKeyringManager()
		if !km.IsAvailable() {
			return fmt.Errorf("OS keychain is not available; set the password in the environment instead")
		}
		if err := km.Set(item, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s) to the OS keychain\n", args[0], config.MaskSecret(args[1]))
		return nil
	},
}

func configPrinter(cmd *cobra.Command) (*config.Config, *output.Printer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, output.NewPrinter(cmd.OutOrStdout(), f), nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
