// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/babybridge/internal/config"
	"github.com/ManuGH/babybridge/internal/version"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration (defaults + file + env)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(*configPath)
			if _, err := config.NewLoader(path, version.Version).Load(); err != nil {
				return fmt.Errorf("configuration error in %s: %w", describePath(path), err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", describePath(path))
			return nil
		},
	}

	var format string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(resolveConfigPath(*configPath), version.Version).Load()
			if err != nil {
				return err
			}
			redactSecrets(&cfg)

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer func() { _ = enc.Close() }()
				return enc.Encode(cfg)
			default:
				return fmt.Errorf("unsupported format %q (yaml or json)", format)
			}
		},
	}
	dump.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")

	cmd.AddCommand(validate, dump)
	return cmd
}

func describePath(path string) string {
	if path == "" {
		return "env+defaults"
	}
	return path
}

func redactSecrets(cfg *config.AppConfig) {
	if cfg.Redis.URL != "" {
		cfg.Redis.URL = maskURL(cfg.Redis.URL)
	}
}
