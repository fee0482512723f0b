package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		if h.ConfigExists() && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", h.ConfigPath())
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", h.ConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		cfgMgr, err := config.NewManager(cfgFile, h.Path())
		if err != nil {
			return err
		}
		return api.Output(redactKeys(cfgMgr.Get()))
	},
}

// redactKeys returns a copy of cfg with provider API keys masked.
func redactKeys(cfg *config.Config) *config.Config {
	out := *cfg
	out.LLMProviders = make(map[string]config.LLMProviderCfg, len(cfg.LLMProviders))
	for name, p := range cfg.LLMProviders {
		if p.APIKey != "" {
			p.APIKey = "********"
		}
		out.LLMProviders[name] = p
	}
	out.ImageProviders = make(map[string]config.ImageProviderCfg, len(cfg.ImageProviders))
	for name, p := range cfg.ImageProviders {
		if p.APIKey != "" {
			p.APIKey = "********"
		}
		out.ImageProviders[name] = p
	}
	return &out
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
