package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postpulse/postpulse/internal/config"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile [account]",
		Short: "Compute one account's distribution and print it as JSON",
		Long: "Fetches the account's recent posts once and prints the weekday and\n" +
			"two-hour window statistics. Without an argument the configured\n" +
			"default account is used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			account := cfg.Accounts.Default
			if len(args) == 1 {
				account = config.NormalizeHandle(args[0])
			}
			if !config.ValidHandle(account) {
				return fmt.Errorf("invalid handle %q", account)
			}

			eng, err := buildEngine(cfg, nil)
			if err != nil {
				return err
			}
			res, err := eng.ComputeDistribution(cmd.Context(), account)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Report.Unavailable() {
				return fmt.Errorf("timeline unavailable: %s", res.Report.Pages[0].Error)
			}
			return nil
		},
	}
}
