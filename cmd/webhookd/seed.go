package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/marcelsud/webhook-dispatch/seed"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register or update the endpoints listed in a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = cfg.Seed.File
		}
		if file == "" {
			return fmt.Errorf("no seed file: pass --file or set seed.file")
		}

		defaults, err := policyDefaults(cfg.Delivery)
		if err != nil {
			return err
		}
		loader := seed.NewLoader(defaults)
		if err := loader.Load(file); err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		results, err := loader.Apply(cmd.Context(), a.registry)
		printResults(cmd, results)
		return err
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and, optionally, a seed file without touching storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		defaults, err := policyDefaults(cfg.Delivery)
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = cfg.Seed.File
		}
		if file != "" {
			loader := seed.NewLoader(defaults)
			if err := loader.Load(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d endpoint(s) valid\n", file, len(loader.List()))
		}

		fmt.Fprintln(cmd.OutOrStdout(), "config valid")
		return nil
	},
}

func printResults(cmd *cobra.Command, results []seed.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENDPOINT\tOUTCOME\tSECRET")
	for _, r := range results {
		secret := "-"
		if r.Secret != "" {
			secret = r.Secret
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.EndpointID, r.Outcome, secret)
	}
	_ = w.Flush()
}

func init() {
	seedCmd.Flags().String("file", "", "seed file (default: seed.file from config)")
	validateCmd.Flags().String("file", "", "seed file to validate (default: seed.file from config)")
}
