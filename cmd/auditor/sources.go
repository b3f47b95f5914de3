package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/achesucatas/auditor/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured harvest sources",
	Long: `List every source in the catalog with its kind and state. The
embedded catalog is used unless AUDITOR_SOURCES_FILE points at a TOML
file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(config.FromEnv())
		if err != nil {
			return err
		}

		fmt.Printf("%-20s %-8s %-9s %s\n", "NAME", "KIND", "ENABLED", "BASE URL")
		for _, src := range catalog.Sources {
			enabled := "yes"
			if !src.Enabled {
				enabled = "no"
			}
			fmt.Printf("%-20s %-8s %-9s %s\n", src.Name, src.Kind, enabled, src.BaseURL)
		}
		if n := len(catalog.Whitelist.Hosts); n > 0 {
			fmt.Printf("\n%d whitelisted auctioneer hosts\n", n)
		}
		return nil
	},
}
