package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/achesucatas/auditor/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the auditor version tag",
	Long: `Print the provenance tag written into versao_auditor on records and
versao_miner on run rows.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildinfo.AuditorTag())
	},
}
