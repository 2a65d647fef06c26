package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of hookscan",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := AppVersion
		if v == "" {
			v = "dev"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s", v)
		if AppBuildTime != "" {
			fmt.Fprintf(cmd.OutOrStdout(), ", BuildTime: %s", AppBuildTime)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	},
}
