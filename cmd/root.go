/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "miniroute",
	Short: "Route chat messages through declarative rule tables",
	Long: `miniroute matches inbound messages against an ordered table of rules and
replies with the first rule that handles them. Tables can mount other tables,
group rules under a shared context and fall back to an LLM assistant.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $MINIROUTE_CONFIG or ./config.json)")
}
