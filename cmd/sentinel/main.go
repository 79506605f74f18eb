// Command sentinel watches a camera for a described target using SAM2 focus segmentation and a
// vision model.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "sentinel",
	Short:         "Motion-gated camera monitoring with SAM2 focus segmentation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
