// Command sbp runs the stigmergic blackboard server: a single JSON-RPC
// 2.0 endpoint over HTTP with SSE push for scent triggers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version and Build are stamped at release time; left as defaults for
// local builds.
var (
	Version = "dev"
	Build   = "none"
)

var rootCmd = &cobra.Command{
	Use:   "sbp",
	Short: "sbp - stigmergic blackboard protocol server",
	Long: `A coordination engine for autonomous agents built on decaying
pheromone signals and declarative scent wake conditions.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("sbp version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.Flags().Bool("version", false, "print version and exit")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
