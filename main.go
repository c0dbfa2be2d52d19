// Command arbitrage-watch streams order book tops from five exchanges,
// detects cross-exchange arbitrage and fans the results out to dashboard
// clients over websockets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped by the build; "dev" for local runs.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "arbitrage-watch",
	Short: "Real-time cross-exchange arbitrage monitor",
	Long: `arbitrage-watch collects best bid/ask quotes from bingx, wallex,
ramzinex, lbank and tabdeal, detects cross-exchange arbitrage opportunities
and serves them to dashboards over websockets and a JSON API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collectors, detector and dashboard server",
	RunE: func(*cobra.Command, []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(*cobra.Command, []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
