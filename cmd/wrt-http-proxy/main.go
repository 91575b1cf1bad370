package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wrtkit/router-command/internal/log"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "wrt-http-proxy",
	Short: "REST gateway for OpenWrt routers",
	Long: `wrt-http-proxy exposes the data and control surface of one or more OpenWrt
routers over an authenticated REST API. Reads are answered from a shared cache
so any number of dashboard or automation clients produce a bounded amount of
ubus traffic; control actions are executed directly and refresh the cache
before returning.

Clients authenticate with HMAC-signed bearer tokens scoped to named routers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/wrt-proxy/config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
