package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   string
	BuildTime string
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "host",
	Short: "host starts RPC workers and calls their entry points",
}

func Execute() {
	// parse flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	callCmd.Flags().StringVar(&workerBin, "worker-bin", "", "worker executable to spawn")
	callCmd.Flags().StringVar(&workerPlugin, "plugin", "", "plugin passed to the spawned worker")
	callCmd.Flags().StringVar(&listenAddr, "listen", "", "listener address (default from config, 127.0.0.1:0)")
	callCmd.Flags().DurationVar(&acceptTimeout, "accept-timeout", defaultAcceptTimeout, "how long to wait for the worker to connect")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "give up on the call after this long (0 waits forever)")

	// add commands
	rootCmd.AddCommand(callCmd, versionCmd)

	// execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
