package cmd

import (
	"fmt"
	"os"

	"github.com/coraldb/coral/cmd/bench"
	"github.com/coraldb/coral/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "coral",
		Short: "sharded in-memory multi-key database core",
		Long: fmt.Sprintf(`coral (v%s)

The concurrency and coordination core of a sharded, in-memory,
multi-key database engine: shard-per-thread execution streams,
cross-shard transactions with logical-clock ordering, and
cooperative cancellation.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of coral",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coral v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level (debug, info, warn, error)"))
	key = "shards"
	RootCmd.PersistentFlags().Int(key, 0, util.WrapString("number of shards (0 = one per CPU)"))
	key = "max-memory"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("memory ceiling, human readable (e.g. 4G, 512MB; empty = unlimited)"))
	key = "lock-timeout"
	RootCmd.PersistentFlags().Duration(key, 0, util.WrapString("per-attempt lock acquisition timeout (0 = default)"))
	key = "lock-attempts"
	RootCmd.PersistentFlags().Uint64(key, 0, util.WrapString("maximum lock acquisition attempts before a transaction reports contention (0 = default)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
