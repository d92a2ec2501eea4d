package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/idkv/cmd/kv"
	"github.com/ValentinKolb/idkv/cmd/serve"
	"github.com/ValentinKolb/idkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "idkv",
		Short: "key-value store with a disk overflow tier",
		Long: fmt.Sprintf(`idkv (v%s)

An in-memory key-value store with multiple databases whose keys are
persisted to an embedded disk store in the background, so the data set
may exceed the memory and survive restarts.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of idkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("idkv v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
