package serve

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/idkv/cmd/util"
	"github.com/ValentinKolb/idkv/rpc/common"
	"github.com/ValentinKolb/idkv/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the idkv server",
		Long:    `Start the idkv server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is IDKV_<flag> (e.g. IDKV_DATA_DIR=/var/lib/idkv)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "databases"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of databases, every database is a separate keyspace and RPC shard"))

	key = "disk-enabled"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Persist keys to the disk tier. Without it all data is lost on exit (unless snapshots are used)"))

	key = "disk-engine"
	ServeCmd.PersistentFlags().String(key, string(common.DiskEnginePebble), cmdUtil.WrapString("Engine of the disk tier (pebble, memory)"))

	key = "disk-sync"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Write every change to disk before the command returns instead of buffering it until the next flush"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory of the pebble disk store"))

	key = "max-page-count"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("Maximum number of names returned by one subkeys call"))

	key = "flush-interval"
	ServeCmd.PersistentFlags().Int64(key, 1000, cmdUtil.WrapString("Interval in milliseconds of the automatic background flush (0 = disabled)"))

	key = "flush-min-dirty"
	ServeCmd.PersistentFlags().Int64(key, 1, cmdUtil.WrapString("Number of changed keys required for an automatic flush"))

	key = "max-keys"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Keys kept in memory per database before the least recently used ones are evicted to the disk tier (0 = unlimited)"))

	key = "bloom-expected-keys"
	ServeCmd.PersistentFlags().Uint(key, 1_000_000, cmdUtil.WrapString("Expected number of keys on disk, sizes the bloom filter of the pebble store"))

	key = "reconcile-policy"
	ServeCmd.PersistentFlags().String(key, "newer-wins", cmdUtil.WrapString("How a failed flush merges its keys back (newer-wins, legacy). With legacy the flushed value overwrites writes made during the flush"))

	key = "snapshot-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Directory of keyspace snapshots written by the save command and loaded on start (empty = disabled)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Timeout in seconds to finish running requests on shutdown"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Databases = viper.GetInt("databases")
	serveCmdConfig.DiskEnabled = viper.GetBool("disk-enabled")
	serveCmdConfig.DiskEngine = common.DiskEngine(viper.GetString("disk-engine"))
	serveCmdConfig.DiskSync = viper.GetBool("disk-sync")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.MaxPageCount = viper.GetInt("max-page-count")
	serveCmdConfig.FlushIntervalMs = viper.GetInt64("flush-interval")
	serveCmdConfig.FlushMinDirty = viper.GetInt64("flush-min-dirty")
	serveCmdConfig.MaxKeys = viper.GetInt("max-keys")
	serveCmdConfig.BloomExpectedKeys = viper.GetUint("bloom-expected-keys")
	serveCmdConfig.ReconcilePolicy = viper.GetString("reconcile-policy")
	serveCmdConfig.SnapshotDir = viper.GetString("snapshot-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Databases <= 0 {
		return fmt.Errorf("invalid number of databases: %d", serveCmdConfig.Databases)
	}
	if serveCmdConfig.MaxKeys < 0 {
		return fmt.Errorf("invalid max keys: %d", serveCmdConfig.MaxKeys)
	}
	switch serveCmdConfig.DiskEngine {
	case common.DiskEnginePebble, common.DiskEngineMemory:
	default:
		return fmt.Errorf("invalid disk engine: %s (expected one of: pebble, memory)", serveCmdConfig.DiskEngine)
	}
	if _, err := serveCmdConfig.TierConfig(); err != nil {
		return err
	}

	return nil
}

// run starts the idkv server and shuts it down on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), time.Duration(serveCmdConfig.TimeoutSecond)*time.Second)
		defer cancel()
		shutdownErr <- serv.Shutdown(timeout)
	}()

	if err := serv.Serve(); err != nil {
		stop()
		<-shutdownErr
		return err
	}

	// Serve returns after the shutdown started, wait until the store is closed
	return <-shutdownErr
}
