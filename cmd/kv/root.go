package kv

import (
	"github.com/ValentinKolb/idkv/cmd/util"
	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/ValentinKolb/idkv/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore
	dbIndex  int

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value store and disk tier operations",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	// Add common RPC flags to the KV command
	util.SetupRPCClientFlags(KeyValueCommands)

	// key commands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(setECmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(expireCmd)
	KeyValueCommands.AddCommand(rpushCmd)
	KeyValueCommands.AddCommand(hsetCmd)
	KeyValueCommands.AddCommand(subkeysCmd)

	// disk tier commands
	KeyValueCommands.AddCommand(bgFlushCmd)
	KeyValueCommands.AddCommand(flushAllCmd)
	KeyValueCommands.AddCommand(cancelFlushCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(saveCmd)

	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient initializes the RPC store client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	dbIndex = util.GetDB()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(
		*config,
		t,
		s,
	)

	return err
}
