package kv

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// parseMillis parses a duration argument in milliseconds
func parseMillis(name, arg string) (uint64, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number of milliseconds: %w", name, err)
	}
	return v, nil
}

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the string value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Set(dbIndex, args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
	setECmd = &cobra.Command{
		Use:   "setE [key] [value] [expireIn]",
		Short: "Sets the string value of a key that expires after expireIn milliseconds",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			expireIn, err := parseMillis("expireIn", args[2])
			if err != nil {
				return err
			}
			if err := rpcStore.SetE(dbIndex, args[0], []byte(args[1]), expireIn); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the string value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok, err := rpcStore.Get(dbIndex, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", args[0], ok, value)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists in memory or on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcStore.Has(dbIndex, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key from memory and disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := rpcStore.Delete(dbIndex, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", args[0], deleted)
			return nil
		},
	}
	expireCmd = &cobra.Command{
		Use:   "expire [key] [expireIn]",
		Short: "Sets the expiration of a key to expireIn milliseconds from now (0 deletes the key)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expireIn, err := parseMillis("expireIn", args[1])
			if err != nil {
				return err
			}
			ok, err := rpcStore.Expire(dbIndex, args[0], expireIn)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, updated=%t\n", args[0], ok)
			return nil
		},
	}
	rpushCmd = &cobra.Command{
		Use:   "rpush [key] [value...]",
		Short: "Appends values to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make([][]byte, len(args)-1)
			for i, v := range args[1:] {
				values[i] = []byte(v)
			}
			length, err := rpcStore.RPush(dbIndex, args[0], values...)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, length=%d\n", args[0], length)
			return nil
		},
	}
	hsetCmd = &cobra.Command{
		Use:   "hset [key] [field] [value]",
		Short: "Sets a field of a hash",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := rpcStore.HSet(dbIndex, args[0], args[1], []byte(args[2]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, field=%s, created=%t\n", args[0], args[1], created)
			return nil
		},
	}
	subkeysCmd = &cobra.Command{
		Use:   "subkeys [keyPath]",
		Short: "Lists the names of the persisted keys below a key path (root if omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyPath := ""
			if len(args) == 1 {
				keyPath = args[0]
			}
			pattern, _ := cmd.Flags().GetString("pattern")
			count, _ := cmd.Flags().GetInt("count")
			skip, _ := cmd.Flags().GetInt("skip")

			names, err := rpcStore.Subkeys(dbIndex, keyPath, pattern, count, skip)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	bgFlushCmd = &cobra.Command{
		Use:   "bgflush",
		Short: "Starts a background flush of all changed keys to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := rpcStore.BackgroundFlush()
			if err != nil {
				return err
			}
			fmt.Printf("background flush started (%d keys)\n", keys)
			return nil
		},
	}
	flushAllCmd = &cobra.Command{
		Use:   "flushall",
		Short: "Writes all changed keys to disk and waits until they are durable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := rpcStore.FlushAll()
			if err != nil {
				return err
			}
			fmt.Printf("flushed %d keys\n", keys)
			return nil
		},
	}
	cancelFlushCmd = &cobra.Command{
		Use:   "cancelflush",
		Short: "Cancels the running background flush, its keys stay pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.CancelFlush(); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the state of the disk tier and the databases as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.Info()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	saveCmd = &cobra.Command{
		Use:   "save",
		Short: "Writes a snapshot of all databases to the snapshot directory of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Save(); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
)

func init() {
	subkeysCmd.Flags().String("pattern", "", "glob pattern the names must match")
	subkeysCmd.Flags().Int("count", 0, "maximum number of names (0 = server maximum)")
	subkeysCmd.Flags().Int("skip", 0, "number of names to skip")
}
