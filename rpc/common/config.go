package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/idkv/lib/idb"
)

// --------------------------------------------------------------------------
// Disk engines
// --------------------------------------------------------------------------

type DiskEngine string

const (
	DiskEnginePebble DiskEngine = "pebble" // persistent store in DataDir
	DiskEngineMemory DiskEngine = "memory" // in-memory store, lost on exit
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the server.
type ServerConfig struct {
	// Databases is the number of databases (each one a keyspace and an RPC shard)
	Databases int

	// disk tier
	DiskEnabled       bool
	DiskSync          bool
	DiskEngine        DiskEngine
	DataDir           string
	MaxPageCount      int
	FlushIntervalMs   int64
	FlushMinDirty     int64
	MaxKeys           int
	BloomExpectedKeys uint
	ReconcilePolicy   string

	// keyspace snapshots ("" = disabled)
	SnapshotDir string

	// Timeout of the graceful shutdown
	TimeoutSecond int64

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// TierConfig returns the disk tier configuration
func (c *ServerConfig) TierConfig() (idb.Config, error) {
	policy, err := idb.ParseReconcilePolicy(c.ReconcilePolicy)
	if err != nil {
		return idb.Config{}, err
	}

	cfg := idb.DefaultConfig()
	cfg.Enabled = c.DiskEnabled
	cfg.Sync = c.DiskSync
	cfg.Databases = c.Databases
	cfg.MaxPageCount = c.MaxPageCount
	cfg.Reconcile = policy
	return cfg, nil
}

// FlushInterval returns the interval of automatic flushes (0 = disabled)
func (c *ServerConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Shutdown Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Keyspaces
	addSection("Keyspaces")
	addField("Databases", strconv.Itoa(c.Databases))
	if c.SnapshotDir != "" {
		addField("Snapshot Directory", c.SnapshotDir)
	} else {
		addField("Snapshot Directory", "(disabled)")
	}

	// Disk tier
	addSection("Disk Tier")
	addField("Enabled", strconv.FormatBool(c.DiskEnabled))
	if c.DiskEnabled {
		addField("Engine", string(c.DiskEngine))
		if c.DiskEngine == DiskEnginePebble {
			addField("Data Directory", c.DataDir)
			addField("Bloom Expected Keys", strconv.FormatUint(uint64(c.BloomExpectedKeys), 10))
		}
		addField("Sync", strconv.FormatBool(c.DiskSync))
		addField("Reconcile Policy", c.ReconcilePolicy)
		addField("Max Page Count", strconv.Itoa(c.MaxPageCount))
		if c.MaxKeys > 0 {
			addField("Max Keys", strconv.Itoa(c.MaxKeys))
		} else {
			addField("Max Keys", "(unlimited)")
		}
		if c.FlushIntervalMs > 0 {
			addField("Flush Interval", c.FlushInterval().String())
			addField("Flush Min Dirty", strconv.FormatInt(c.FlushMinDirty, 10))
		} else {
			addField("Flush Interval", "(disabled)")
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
