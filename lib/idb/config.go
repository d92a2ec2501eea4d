package idb

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/idkv/lib/db/util"
)

// ReconcilePolicy decides how shadow entries are merged back into the active
// buffer after a failed or interrupted flush
type ReconcilePolicy uint8

const (
	// ReconcileNewerWins only reinserts shadow entries for keys absent from the active buffer
	ReconcileNewerWins ReconcilePolicy = iota
	// ReconcileLegacy lets shadow entries overwrite active entries, reverting newer writes
	ReconcileLegacy
)

func (p ReconcilePolicy) String() string {
	switch p {
	case ReconcileNewerWins:
		return "newer-wins"
	case ReconcileLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// ParseReconcilePolicy parses the configuration value of a reconcile policy
func ParseReconcilePolicy(s string) (ReconcilePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newer-wins":
		return ReconcileNewerWins, nil
	case "legacy":
		return ReconcileLegacy, nil
	default:
		return 0, fmt.Errorf("unknown reconcile policy %q (expected newer-wins or legacy)", s)
	}
}

// Config is the process wide state of the disk tier that is fixed at startup.
// Only Sync can be changed later (Tier.SetSync).
type Config struct {
	Enabled      bool            // disk tier on/off
	Sync         bool            // write through to the disk store instead of buffering
	Databases    int             // number of databases
	MaxPageCount int             // upper bound of a Subkeys page (<= 0 = unbounded)
	Reconcile    ReconcilePolicy // merge rule after a failed flush
	Clock        func() int64    // current time in unix ms
}

// DefaultConfig returns the default tier configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Sync:         false,
		Databases:    16,
		MaxPageCount: 1000,
		Reconcile:    ReconcileNewerWins,
		Clock:        util.NowMillis,
	}
}
