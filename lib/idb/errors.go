package idb

import "errors"

var (
	// ErrDisabled is returned by tier operations when the disk tier is turned off
	ErrDisabled = errors.New("the disk tier is disabled, set disk-enabled to true in the configuration first")

	// ErrFlushInProgress is returned when a flush is requested while another one is running
	ErrFlushInProgress = errors.New("a background flush is already in progress")

	// ErrNoFlushRunning is returned by StopFlush when no flush is running
	ErrNoFlushRunning = errors.New("no background flush is running")

	// ErrFlushCanceled is the benign cancel cause: a flush stopped with it does not change the last flush status
	ErrFlushCanceled = errors.New("background flush canceled")

	// ErrFlushKilled is the default cause for stopping a flush as a failure
	ErrFlushKilled = errors.New("background flush killed")

	// ErrReservedKey is returned for database 0 keys that lie in the namespace of another database
	ErrReservedKey = errors.New("key lies in a reserved database namespace")

	// ErrInvalidDatabase is returned for database indexes outside the configured range
	ErrInvalidDatabase = errors.New("invalid database index")
)
