// Package cmd implements the command-line interface of idkv. It provides
// commands for running the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key and disk tier operations (get, set, bgflush, info, ...)
//   - serve: Command for starting and configuring the idkv server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set with an environment variable IDKV_<FLAG> (e.g.
// IDKV_DATA_DIR=/var/lib/idkv), which may be placed in a .env file.
//
// See idkv -help for a list of all commands.
package cmd
