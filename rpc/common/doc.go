// Package common provides the data structures shared by the RPC server, the
// RPC client and the CLI.
//
// Key Components:
//
//   - Message: Core data structure of all RPC communication, used for requests
//     and responses. Which fields are set depends on the MessageType. Errors keep
//     their store.RetCode on the way through the wire (Message.ToError).
//
//   - MessageType: Enumeration of the commands: key commands addressed to one
//     database, disk tier commands and control messages.
//
//   - ServerConfig: Configuration of the server: databases, disk tier, snapshots,
//     the HTTP endpoint and logging. TierConfig derives the idb.Config.
//
//   - ClientConfig: Configuration for client components, controlling endpoints,
//     timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that plugs into the dragonboat
//     logger facade used by all packages.
package common
