package server

import (
	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/ValentinKolb/idkv/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request for the database dbIndex and returns a response.
	// If an error occurs, it should be set in the response
	Handle(dbIndex int, req *common.Message, store store.IStore) (resp *common.Message)
}
