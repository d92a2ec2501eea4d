package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/ValentinKolb/idkv/rpc/common"
	"github.com/ValentinKolb/idkv/rpc/serializer"
	"github.com/ValentinKolb/idkv/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	s := rpcStore{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	return &s, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// shard returns the shard id of a database
func shard(dbIndex int) (uint64, error) {
	if dbIndex < 0 {
		return 0, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid database index %d", dbIndex))
	}
	return uint64(dbIndex), nil
}

// call sends a key command to the shard of dbIndex
func (i *rpcStore) call(dbIndex int, req *common.Message) (*common.Message, error) {
	shardId, err := shard(dbIndex)
	if err != nil {
		return nil, err
	}
	return i.invoke(shardId, req)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Set(dbIndex int, key string, value []byte) (err error) {
	_, err = i.call(dbIndex, common.NewSetRequest(key, value))
	return err
}

func (i *rpcStore) SetE(dbIndex int, key string, value []byte, expireIn uint64) (err error) {
	_, err = i.call(dbIndex, common.NewSetERequest(key, value, expireIn))
	return err
}

func (i *rpcStore) Get(dbIndex int, key string) (value []byte, loaded bool, err error) {
	resp, err := i.call(dbIndex, common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Has(dbIndex int, key string) (loaded bool, err error) {
	resp, err := i.call(dbIndex, common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Delete(dbIndex int, key string) (deleted bool, err error) {
	resp, err := i.call(dbIndex, common.NewDeleteRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Expire(dbIndex int, key string, expireIn uint64) (ok bool, err error) {
	resp, err := i.call(dbIndex, common.NewExpireRequest(key, expireIn))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) RPush(dbIndex int, key string, values ...[]byte) (length int, err error) {
	resp, err := i.call(dbIndex, common.NewRPushRequest(key, values))
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (i *rpcStore) HSet(dbIndex int, key, field string, value []byte) (created bool, err error) {
	resp, err := i.call(dbIndex, common.NewHSetRequest(key, field, value))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Subkeys(dbIndex int, keyPath, pattern string, count, skip int) (names []string, err error) {
	resp, err := i.call(dbIndex, common.NewSubkeysRequest(keyPath, pattern, count, skip))
	if err != nil {
		return nil, err
	}
	if resp.Names == nil {
		return []string{}, nil
	}
	return resp.Names, nil
}

func (i *rpcStore) BackgroundFlush() (keys int, err error) {
	resp, err := i.invoke(tierShard, common.NewBackgroundFlushRequest())
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (i *rpcStore) FlushAll() (keys int, err error) {
	resp, err := i.invoke(tierShard, common.NewFlushAllRequest())
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (i *rpcStore) CancelFlush() (err error) {
	_, err = i.invoke(tierShard, common.NewCancelFlushRequest())
	return err
}

func (i *rpcStore) Info() (info store.Info, err error) {
	resp, err := i.invoke(tierShard, common.NewInfoRequest())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return info, fmt.Errorf("RPC IStoreAdapter - invalid info response: %w", err)
	}
	return info, nil
}

func (i *rpcStore) Save() (err error) {
	_, err = i.invoke(tierShard, common.NewSaveRequest())
	return err
}
