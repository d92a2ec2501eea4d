package server

import (
	"fmt"

	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/ValentinKolb/idkv/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(dbIndex int, req *common.Message, store store.IStore) *common.Message {
	// Check for nil store
	if store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {

	// key commands
	case common.MsgTKVSet:
		err := store.Set(dbIndex, req.Key, req.Value)
		return common.NewSetResponse(err)
	case common.MsgTKVSetE:
		err := store.SetE(dbIndex, req.Key, req.Value, req.ExpireIn)
		return common.NewSetEResponse(err)
	case common.MsgTKVGet:
		val, ok, err := store.Get(dbIndex, req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := store.Has(dbIndex, req.Key)
		return common.NewHasResponse(ok, err)
	case common.MsgTKVDelete:
		deleted, err := store.Delete(dbIndex, req.Key)
		return common.NewDeleteResponse(deleted, err)
	case common.MsgTKVExpire:
		ok, err := store.Expire(dbIndex, req.Key, req.ExpireIn)
		return common.NewExpireResponse(ok, err)
	case common.MsgTKVRPush:
		length, err := store.RPush(dbIndex, req.Key, req.Values...)
		return common.NewRPushResponse(length, err)
	case common.MsgTKVHSet:
		created, err := store.HSet(dbIndex, req.Key, req.Field, req.Value)
		return common.NewHSetResponse(created, err)
	case common.MsgTKVSubkeys:
		names, err := store.Subkeys(dbIndex, req.Key, req.Pattern, int(req.Count), int(req.Skip))
		return common.NewSubkeysResponse(names, err)

	// disk tier commands, they do not depend on the database
	case common.MsgTDiskBgFlush:
		keys, err := store.BackgroundFlush()
		return common.NewBackgroundFlushResponse(keys, err)
	case common.MsgTDiskFlushAll:
		keys, err := store.FlushAll()
		return common.NewFlushAllResponse(keys, err)
	case common.MsgTDiskCancelFlush:
		err := store.CancelFlush()
		return common.NewCancelFlushResponse(err)
	case common.MsgTInfo:
		info, err := store.Info()
		return common.NewInfoResponse(info, err)
	case common.MsgTSave:
		err := store.Save()
		return common.NewSaveResponse(err)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
