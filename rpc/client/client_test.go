package client

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/engines/maple"
	"github.com/ValentinKolb/idkv/lib/disk/memstore"
	"github.com/ValentinKolb/idkv/lib/idb"
	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/ValentinKolb/idkv/lib/store/lstore"
	"github.com/ValentinKolb/idkv/rpc/common"
	"github.com/ValentinKolb/idkv/rpc/serializer"
	"github.com/ValentinKolb/idkv/rpc/server"
)

// loopbackTransport hands requests directly to a server adapter
type loopbackTransport struct {
	store   store.IStore
	adapter server.IRPCServerAdapter
	ser     serializer.IRPCSerializer
	shards  []uint64
}

func (l *loopbackTransport) Connect(common.ClientConfig) error { return nil }
func (l *loopbackTransport) Close() error                      { return nil }

func (l *loopbackTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	l.shards = append(l.shards, shardId)

	var msg common.Message
	if err := l.ser.Deserialize(req, &msg); err != nil {
		return nil, err
	}
	return l.ser.Serialize(*l.adapter.Handle(int(shardId), &msg, l.store))
}

func newTestClient(t *testing.T) (store.IStore, *loopbackTransport) {
	t.Helper()

	cfg := idb.DefaultConfig()
	cfg.Enabled = true
	cfg.Databases = 2
	cfg.MaxPageCount = 10

	local, err := lstore.NewLocalStore(
		func(int) db.Keyspace { return maple.NewMapleKeyspace(nil) },
		lstore.Options{Tier: cfg, Disk: memstore.New()},
	)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })

	ser := serializer.NewJSONSerializer()
	lt := &loopbackTransport{store: local, adapter: server.NewIStoreServerAdapter(), ser: ser}

	s, err := NewRPCStore(common.ClientConfig{Endpoints: []string{"loopback"}}, lt, ser)
	if err != nil {
		t.Fatalf("NewRPCStore failed: %v", err)
	}
	return s, lt
}

func TestKeyCommandsRouteByDatabase(t *testing.T) {
	s, lt := newTestClient(t)

	if err := s.Set(1, "k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := s.Get(1, "k")
	if err != nil || !ok || string(value) != "v" {
		t.Errorf("Get = %q, %v, %v", value, ok, err)
	}
	if ok, _ := s.Has(0, "k"); ok {
		t.Error("Key of database 1 found in database 0")
	}
	if !reflect.DeepEqual(lt.shards, []uint64{1, 1, 0}) {
		t.Errorf("Unexpected shards %v", lt.shards)
	}

	if _, _, err := s.Get(-1, "k"); err == nil {
		t.Error("Expected error for negative database index")
	}
}

func TestErrorCodesSurvive(t *testing.T) {
	s, _ := newTestClient(t)

	if _, err := s.HSet(0, "h", "f", []byte("x")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	var storeErr *store.Error
	_, _, err := s.Get(0, "h")
	if !errors.As(err, &storeErr) || storeErr.Code != store.RetCWrongType {
		t.Errorf("Expected wrong type error, got %v", err)
	}

	_, err = s.RPush(5, "l", []byte("a"))
	if !errors.As(err, &storeErr) || storeErr.Code != store.RetCInvalidArgument {
		t.Errorf("Expected invalid argument error, got %v", err)
	}
}

func TestTierCommands(t *testing.T) {
	s, lt := newTestClient(t)

	_ = s.Set(1, "users/1", []byte("a"))
	_ = s.Set(1, "users/2", []byte("b"))
	lt.shards = nil

	n, err := s.FlushAll()
	if err != nil || n != 2 {
		t.Fatalf("FlushAll = %d, %v", n, err)
	}

	names, err := s.Subkeys(1, "users", "", 0, 0)
	if err != nil || !reflect.DeepEqual(names, []string{"1", "2"}) {
		t.Errorf("Subkeys = %v, %v", names, err)
	}

	info, err := s.Info()
	if err != nil || !info.Tier.Enabled || len(info.Databases) != 2 {
		t.Errorf("Info = %+v, %v", info, err)
	}

	var storeErr *store.Error
	if err := s.CancelFlush(); !errors.As(err, &storeErr) || storeErr.Code != store.RetCInvalidOperation {
		t.Errorf("Expected invalid operation error without a running flush, got %v", err)
	}

	if err := s.Save(); !errors.As(err, &storeErr) || storeErr.Code != store.RetCUnsupportedOperation {
		t.Errorf("Expected unsupported operation error, got %v", err)
	}

	if !reflect.DeepEqual(lt.shards, []uint64{0, 1, 0, 0, 0}) {
		t.Errorf("Unexpected shards %v", lt.shards)
	}
}
