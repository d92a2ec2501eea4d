package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/engines/maple"
	"github.com/ValentinKolb/idkv/lib/disk"
	"github.com/ValentinKolb/idkv/lib/disk/memstore"
	"github.com/ValentinKolb/idkv/lib/disk/pebblestore"
	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/ValentinKolb/idkv/lib/store/lstore"
	"github.com/ValentinKolb/idkv/rpc/common"
	"github.com/ValentinKolb/idkv/rpc/serializer"
	"github.com/ValentinKolb/idkv/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server.
// Every database of the store is one shard, the shard id is the database index.
type serverShard struct {
	DB      int
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer serves one LocalStore over an RPC transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]

	mu     sync.Mutex // guards the fields below against Shutdown
	disk   disk.Store
	store  *lstore.LocalStore
	closed bool
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get appropriate shard
		shard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("shard %d not found (databases: %d)", shardId, s.config.Databases),
			}
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("failed to deserialize request: %s", err),
			}
		} else {
			// Let the adapter handle the request
			respMsg = *shard.Adapter.Handle(shard.DB, &msg, s.localStore())
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			log.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})

	s.transport.RegisterMetrics(s.writeMetrics)
}

// localStore returns the served store or nil after Shutdown
func (s *RPCServer) localStore() store.IStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store
}

// writeMetrics writes the metrics of the disk tier and the process
func (s *RPCServer) writeMetrics(w io.Writer) {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()

	if st != nil {
		st.Tier().Stats().WritePrometheus(w)
	}
	metrics.WriteProcessMetrics(w)
}

// openDisk opens the disk store of the configured engine (nil if the tier is disabled)
func (s *RPCServer) openDisk() (disk.Store, error) {
	if !s.config.DiskEnabled {
		return nil, nil
	}

	switch s.config.DiskEngine {
	case common.DiskEnginePebble:
		return pebblestore.Open(pebblestore.Options{
			Dir:               s.config.DataDir,
			Sync:              s.config.DiskSync,
			BloomExpectedKeys: s.config.BloomExpectedKeys,
		})
	case common.DiskEngineMemory:
		log.Warningf("using the in-memory disk engine, persisted keys are lost on exit")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("invalid disk engine: %s", s.config.DiskEngine)
	}
}

func (s *RPCServer) init() error {

	// Init logger
	common.InitLoggers(s.config)

	log.Infof("Created RPC Server")
	log.Infof("%s", s.config.String())

	tierConfig, err := s.config.TierConfig()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server is shut down")
	}

	diskStore, err := s.openDisk()
	if err != nil {
		return err
	}

	// Function to create a new keyspace instance
	factory := func(int) db.Keyspace { return maple.NewMapleKeyspace(nil) }

	st, err := lstore.NewLocalStore(factory, lstore.Options{
		Tier:          tierConfig,
		Disk:          diskStore,
		FlushInterval: s.config.FlushInterval(),
		FlushMinDirty: s.config.FlushMinDirty,
		MaxKeys:       s.config.MaxKeys,
		SnapshotDir:   s.config.SnapshotDir,
	})
	if err != nil {
		if diskStore != nil {
			_ = diskStore.Close()
		}
		return err
	}
	s.disk = diskStore
	s.store = st

	// CREATE SHARDS (one per database)
	for i := 0; i < s.config.Databases; i++ {
		s.shards.Store(uint64(i), serverShard{
			DB:      i,
			Adapter: NewIStoreServerAdapter(),
		})
	}

	log.Infof("idkv setup completed successfully (%d databases, %s serializer)", s.config.Databases, s.serializer.Name())

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the store plus the shards and start the transport layer.
// It blocks until the server is shut down.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Shutdown stops the transport, waits for a running background flush, writes
// the remaining dirty keys to disk and closes the disk store.
func (s *RPCServer) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.transport.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.store = nil
	}
	if s.disk != nil {
		if err := s.disk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close disk store: %w", err))
		}
		s.disk = nil
	}

	log.Infof("server stopped")
	return errors.Join(errs...)
}
