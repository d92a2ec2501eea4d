package serializer

import "github.com/ValentinKolb/idkv/rpc/common"

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Name returns the name of the encoding (binary, json, gob)
	Name() string
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize replaces msg with the Message decoded from b
	Deserialize(b []byte, msg *common.Message) error
}
