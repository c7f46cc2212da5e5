// Package codec provides the wire codecs used for request and reply bodies.
package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const logPrefix = "codec:codec"

// Codec encodes and decodes message bodies.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	// IsNull reports whether data encodes an absent value (empty body or explicit null).
	IsNull(data []byte) bool
}

// Codec names accepted by ByName.
const (
	NameJSON    = "json"
	NameMsgPack = "msgpack"
)

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// MsgPack encodes bodies with MessagePack, honouring json struct tags.
var MsgPack Codec = msgpackCodec{}

// ByName returns the codec registered under name ("" selects JSON).
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		return JSON, nil
	case NameMsgPack:
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("%s - unknown codec %q (use json or msgpack)", logPrefix, name)
	}
}

// ForContentType returns the codec matching a delivery's content type, falling back to
// def when the content type is empty or unknown.
func ForContentType(contentType string, def Codec) Codec {
	switch contentType {
	case broker.ContentTypeJSON:
		return JSON
	case broker.ContentTypeMsgPack:
		return MsgPack
	default:
		return def
	}
}

func isBlank(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}
