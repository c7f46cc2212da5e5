package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

// msgpackNil is the MessagePack encoding of nil.
const msgpackNil = 0xc0

type msgpackCodec struct{}

func (msgpackCodec) Name() string        { return NameMsgPack }
func (msgpackCodec) ContentType() string { return broker.ContentTypeMsgPack }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (msgpackCodec) IsNull(data []byte) bool {
	return len(data) == 0 || (len(data) == 1 && data[0] == msgpackNil)
}
