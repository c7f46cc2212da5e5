package codec

import (
	"bytes"
	"encoding/json"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

type jsonCodec struct{}

func (jsonCodec) Name() string        { return NameJSON }
func (jsonCodec) ContentType() string { return broker.ContentTypeJSON }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) IsNull(data []byte) bool {
	if isBlank(data) {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
