package rpc

import (
	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
)

// Decoder turns a reply body into the call's result type. Returning an error wrapping
// ErrNullReply marks the reply as semantically absent; any other error is a decode failure.
type Decoder[T any] interface {
	Decode(body []byte) (T, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[T any] func(body []byte) (T, error)

// Decode calls f.
func (f DecoderFunc[T]) Decode(body []byte) (T, error) { return f(body) }

// Presence says whether a reply may be null.
type Presence int

const (
	// Required turns a null or empty reply into ErrNullReply.
	Required Presence = iota
	// Optional decodes a null or empty reply to the zero value of T.
	Optional
)

// CodecDecoder decodes replies with c.
func CodecDecoder[T any](c codec.Codec, presence Presence) Decoder[T] {
	return DecoderFunc[T](func(body []byte) (T, error) {
		var v T
		if c.IsNull(body) {
			if presence == Optional {
				return v, nil
			}
			return v, ErrNullReply
		}
		if err := c.Unmarshal(body, &v); err != nil {
			return v, err
		}
		return v, nil
	})
}

// TextDecoder returns the reply body as a string, unmodified.
func TextDecoder() Decoder[string] {
	return DecoderFunc[string](func(body []byte) (string, error) {
		return string(body), nil
	})
}

// Encoder turns a request into a body and its content type.
type Encoder[T any] interface {
	Encode(req T) (body []byte, contentType string, err error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc[T any] func(req T) ([]byte, string, error)

// Encode calls f.
func (f EncoderFunc[T]) Encode(req T) ([]byte, string, error) { return f(req) }

// CodecEncoder encodes requests with c.
func CodecEncoder[T any](c codec.Codec) Encoder[T] {
	return EncoderFunc[T](func(req T) ([]byte, string, error) {
		body, err := c.Marshal(req)
		if err != nil {
			return nil, "", err
		}
		return body, c.ContentType(), nil
	})
}

// TextEncoder sends the request string as a plain-text body.
func TextEncoder() Encoder[string] {
	return EncoderFunc[string](func(req string) ([]byte, string, error) {
		return []byte(req), broker.ContentTypeText, nil
	})
}

// EmptyEncoder sends an empty body whatever the request value. The content type is
// still c's, so the responder replies in the codec the caller decodes with.
func EmptyEncoder[T any](c codec.Codec) Encoder[T] {
	return EncoderFunc[T](func(T) ([]byte, string, error) {
		return []byte{}, c.ContentType(), nil
	})
}
