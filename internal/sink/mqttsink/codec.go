package mqttsink

import (
	"github.com/bytedance/sonic"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/yanun0323/errors"

	"skstream/pkg/exception"
)

// Encoding selects the payload format.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

type codec interface {
	Marshal(v any) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return sonic.ConfigDefault.Marshal(v)
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func codecFor(e Encoding) (codec, error) {
	switch e {
	case EncodingJSON:
		return jsonCodec{}, nil
	case EncodingMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "unknown mqtt encoding %q", e)
	}
}
