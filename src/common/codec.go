package common

import (
	"io"
	"reflect"

	"github.com/ugorji/go/codec"
)

// MsgpackHandle is shared by the storage records and the network framing.
var MsgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

// EncodeMsgpack encodes v into a new byte slice.
func EncodeMsgpack(v interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, MsgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeMsgpack decodes data into v.
func DecodeMsgpack(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, MsgpackHandle)
	return dec.Decode(v)
}

// NewMsgpackEncoder returns a streaming encoder writing to w.
func NewMsgpackEncoder(w io.Writer) *codec.Encoder {
	return codec.NewEncoder(w, MsgpackHandle)
}

// NewMsgpackDecoder returns a streaming decoder reading from r.
func NewMsgpackDecoder(r io.Reader) *codec.Decoder {
	return codec.NewDecoder(r, MsgpackHandle)
}
