package worker

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// maxFrameSize msgpack 单帧上限
const maxFrameSize = 64 << 20

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

// Codec 消息分帧和序列化方式，两端必须一致
type Codec interface {
	Name() string
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, errors.Errorf("unsupported codec %q", name)
	}
}

// JSONCodec 每行一条 json 消息
type JSONCodec struct{}

func (JSONCodec) Name() string {
	return CodecJSON
}

func (JSONCodec) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (JSONCodec) NewDecoder(r io.Reader) Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// MsgpackCodec 4 字节大端长度前缀加 msgpack 消息体
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string {
	return CodecMsgpack
}

func (MsgpackCodec) NewEncoder(w io.Writer) Encoder {
	return &msgpackEncoder{w: w}
}

func (MsgpackCodec) NewDecoder(r io.Reader) Decoder {
	return &msgpackDecoder{r: bufio.NewReader(r)}
}

type msgpackEncoder struct {
	w io.Writer
}

func (e *msgpackEncoder) Encode(v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "msgpack marshal")
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = e.w.Write(frame)
	return err
}

type msgpackDecoder struct {
	r *bufio.Reader
}

func (d *msgpackDecoder) Decode(v any) error {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return errors.Errorf("frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return errors.Wrap(err, "read frame")
	}

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
