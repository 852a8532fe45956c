package worker

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ReadyID worker 启动完成后发送的消息 id，请求 id 从 1 开始
const ReadyID int64 = 0

// Request 编码为 [id, sql] 或 [id, [sql, sql]]，多条语句按顺序在同一连接上执行
type Request struct {
	ID         int64
	Statements []string
}

// ErrorPayload 执行失败时返回，附带出错的语句
// Error 只包含错误信息，语句由外层的 rdb.QueryError 输出
type ErrorPayload struct {
	Message string `json:"message" msgpack:"message"`
	SQL     string `json:"sql" msgpack:"sql"`
}

func (e *ErrorPayload) Error() string {
	return e.Message
}

// Result 成功时 Rows 为最后一条语句的结果行，失败时只有 Error
type Result struct {
	Rows         []map[string]any `json:"rows,omitempty" msgpack:"rows,omitempty"`
	Changes      int64            `json:"changes,omitempty" msgpack:"changes,omitempty"`
	LastInsertID int64            `json:"lastInsertId,omitempty" msgpack:"lastInsertId,omitempty"`
	Ready        bool             `json:"ready,omitempty" msgpack:"ready,omitempty"`
	Error        *ErrorPayload    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Response 编码为 [id, result]
type Response struct {
	ID     int64
	Result Result
}

func (r *Request) payload() any {
	if len(r.Statements) == 1 {
		return r.Statements[0]
	}
	return r.Statements
}

func (r *Request) setPayload(payload any) error {
	switch v := payload.(type) {
	case string:
		r.Statements = []string{v}
	case []any:
		r.Statements = make([]string, 0, len(v))
		for i, s := range v {
			statement, ok := s.(string)
			if !ok {
				return errors.Errorf("statement %d of request %d is %T, not a string", i, r.ID, s)
			}
			r.Statements = append(r.Statements, statement)
		}
	default:
		return errors.Errorf("request %d has payload %T, want string or list", r.ID, payload)
	}
	if len(r.Statements) == 0 {
		return errors.Errorf("request %d has no statements", r.ID)
	}
	return nil
}

func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ID, r.payload()})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var message []json.RawMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return errors.Wrap(err, "decode request")
	}
	if len(message) != 2 {
		return errors.Errorf("request has %d elements, want 2", len(message))
	}
	if err := json.Unmarshal(message[0], &r.ID); err != nil {
		return errors.Wrap(err, "decode request id")
	}
	var payload any
	if err := json.Unmarshal(message[1], &payload); err != nil {
		return errors.Wrap(err, "decode request payload")
	}
	return r.setPayload(payload)
}

func (r *Request) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(r.ID); err != nil {
		return err
	}
	return enc.Encode(r.payload())
}

func (r *Request) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return errors.Wrap(err, "decode request")
	}
	if n != 2 {
		return errors.Errorf("request has %d elements, want 2", n)
	}
	if r.ID, err = dec.DecodeInt64(); err != nil {
		return errors.Wrap(err, "decode request id")
	}
	payload, err := dec.DecodeInterface()
	if err != nil {
		return errors.Wrap(err, "decode request payload")
	}
	return r.setPayload(payload)
}

func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ID, &r.Result})
}

// UnmarshalJSON 结果中的数字保留为 json.Number
func (r *Response) UnmarshalJSON(data []byte) error {
	var message []json.RawMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if len(message) != 2 {
		return errors.Errorf("response has %d elements, want 2", len(message))
	}
	if err := json.Unmarshal(message[0], &r.ID); err != nil {
		return errors.Wrap(err, "decode response id")
	}
	dec := json.NewDecoder(bytes.NewReader(message[1]))
	dec.UseNumber()
	if err := dec.Decode(&r.Result); err != nil {
		return errors.Wrapf(err, "decode result of response %d", r.ID)
	}
	return nil
}

func (r *Response) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(r.ID); err != nil {
		return err
	}
	return enc.Encode(&r.Result)
}

func (r *Response) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return errors.Wrap(err, "decode response")
	}
	if n != 2 {
		return errors.Errorf("response has %d elements, want 2", n)
	}
	if r.ID, err = dec.DecodeInt64(); err != nil {
		return errors.Wrap(err, "decode response id")
	}
	if err := dec.Decode(&r.Result); err != nil {
		return errors.Wrapf(err, "decode result of response %d", r.ID)
	}
	return nil
}
