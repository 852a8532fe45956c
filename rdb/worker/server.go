package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strconv"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/pkg/errors"
)

// Serve worker 主循环：发送就绪消息，然后逐条读取请求并在同一个连接上依次执行，r 结束时返回 nil
func Serve(ctx context.Context, r io.Reader, w io.Writer, db *sql.DB, codec Codec, logger log.Logger) error {
	if codec == nil {
		codec = JSONCodec{}
	}
	logger = log.OrDefault(logger).With("component", "worker")

	conn, err := db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire connection")
	}
	defer conn.Close()

	enc := codec.NewEncoder(w)
	dec := codec.NewDecoder(r)
	if err := enc.Encode(&Response{ID: ReadyID, Result: Result{Ready: true}}); err != nil {
		return errors.Wrap(err, "send ready message")
	}

	for {
		var request Request
		if err := dec.Decode(&request); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "decode request")
		}

		result := execute(ctx, conn, request.Statements)
		if result.Error != nil {
			logger.WarnContext(ctx, "statement failed", "id", request.ID, "sql", result.Error.SQL, "error", result.Error.Message)
		}
		if err := enc.Encode(&Response{ID: request.ID, Result: result}); err != nil {
			return errors.Wrapf(err, "send response %d", request.ID)
		}
	}
}

func execute(ctx context.Context, conn *sql.Conn, statements []string) Result {
	var result Result
	for _, statement := range statements {
		result = Result{}
		if rdb.ReturnsRows(statement) {
			rows, err := conn.QueryContext(ctx, statement)
			if err != nil {
				return Result{Error: &ErrorPayload{Message: err.Error(), SQL: statement}}
			}
			result.Rows, err = rdb.ScanRows(rows)
			rows.Close()
			if err != nil {
				return Result{Error: &ErrorPayload{Message: err.Error(), SQL: statement}}
			}
			continue
		}

		res, err := conn.ExecContext(ctx, statement)
		if err != nil {
			return Result{Error: &ErrorPayload{Message: err.Error(), SQL: statement}}
		}
		result.Changes, _ = res.RowsAffected()
		result.LastInsertID, _ = res.LastInsertId()
	}
	return result
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, errors.Errorf("unexpected id type %T", value)
	}
}
