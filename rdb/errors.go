package rdb

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrUnknownField    = errors.New("unknown field")
	ErrMissingIdentity = errors.New("record has no identity")
	ErrNotConnected    = errors.New("database is not connected")
	ErrConnectionLost  = errors.New("connection lost")
	ErrIllegalSchema   = errors.New("illegal schema")
	ErrUnknownDialect  = errors.New("unknown dialect")
)

// ConfigurationError 模型定义不合法，在构建模型时返回
type ConfigurationError struct {
	Model  string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("illegal schema for model %q: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("illegal schema for model %q, field %q: %s", e.Model, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrIllegalSchema
}

// ConnectionError 连接建立失败或连接中断。Fatal 表示重试次数已耗尽
type ConnectionError struct {
	Attempts int
	Fatal    bool
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("connection lost: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// QueryError 驱动执行失败，附带出错的 SQL
type QueryError struct {
	SQL   string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v [sql: %s]", e.Cause, e.SQL)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

func unknownField(model *Model, name string) error {
	return errors.Wrapf(ErrUnknownField, "model %q has no field %q", model.Name, name)
}
