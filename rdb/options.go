package rdb

import (
	"time"
)

// 驱动名，sql 为进程内 database/sql 连接池，worker 为独立的 sqlite 进程
const (
	DriverSQL    = "sql"
	DriverWorker = "worker"
)

type RetryOptions struct {
	MaxTries int           `cfg:"maxTries" def:"3" validate:"min=1"`
	Delay    time.Duration `cfg:"delay" def:"1s"`
	// Timeout 单次连接的超时时间
	Timeout time.Duration `cfg:"timeout" def:"10s"`
}

type WorkerOptions struct {
	Command string `cfg:"command" def:"rdbx-sqlite-worker"`
	// Engine sqlite3 为 cgo 版本，sqlite 为纯 go 版本
	Engine       string        `cfg:"engine" def:"sqlite3" validate:"oneof=sqlite3 sqlite"`
	Codec        string        `cfg:"codec" def:"json" validate:"oneof=json msgpack"`
	StartTimeout time.Duration `cfg:"startTimeout" def:"10s"`
}

type SyncLockOptions struct {
	Enable    bool          `cfg:"enable"`
	Addr      string        `cfg:"addr" def:"localhost:6379"`
	Password  string        `cfg:"password"`
	DB        int           `cfg:"db"`
	KeyPrefix string        `cfg:"keyPrefix" def:"rdbx:sync:"`
	TTL       time.Duration `cfg:"ttl" def:"1m"`
}

type MetricsOptions struct {
	Enable    bool   `cfg:"enable"`
	Namespace string `cfg:"namespace" def:"rdbx"`
}

type TracingOptions struct {
	Enable bool `cfg:"enable"`
}

type Options struct {
	Dialect DialectType `cfg:"dialect" def:"mysql" validate:"oneof=mysql sqlite"`
	// Driver 为空时 mysql 使用 sql，sqlite 使用 worker
	Driver string `cfg:"driver" validate:"omitempty,oneof=sql worker"`

	Name     string `cfg:"name"`
	Host     string `cfg:"host" def:"127.0.0.1"`
	Port     string `cfg:"port" def:"3306"`
	User     string `cfg:"user" def:"root"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8"`
	// DSN 不为空时忽略 Host/Port/User/Password
	DSN string `cfg:"dsn"`
	// Path sqlite 数据库文件
	Path     string `cfg:"path" def:":memory:"`
	MaxConns int    `cfg:"maxConns" def:"10" validate:"min=1"`
	MaxIdle  int    `cfg:"maxIdle" def:"5" validate:"min=0"`

	// MaxResults 单次查询返回的最大行数
	MaxResults int `cfg:"maxResults" def:"100000" validate:"min=1"`

	ColumnCase Case `cfg:"columnCase" def:"underscored" validate:"oneof=underscored none"`
	TableCase  Case `cfg:"tableCase" def:"underscored" validate:"oneof=underscored none"`

	Retry    RetryOptions    `cfg:"retry"`
	Worker   WorkerOptions   `cfg:"worker"`
	SyncLock SyncLockOptions `cfg:"syncLock"`
	Metrics  MetricsOptions  `cfg:"metrics"`
	Tracing  TracingOptions  `cfg:"tracing"`
}

func (o *Options) driverName() string {
	if o.Driver != "" {
		return o.Driver
	}
	if o.Dialect == DialectSQLite {
		return DriverWorker
	}
	return DriverSQL
}

func (o *Options) sqlDriverOptions() *SQLDriverOptions {
	if o.Dialect == DialectSQLite {
		dsn := o.DSN
		if dsn == "" {
			dsn = o.Path
		}
		return &SQLDriverOptions{DriverName: "sqlite", DSN: dsn, MaxConns: 1, MaxIdle: 1}
	}
	dsn := o.DSN
	if dsn == "" {
		dsn = mysqlDSN(o)
	}
	return &SQLDriverOptions{DriverName: "mysql", DSN: dsn, MaxConns: o.MaxConns, MaxIdle: o.MaxIdle}
}
