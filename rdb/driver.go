package rdb

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Driver 真正执行 SQL 的组件
type Driver interface {
	// Connect 建立连接，连接池拿到第一个可用连接即视为成功；重复调用会替换旧连接
	Connect(ctx context.Context) error
	// Query 执行语句并返回结果行
	Query(ctx context.Context, sql string) ([]map[string]any, error)
	// Exec 执行不返回结果行的语句，返回影响行数
	Exec(ctx context.Context, sql string) (int64, error)
	// Insert 执行插入并返回自增 id
	Insert(ctx context.Context, sql string) (int64, error)
	Close() error
}

// DriverFactory 根据数据库配置创建驱动
type DriverFactory func(options *Options, logger log.Logger) (Driver, error)

var (
	driverFactoriesMu sync.RWMutex
	driverFactories   = map[string]DriverFactory{}
)

// RegisterDriver 注册驱动工厂，rdb/worker 在 init 中注册 worker 驱动
func RegisterDriver(name string, factory DriverFactory) {
	driverFactoriesMu.Lock()
	defer driverFactoriesMu.Unlock()
	driverFactories[name] = factory
}

func lookupDriver(name string) (DriverFactory, error) {
	driverFactoriesMu.RLock()
	defer driverFactoriesMu.RUnlock()
	factory, ok := driverFactories[name]
	if !ok {
		return nil, errors.Errorf("driver %q is not registered", name)
	}
	return factory, nil
}

func init() {
	RegisterDriver(DriverSQL, func(options *Options, logger log.Logger) (Driver, error) {
		return NewSQLDriverWithOptions(options.sqlDriverOptions())
	})
}

// ReturnsRows 判断语句是否返回结果行
func ReturnsRows(statement string) bool {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(strings.TrimLeft(fields[0], "(")) {
	case "SELECT", "SHOW", "PRAGMA", "WITH", "EXPLAIN", "DESCRIBE", "DESC", "VALUES":
		return true
	}
	return false
}

type SQLDriverOptions struct {
	// DriverName database/sql 注册的驱动名，mysql 或 sqlite
	DriverName string `cfg:"driverName" def:"mysql" validate:"oneof=mysql sqlite sqlite3"`
	DSN        string `cfg:"dsn" validate:"required"`
	MaxConns   int    `cfg:"maxConns" def:"10"`
	MaxIdle    int    `cfg:"maxIdle" def:"5"`
}

// SQLDriver 基于 database/sql 连接池的驱动
type SQLDriver struct {
	options *SQLDriverOptions

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLDriverWithOptions(options *SQLDriverOptions) (*SQLDriver, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	return &SQLDriver{options: options}, nil
}

func (d *SQLDriver) Connect(ctx context.Context) error {
	db, err := sql.Open(d.options.DriverName, d.options.DSN)
	if err != nil {
		return errors.Wrapf(err, "open %s", d.options.DriverName)
	}

	if d.options.DriverName == "mysql" {
		db.SetMaxOpenConns(d.options.MaxConns)
		db.SetMaxIdleConns(d.options.MaxIdle)
	} else {
		// sqlite 的内存库每个连接都是独立的数据库，只能使用单连接
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	d.mu.Lock()
	old := d.db
	d.db = db
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (d *SQLDriver) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrNotConnected
	}
	return d.db, nil
}

func (d *SQLDriver) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	if !ReturnsRows(statement) {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return nil, err
		}
		return []map[string]any{}, nil
	}

	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows)
}

func (d *SQLDriver) Exec(ctx context.Context, statement string) (int64, error) {
	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *SQLDriver) Insert(ctx context.Context, statement string) (int64, error) {
	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (d *SQLDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Rows database/sql 的 *sql.Rows 和 *sql.Row 之外的通用结果集接口
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanRows 把结果集读成 map 列表，[]byte 转为 string
func ScanRows(rows Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func mysqlDSN(options *Options) string {
	config := mysql.NewConfig()
	config.User = options.User
	config.Passwd = options.Password
	config.Net = "tcp"
	config.Addr = options.Host + ":" + options.Port
	config.DBName = options.Name
	config.ParseTime = true
	config.Params = map[string]string{"charset": options.Charset}
	return config.FormatDSN()
}
