package rdb

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type DialectType string

const (
	DialectMySQL  DialectType = "mysql"
	DialectSQLite DialectType = "sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// Dialect 封装一种数据库的类型映射、字面量转义和建表约定
type Dialect interface {
	Type() DialectType

	// ColumnDefinition 建表语句中的一列
	ColumnDefinition(field *Field) string
	// Quote 把值转成 SQL 字面量
	Quote(value any) string
	// Now 当前时间表达式
	Now() string
	// ValuesInsert 为 true 时使用 (cols) VALUES (...) 形式插入，否则使用 SET
	ValuesInsert() bool

	// CreateTableSuffix 建表语句右括号之后的部分
	CreateTableSuffix(charset string) string
	// KeyClauses 写在建表语句内部的索引子句
	KeyClauses(model *Model) []string
	// IndexStatements 建表之后单独执行的索引语句
	IndexStatements(model *Model) []string
	// LiveDDLQuery 查询现有表定义的语句
	LiveDDLQuery(table string) string
	// LiveDDL 从查询结果中取出建表语句，表不存在时返回空串
	LiveDDL(rows []map[string]any) string
	NormalizeDDL(ddl string) string

	IsMissingTable(err error) bool
	IsConnectionLost(err error) bool
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[DialectType]Dialect{}
)

func RegisterDialect(typ DialectType, dialect Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[typ] = dialect
}

func LookupDialect(typ DialectType) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	dialect, ok := dialects[typ]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDialect, "dialect %q", typ)
	}
	return dialect, nil
}

func init() {
	RegisterDialect(DialectMySQL, MySQLDialect{})
	RegisterDialect(DialectSQLite, SQLiteDialect{})
}

// literal 值转字符串，不含引号
func literal(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(timeLayout)
	case *time.Time:
		return v.Format(timeLayout)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case interface{ String() string }:
		return v.String()
	default:
		return toString(v)
	}
}

func quoteWith(value any, escape string) string {
	if value == nil {
		return "NULL"
	}
	if t, ok := value.(*time.Time); ok && t == nil {
		return "NULL"
	}
	return "'" + strings.ReplaceAll(literal(value), "'", escape) + "'"
}

func indexName(columns []string) string {
	return strings.Join(columns, "_")
}

func indexColumns(model *Model, names []string) []string {
	columns := make([]string, 0, len(names))
	for _, name := range names {
		if field, ok := model.fields[name]; ok {
			columns = append(columns, field.Column)
		} else {
			columns = append(columns, name)
		}
	}
	return columns
}

var (
	reAutoIncrementCounter = regexp.MustCompile(` AUTO_INCREMENT=[0-9]+`)
	reTableCollate         = regexp.MustCompile(` COLLATE=\S+`)
	reIntDisplayWidth      = regexp.MustCompile(`\b(tinyint|smallint|mediumint|bigint|int)\([0-9]+\)`)
	reUTF8MB3              = regexp.MustCompile(`\butf8mb3`)
	reNumericDefault       = regexp.MustCompile(`DEFAULT '(-?[0-9]+(?:\.[0-9]+)?)'`)
)

// normalizeNumericDefaults '10.0' 和 '10' 视为相同
func normalizeNumericDefaults(ddl string) string {
	return reNumericDefault.ReplaceAllStringFunc(ddl, func(match string) string {
		number := reNumericDefault.FindStringSubmatch(match)[1]
		f, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return match
		}
		return "DEFAULT '" + strconv.FormatFloat(f, 'f', -1, 64) + "'"
	})
}
