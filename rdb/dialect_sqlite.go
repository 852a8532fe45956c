package rdb

import (
	"database/sql/driver"
	"strings"

	"github.com/pkg/errors"
)

// sqlite 的整数类型统一使用 numeric 亲和性
var sqliteNumericTypes = map[string]bool{
	"tinyint":   true,
	"smallint":  true,
	"mediumint": true,
	"int":       true,
	"bigint":    true,
	"decimal":   true,
}

type SQLiteDialect struct{}

func (SQLiteDialect) Type() DialectType {
	return DialectSQLite
}

func (d SQLiteDialect) ColumnDefinition(field *Field) string {
	typ := field.Type
	autoIncrement := field.AutoIncrement
	notNull := field.Primary || field.NotNull

	switch {
	case typ == TypeID:
		typ = "integer"
		if field.Primary {
			autoIncrement = true
		}
	case typ == TypeMoney:
		typ = "numeric"
	case typ == TypeCreated || typ == TypeModified || typ == TypeDeleted:
		typ = "datetime"
	case typ == TypeString || IsEnumType(typ):
		typ = "text"
	case sqliteNumericTypes[typ]:
		typ = "numeric"
	}

	var buf strings.Builder
	buf.WriteString("`" + field.Column + "` " + typ)
	if notNull && !autoIncrement {
		buf.WriteString(" NOT NULL")
	}
	if field.Default != nil {
		buf.WriteString(" DEFAULT " + d.Quote(field.Default))
	} else if !notNull && !textLike(typ) {
		buf.WriteString(" DEFAULT NULL")
	}
	return buf.String()
}

// Quote sqlite 不支持反斜杠转义，单引号需要双写
func (SQLiteDialect) Quote(value any) string {
	return quoteWith(value, "''")
}

func (SQLiteDialect) Now() string {
	return "datetime('now')"
}

func (SQLiteDialect) ValuesInsert() bool {
	return true
}

func (SQLiteDialect) CreateTableSuffix(string) string {
	return ""
}

func (SQLiteDialect) KeyClauses(*Model) []string {
	return nil
}

func (SQLiteDialect) IndexStatements(model *Model) []string {
	var statements []string
	for _, index := range model.Indexes {
		columns := indexColumns(model, index)
		statements = append(statements, "CREATE INDEX IF NOT EXISTS `"+model.Table+"_"+indexName(columns)+
			"` ON `"+model.Table+"` (`"+strings.Join(columns, "`,`")+"`)")
	}
	return statements
}

func (SQLiteDialect) LiveDDLQuery(table string) string {
	return "SELECT sql FROM sqlite_master WHERE type='table' AND name=" + SQLiteDialect{}.Quote(table)
}

func (SQLiteDialect) LiveDDL(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	return toString(rows[0]["sql"])
}

func (SQLiteDialect) NormalizeDDL(ddl string) string {
	return normalizeNumericDefaults(ddl)
}

// IsMissingTable sqlite_master 查询不会因表不存在而报错，只有直接访问表时才会
func (SQLiteDialect) IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (SQLiteDialect) IsConnectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, ErrConnectionLost)
}
