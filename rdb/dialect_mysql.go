package rdb

import (
	"database/sql/driver"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const mysqlErrNoSuchTable = 1146

type MySQLDialect struct{}

func (MySQLDialect) Type() DialectType {
	return DialectMySQL
}

func (d MySQLDialect) ColumnDefinition(field *Field) string {
	typ := field.Type
	length := field.Length
	unsigned := field.Unsigned
	autoIncrement := field.AutoIncrement
	notNull := field.Primary || field.NotNull

	switch typ {
	case TypeID:
		typ = "int"
		if length == 0 {
			length = 11
		}
		unsigned = true
		if field.Primary {
			autoIncrement = true
		}
	case TypeCreated, TypeModified, TypeDeleted:
		typ = "datetime"
	case TypeString:
		typ = "varchar"
		if length == 0 {
			length = 255
		}
	case TypeMoney:
		typ = "decimal(10,2)"
		length = 0
	}
	if IsEnumType(typ) {
		length = 0
	}

	var buf strings.Builder
	buf.WriteString("`" + field.Column + "` " + typ)
	if length > 0 {
		buf.WriteString("(" + strconv.Itoa(length) + ")")
	}
	if unsigned {
		buf.WriteString(" unsigned")
	}
	if notNull {
		buf.WriteString(" NOT NULL")
	}
	if field.Default != nil {
		buf.WriteString(" DEFAULT " + d.Quote(field.Default))
	} else if !notNull && !textLike(typ) {
		buf.WriteString(" DEFAULT NULL")
	}
	if autoIncrement {
		buf.WriteString(" AUTO_INCREMENT")
	}
	return buf.String()
}

func (MySQLDialect) Quote(value any) string {
	return quoteWith(value, `\'`)
}

func (MySQLDialect) Now() string {
	return "NOW()"
}

func (MySQLDialect) ValuesInsert() bool {
	return false
}

func (MySQLDialect) CreateTableSuffix(charset string) string {
	if charset == "" {
		charset = "utf8"
	}
	return " ENGINE=InnoDB DEFAULT CHARSET=" + charset
}

func (MySQLDialect) KeyClauses(model *Model) []string {
	var clauses []string
	for _, index := range model.Indexes {
		columns := indexColumns(model, index)
		clauses = append(clauses, "KEY `"+indexName(columns)+"` (`"+strings.Join(columns, "`,`")+"`)")
	}
	for _, index := range model.FullTextIndexes {
		columns := indexColumns(model, index)
		clauses = append(clauses, "FULLTEXT KEY `"+indexName(columns)+"` (`"+strings.Join(columns, "`,`")+"`)")
	}
	return clauses
}

func (MySQLDialect) IndexStatements(*Model) []string {
	return nil
}

func (MySQLDialect) LiveDDLQuery(table string) string {
	return "SHOW CREATE TABLE `" + table + "`"
}

func (MySQLDialect) LiveDDL(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	return toString(rows[0]["Create Table"])
}

func (MySQLDialect) NormalizeDDL(ddl string) string {
	ddl = reAutoIncrementCounter.ReplaceAllString(ddl, "")
	ddl = reTableCollate.ReplaceAllString(ddl, "")
	// MySQL 8 不再输出整数显示宽度，utf8 输出为 utf8mb3
	ddl = reIntDisplayWidth.ReplaceAllString(ddl, "$1")
	ddl = reUTF8MB3.ReplaceAllString(ddl, "utf8")
	return normalizeNumericDefaults(ddl)
}

func (MySQLDialect) IsMissingTable(err error) bool {
	var e *mysql.MySQLError
	return errors.As(err, &e) && e.Number == mysqlErrNoSuchTable
}

func (MySQLDialect) IsConnectionLost(err error) bool {
	return errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, ErrConnectionLost)
}
