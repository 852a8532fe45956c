package rdb

import (
	"strings"
)

// FieldKind 字段值的归类，决定读出记录时的类型转换
type FieldKind int

const (
	KindOther FieldKind = iota
	KindInteger
	KindDecimal
	KindString
	KindDatetime
	KindBool
)

// 抽象类型，由方言映射成具体的列类型
const (
	TypeID       = "id"
	TypeString   = "string"
	TypeText     = "text"
	TypeMoney    = "money"
	TypeCreated  = "created"
	TypeModified = "modified"
	TypeDeleted  = "deleted"
)

var fieldKinds = map[string]FieldKind{
	TypeID:       KindInteger,
	TypeString:   KindString,
	TypeText:     KindString,
	TypeMoney:    KindDecimal,
	TypeCreated:  KindDatetime,
	TypeModified: KindDatetime,
	TypeDeleted:  KindDatetime,

	"tinyint":    KindInteger,
	"smallint":   KindInteger,
	"mediumint":  KindInteger,
	"int":        KindInteger,
	"integer":    KindInteger,
	"bigint":     KindInteger,
	"decimal":    KindDecimal,
	"numeric":    KindDecimal,
	"float":      KindDecimal,
	"double":     KindDecimal,
	"real":       KindDecimal,
	"bool":       KindBool,
	"boolean":    KindBool,
	"char":       KindString,
	"varchar":    KindString,
	"tinytext":   KindString,
	"mediumtext": KindString,
	"longtext":   KindString,
	"json":       KindString,
	"time":       KindString,
	"blob":       KindOther,
	"tinyblob":   KindOther,
	"mediumblob": KindOther,
	"longblob":   KindOther,
	"date":       KindDatetime,
	"datetime":   KindDatetime,
	"timestamp":  KindDatetime,
}

type FieldOptions struct {
	Name          string `cfg:"name" validate:"required"`
	Type          string `cfg:"type" validate:"required"`
	Length        int    `cfg:"length" validate:"gte=0"`
	Primary       bool   `cfg:"primary"`
	AutoIncrement bool   `cfg:"autoIncrement"`
	NotNull       bool   `cfg:"notNull"`
	Unsigned      bool   `cfg:"unsigned"`
	Default       any    `cfg:"default"`

	// Override 允许用户字段替换同名的前置/后置字段
	Override bool `cfg:"override"`
}

// Field 模型中的一列，模型构建完成后不再修改
type Field struct {
	Name          string
	Column        string
	Type          string
	Length        int
	Primary       bool
	AutoIncrement bool
	NotNull       bool
	Unsigned      bool
	Default       any

	// AliasExpr SELECT 列表中使用的列引用
	AliasExpr string

	kind FieldKind
}

func newField(model string, options *FieldOptions, columnName func(string) string) (*Field, error) {
	if options == nil || options.Name == "" {
		return nil, &ConfigurationError{Model: model, Reason: "field without name"}
	}
	typ := strings.TrimSpace(options.Type)
	kind, ok := kindOf(typ)
	if !ok {
		return nil, &ConfigurationError{Model: model, Field: options.Name, Reason: "unknown field type " + typ}
	}

	column := columnName(options.Name)
	alias := "`" + column + "`"
	if column != options.Name {
		alias += " AS " + options.Name
	}

	return &Field{
		Name:          options.Name,
		Column:        column,
		Type:          typ,
		Length:        options.Length,
		Primary:       options.Primary,
		AutoIncrement: options.AutoIncrement,
		NotNull:       options.NotNull,
		Unsigned:      options.Unsigned,
		Default:       options.Default,
		AliasExpr:     alias,
		kind:          kind,
	}, nil
}

func kindOf(typ string) (FieldKind, bool) {
	if IsEnumType(typ) {
		return KindString, true
	}
	kind, ok := fieldKinds[strings.ToLower(typ)]
	return kind, ok
}

// IsEnumType 以 enum 开头的类型声明，例如 enum('a','b')
func IsEnumType(typ string) bool {
	return strings.HasPrefix(strings.ToLower(typ), "enum")
}

func (f *Field) Kind() FieldKind {
	return f.kind
}

// Role 字段的时间戳角色，普通字段返回空串
func (f *Field) Role() string {
	switch f.Type {
	case TypeCreated, TypeModified, TypeDeleted:
		return f.Type
	}
	return ""
}

// textLike text/blob 类的列不能带默认值
func textLike(columnType string) bool {
	return strings.Contains(columnType, "text") || strings.Contains(columnType, "blob")
}
