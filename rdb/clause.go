package rdb

import (
	"strings"

	"github.com/pkg/errors"
)

type SetMode string

const (
	ModeCreate SetMode = "create"
	ModeSave   SetMode = "save"
)

var comparisonOperators = map[string]bool{
	"=":        true,
	"!=":       true,
	"<":        true,
	">":        true,
	"<=":       true,
	">=":       true,
	"LIKE":     true,
	"NOT LIKE": true,
}

func Op(operator string, value any) []any {
	return []any{operator, value}
}

func Between(from, to any) []any {
	return []any{"BETWEEN", from, to}
}

// In 参数原样拼接不做转义，只能传入可信的值
func In(values ...any) []any {
	return []any{"IN", values}
}

func IsNull() []any {
	return []any{"IS NULL"}
}

func IsNotNull() []any {
	return []any{"IS NOT NULL"}
}

// ClauseBuilder 根据模型生成 SET/VALUES/WHERE 子句
type ClauseBuilder struct {
	dialect Dialect
}

func NewClauseBuilder(dialect Dialect) *ClauseBuilder {
	return &ClauseBuilder{dialect: dialect}
}

func (b *ClauseBuilder) Quote(value any) string {
	return b.dialect.Quote(value)
}

// assignments 按字段声明顺序输出 item 中的已知字段，未知字段忽略
func (b *ClauseBuilder) assignments(model *Model, item Item, mode SetMode, exclude string) ([]string, []string) {
	var columns, values []string
	for _, field := range model.fieldList {
		if field.Name == exclude || b.managed(model, field, mode) {
			continue
		}
		value, ok := item[field.Name]
		if !ok {
			continue
		}
		columns = append(columns, "`"+field.Column+"`")
		values = append(values, b.Quote(value))
	}
	if mode == ModeCreate && model.createdField != nil {
		columns = append(columns, "`"+model.createdField.Column+"`")
		values = append(values, b.dialect.Now())
	}
	if model.modifiedField != nil {
		columns = append(columns, "`"+model.modifiedField.Column+"`")
		values = append(values, b.dialect.Now())
	}
	return columns, values
}

// managed 由数据库填充当前时间的字段
func (b *ClauseBuilder) managed(model *Model, field *Field, mode SetMode) bool {
	if field == model.modifiedField {
		return true
	}
	return mode == ModeCreate && field == model.createdField
}

// SetClause 生成 SET `a`='x',`b`=NULL，没有可写字段时返回空串
func (b *ClauseBuilder) SetClause(model *Model, item Item, mode SetMode, exclude string) string {
	columns, values := b.assignments(model, item, mode, exclude)
	if len(columns) == 0 {
		return ""
	}
	sets := make([]string, len(columns))
	for i := range columns {
		sets[i] = columns[i] + "=" + values[i]
	}
	return "SET " + strings.Join(sets, ",")
}

// InsertClause 生成 (`a`,`b`) VALUES ('x','y')
func (b *ClauseBuilder) InsertClause(model *Model, item Item) string {
	columns, values := b.assignments(model, item, ModeCreate, "")
	if len(columns) == 0 {
		return "DEFAULT VALUES"
	}
	return "(" + strings.Join(columns, ",") + ") VALUES (" + strings.Join(values, ",") + ")"
}

// InsertStatement 按方言选择 SET 或 VALUES 形式
func (b *ClauseBuilder) InsertStatement(model *Model, item Item) string {
	if b.dialect.ValuesInsert() {
		return "INSERT INTO `" + model.Table + "` " + b.InsertClause(model, item)
	}
	set := b.SetClause(model, item, ModeCreate, "")
	if set == "" {
		return "INSERT INTO `" + model.Table + "` () VALUES ()"
	}
	return "INSERT INTO `" + model.Table + "` " + set
}

// WhereClause 生成 WHERE 子句，条件按字段声明顺序以 AND 连接，raw 原样追加；没有条件时为 WHERE 1
func (b *ClauseBuilder) WhereClause(model *Model, filters Filters, raw string) (string, error) {
	for name := range filters {
		if _, ok := model.fields[name]; !ok {
			return "", unknownField(model, name)
		}
	}

	var conditions []string
	for _, field := range model.fieldList {
		value, ok := filters[field.Name]
		if !ok {
			continue
		}
		condition, err := b.condition(field, value)
		if err != nil {
			return "", err
		}
		conditions = append(conditions, condition)
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		conditions = append(conditions, raw)
	}
	if len(conditions) == 0 {
		return "WHERE 1", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), nil
}

func (b *ClauseBuilder) condition(field *Field, value any) (string, error) {
	column := "`" + field.Column + "`"

	args, ok := value.([]any)
	if !ok {
		if value == nil {
			return column + " IS NULL", nil
		}
		return column + " = " + b.Quote(value), nil
	}
	if len(args) == 0 {
		return "", errors.Errorf("empty condition on field %q", field.Name)
	}

	operator := strings.ToUpper(strings.TrimSpace(toString(args[0])))
	switch {
	case comparisonOperators[operator]:
		if len(args) != 2 {
			return "", errors.Errorf("operator %s on field %q takes one value", operator, field.Name)
		}
		return column + " " + operator + " " + b.Quote(args[1]), nil
	case operator == "IS NULL" || operator == "IS NOT NULL":
		return column + " " + operator, nil
	case operator == "BETWEEN":
		if len(args) != 3 {
			return "", errors.Errorf("BETWEEN on field %q takes two values", field.Name)
		}
		return column + " BETWEEN " + b.Quote(args[1]) + " AND " + b.Quote(args[2]), nil
	case operator == "IN":
		if len(args) != 2 {
			return "", errors.Errorf("IN on field %q takes a value list", field.Name)
		}
		return column + " IN (" + inList(args[1]) + ")", nil
	default:
		return "", errors.Errorf("unsupported operator %q on field %q", operator, field.Name)
	}
}

func inList(value any) string {
	switch v := value.(type) {
	case []any:
		parts := make([]string, len(v))
		for i := range v {
			parts[i] = literal(v[i])
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	case []int64:
		parts := make([]string, len(v))
		for i := range v {
			parts[i] = literal(v[i])
		}
		return strings.Join(parts, ",")
	case []int:
		parts := make([]string, len(v))
		for i := range v {
			parts[i] = literal(v[i])
		}
		return strings.Join(parts, ",")
	default:
		return literal(v)
	}
}
