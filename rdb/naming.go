package rdb

import (
	"gorm.io/gorm/schema"
)

// Case 列名和表名的大小写转换方式
type Case string

const (
	CaseUnderscored Case = "underscored"
	CaseNone        Case = "none"
)

var namingStrategy = schema.NamingStrategy{SingularTable: true}

// ColumnName 字段名到列名，createdAt => created_at
func (c Case) ColumnName(name string) string {
	if c == CaseUnderscored {
		return namingStrategy.ColumnName("", name)
	}
	return name
}

// TableName 模型名到表名，UserAccount => user_account
func (c Case) TableName(name string) string {
	if c == CaseUnderscored {
		return namingStrategy.TableName(name)
	}
	return name
}
