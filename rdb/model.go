package rdb

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// Item 一条记录的原始数据，键为字段名
type Item map[string]any

// Filters 查询条件，键为字段名，值为标量或 []any{操作符, 参数...}
type Filters map[string]any

type ModelOptions struct {
	Name  string `cfg:"name" validate:"required"`
	Table string `cfg:"table"`

	// BeforeFields 为 nil 时使用数据库的默认前置字段（自增主键 id）
	BeforeFields []*FieldOptions `cfg:"beforeFields"`
	Fields       []*FieldOptions `cfg:"fields" validate:"dive"`
	// AfterFields 为 nil 时使用数据库的默认后置字段（created, modified）
	AfterFields []*FieldOptions `cfg:"afterFields"`

	Indexes         [][]string `cfg:"indexes"`
	FullTextIndexes [][]string `cfg:"fullTextIndexes"`

	DisableSync bool `cfg:"disableSync"`
	// ForceSync 表结构不一致时删表重建，表中数据会全部丢失
	ForceSync bool `cfg:"forceSync"`
}

func DefaultBeforeFields() []*FieldOptions {
	return []*FieldOptions{
		{Name: "id", Type: TypeID, Primary: true, AutoIncrement: true},
	}
}

func DefaultAfterFields() []*FieldOptions {
	return []*FieldOptions{
		{Name: "created", Type: TypeCreated},
		{Name: "modified", Type: TypeModified},
	}
}

// Model 一张表的字段定义，构建完成后不再修改
type Model struct {
	Name            string
	Table           string
	Indexes         [][]string
	FullTextIndexes [][]string
	ForceSync       bool
	DisableSync     bool

	fieldList     []*Field
	fields        map[string]*Field
	columnFields  map[string]*Field
	primary       *Field
	createdField  *Field
	modifiedField *Field
	deletedField  *Field

	db *Database
}

// NewModel 按 前置字段、用户字段、后置字段 的顺序构建模型
func NewModel(options *ModelOptions, columnCase Case, tableCase Case) (*Model, error) {
	if options == nil || options.Name == "" {
		return nil, &ConfigurationError{Reason: "model without name"}
	}

	before := options.BeforeFields
	if before == nil {
		before = DefaultBeforeFields()
	}
	after := options.AfterFields
	if after == nil {
		after = DefaultAfterFields()
	}

	ordered, err := mergeFieldGroups(options.Name, before, options.Fields, after)
	if err != nil {
		return nil, err
	}

	model := &Model{
		Name:            options.Name,
		Table:           options.Table,
		Indexes:         options.Indexes,
		FullTextIndexes: options.FullTextIndexes,
		ForceSync:       options.ForceSync,
		DisableSync:     options.DisableSync,
		fields:          map[string]*Field{},
		columnFields:    map[string]*Field{},
	}
	if model.Table == "" {
		model.Table = tableCase.TableName(options.Name)
	}

	for _, fieldOptions := range ordered {
		field, err := newField(options.Name, fieldOptions, columnCase.ColumnName)
		if err != nil {
			return nil, err
		}
		if _, ok := model.columnFields[field.Column]; ok {
			return nil, &ConfigurationError{Model: options.Name, Field: field.Name, Reason: "duplicate column " + field.Column}
		}
		if err := model.assignRole(field); err != nil {
			return nil, err
		}
		if field.Primary && model.primary == nil {
			model.primary = field
		}
		model.fieldList = append(model.fieldList, field)
		model.fields[field.Name] = field
		model.columnFields[field.Column] = field
	}

	for _, index := range append(append([][]string{}, options.Indexes...), options.FullTextIndexes...) {
		for _, name := range index {
			if _, ok := model.fields[name]; !ok {
				return nil, &ConfigurationError{Model: options.Name, Field: name, Reason: "index on unknown field"}
			}
		}
	}

	return model, nil
}

// mergeFieldGroups 用户字段与前置/后置字段同名时，只有声明了 Override 才能替换原位置的定义
func mergeFieldGroups(model string, before, fields, after []*FieldOptions) ([]*FieldOptions, error) {
	reserved := map[string]bool{}
	for _, f := range before {
		reserved[f.Name] = true
	}
	for _, f := range after {
		reserved[f.Name] = true
	}

	overrides := map[string]*FieldOptions{}
	seen := map[string]bool{}
	var user []*FieldOptions
	for _, f := range fields {
		if f == nil || f.Name == "" {
			return nil, &ConfigurationError{Model: model, Reason: "field without name"}
		}
		if seen[f.Name] {
			return nil, &ConfigurationError{Model: model, Field: f.Name, Reason: "duplicate field name"}
		}
		seen[f.Name] = true
		if reserved[f.Name] {
			if !f.Override {
				return nil, &ConfigurationError{Model: model, Field: f.Name, Reason: "field conflicts with a standard field, set override to replace it"}
			}
			overrides[f.Name] = f
			continue
		}
		user = append(user, f)
	}

	var ordered []*FieldOptions
	appendGroup := func(group []*FieldOptions) error {
		for _, f := range group {
			if f == nil || f.Name == "" {
				return &ConfigurationError{Model: model, Reason: "field without name"}
			}
			if o, ok := overrides[f.Name]; ok {
				f = o
			}
			ordered = append(ordered, f)
		}
		return nil
	}
	if err := appendGroup(before); err != nil {
		return nil, err
	}
	ordered = append(ordered, user...)
	if err := appendGroup(after); err != nil {
		return nil, err
	}

	names := map[string]bool{}
	for _, f := range ordered {
		if names[f.Name] {
			return nil, &ConfigurationError{Model: model, Field: f.Name, Reason: "duplicate field name"}
		}
		names[f.Name] = true
	}
	return ordered, nil
}

func (m *Model) assignRole(field *Field) error {
	var slot **Field
	switch field.Role() {
	case TypeCreated:
		slot = &m.createdField
	case TypeModified:
		slot = &m.modifiedField
	case TypeDeleted:
		slot = &m.deletedField
	default:
		return nil
	}
	if *slot != nil {
		return &ConfigurationError{Model: m.Name, Field: field.Name, Reason: "more than one " + field.Role() + " field"}
	}
	*slot = field
	return nil
}

// Fields 按声明顺序返回全部字段
func (m *Model) Fields() []*Field {
	return m.fieldList
}

func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

func (m *Model) FieldByColumn(column string) (*Field, bool) {
	f, ok := m.columnFields[column]
	return f, ok
}

func (m *Model) PrimaryKey() *Field {
	return m.primary
}

func (m *Model) CreatedField() *Field {
	return m.createdField
}

func (m *Model) ModifiedField() *Field {
	return m.modifiedField
}

func (m *Model) DeletedField() *Field {
	return m.deletedField
}

func (m *Model) Database() *Database {
	return m.db
}

func (m *Model) database() (*Database, error) {
	if m.db == nil {
		return nil, errors.Wrapf(ErrNotConnected, "model %q is not bound to a database", m.Name)
	}
	return m.db, nil
}

func (m *Model) Create(ctx context.Context, item Item) (*Record, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	return db.Create(ctx, m, item)
}

// Save 带主键时更新，否则创建
func (m *Model) Save(ctx context.Context, item Item) (*Record, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	if m.primary != nil && !isZero(item[m.primary.Name]) {
		return db.Update(ctx, m, item)
	}
	return db.Create(ctx, m, item)
}

func (m *Model) Find(ctx context.Context, options *FindOptions) ([]*Record, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	return db.Find(ctx, m, options)
}

// Each 对查询结果逐条回调，回调返回错误时停止
func (m *Model) Each(ctx context.Context, options *FindOptions, fn func(*Record) error) error {
	records, err := m.Find(ctx, options)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

// Get 参数为 Filters/map 时按条件查询，否则按主键查询
func (m *Model) Get(ctx context.Context, idOrFilters any) (*Record, error) {
	var filters Filters
	switch v := idOrFilters.(type) {
	case Filters:
		filters = v
	case map[string]any:
		filters = v
	case Item:
		filters = Filters(v)
	default:
		if m.primary == nil {
			return nil, errors.Wrapf(ErrMissingIdentity, "model %q has no primary key", m.Name)
		}
		filters = Filters{m.primary.Name: v}
	}

	records, err := m.Find(ctx, &FindOptions{Filters: filters, Limit: &Limit{Count: 1}})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Wrapf(ErrRecordNotFound, "%s %v", m.Table, describeFilters(filters))
	}
	return records[0], nil
}

// Remove 按主键删除，返回删除的行数
func (m *Model) Remove(ctx context.Context, id any) (int64, error) {
	db, err := m.database()
	if err != nil {
		return 0, err
	}
	if m.primary == nil {
		return 0, errors.Wrapf(ErrMissingIdentity, "model %q has no primary key", m.Name)
	}
	if isZero(id) {
		return 0, errors.Wrapf(ErrMissingIdentity, "remove from %s", m.Table)
	}
	return db.Delete(ctx, m, Filters{m.primary.Name: id})
}

func (m *Model) Sync(ctx context.Context) (SyncOutcome, error) {
	db, err := m.database()
	if err != nil {
		return SyncFailed, err
	}
	return db.Sync(ctx, m)
}

func describeFilters(filters Filters) string {
	if len(filters) == 1 {
		for k, v := range filters {
			return k + "=" + toString(v)
		}
	}
	return strconv.Itoa(len(filters)) + " filters"
}
