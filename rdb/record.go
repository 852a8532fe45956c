package rdb

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Record 查询或写入后返回的一行数据，Save/Remove 作用于产生它的模型和数据库
type Record struct {
	Item Item

	model *Model
	db    *Database
}

// Decorate 把一行数据包装成 Record，已绑定的 Record 原样返回
func (db *Database) Decorate(model *Model, value any) (*Record, error) {
	var row map[string]any
	switch v := value.(type) {
	case *Record:
		if v == nil {
			return nil, errors.New("cannot decorate nil record")
		}
		if v.model != nil && v.db != nil {
			return v, nil
		}
		row = v.Item
	case Item:
		row = v
	case map[string]any:
		row = v
	case nil:
		row = map[string]any{}
	default:
		return nil, errors.Errorf("cannot decorate %T", value)
	}

	item := make(Item, len(row))
	for key, raw := range row {
		field, ok := model.fields[key]
		if !ok {
			field, ok = model.columnFields[key]
		}
		if !ok {
			item[key] = raw
			continue
		}
		converted, err := coerce(field, raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s", field.Name)
		}
		item[field.Name] = converted
	}

	if record, ok := value.(*Record); ok {
		record.Item, record.model, record.db = item, model, db
		return record, nil
	}
	return &Record{Item: item, model: model, db: db}, nil
}

func (r *Record) Model() *Model {
	return r.model
}

// ID 主键的值，模型没有主键时返回 nil
func (r *Record) ID() any {
	if r.model == nil || r.model.primary == nil {
		return nil
	}
	return r.Item[r.model.primary.Name]
}

func (r *Record) Get(name string) any {
	return r.Item[name]
}

func (r *Record) Set(name string, value any) {
	if r.Item == nil {
		r.Item = Item{}
	}
	r.Item[name] = value
}

// Save 记录带主键时更新，否则什么都不做
func (r *Record) Save(ctx context.Context) error {
	if r.db == nil || isZero(r.ID()) {
		return nil
	}
	_, err := r.db.Update(ctx, r.model, r.Item)
	return err
}

// Remove 按主键删除，记录不带主键时什么都不做
func (r *Record) Remove(ctx context.Context) error {
	if r.db == nil || isZero(r.ID()) {
		return nil
	}
	_, err := r.db.Delete(ctx, r.model, Filters{r.model.primary.Name: r.ID()})
	return err
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Item)
}
