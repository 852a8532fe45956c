package rdb

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func fieldNames(model *Model) []string {
	var names []string
	for _, field := range model.Fields() {
		names = append(names, field.Name)
	}
	return names
}

func TestNewModel(t *testing.T) {
	Convey("测试模型构建", t, func() {
		Convey("默认前置和后置字段", func() {
			model, err := NewModel(&ModelOptions{
				Name:   "UserAccount",
				Fields: []*FieldOptions{{Name: "name", Type: TypeString}},
			}, CaseUnderscored, CaseUnderscored)
			So(err, ShouldBeNil)
			So(model.Table, ShouldEqual, "user_account")
			So(fieldNames(model), ShouldResemble, []string{"id", "name", "created", "modified"})
			So(model.PrimaryKey().Name, ShouldEqual, "id")
			So(model.CreatedField().Name, ShouldEqual, "created")
			So(model.ModifiedField().Name, ShouldEqual, "modified")
			So(model.DeletedField(), ShouldBeNil)

			field, ok := model.FieldByColumn("name")
			So(ok, ShouldBeTrue)
			So(field.Name, ShouldEqual, "name")
		})

		Convey("显式表名和空的后置字段", func() {
			model, err := NewModel(&ModelOptions{
				Name:        "user",
				Table:       "t_user",
				Fields:      []*FieldOptions{{Name: "name", Type: TypeString}, {Name: "removedAt", Type: TypeDeleted}},
				AfterFields: []*FieldOptions{},
			}, CaseUnderscored, CaseUnderscored)
			So(err, ShouldBeNil)
			So(model.Table, ShouldEqual, "t_user")
			So(fieldNames(model), ShouldResemble, []string{"id", "name", "removedAt"})
			So(model.CreatedField(), ShouldBeNil)
			So(model.DeletedField().Column, ShouldEqual, "removed_at")
		})

		Convey("覆盖前置字段保留原位置", func() {
			model, err := NewModel(&ModelOptions{
				Name: "user",
				Fields: []*FieldOptions{
					{Name: "name", Type: TypeString},
					{Name: "id", Type: "bigint", Primary: true, AutoIncrement: true, Override: true},
				},
			}, CaseNone, CaseNone)
			So(err, ShouldBeNil)
			So(fieldNames(model), ShouldResemble, []string{"id", "name", "created", "modified"})
			So(model.Fields()[0].Type, ShouldEqual, "bigint")
		})

		Convey("覆盖后置字段保留原位置", func() {
			model, err := NewModel(&ModelOptions{
				Name: "user",
				Fields: []*FieldOptions{
					{Name: "modified", Type: "timestamp", Override: true},
					{Name: "name", Type: TypeString},
				},
			}, CaseNone, CaseNone)
			So(err, ShouldBeNil)
			So(fieldNames(model), ShouldResemble, []string{"id", "name", "created", "modified"})
			So(model.ModifiedField(), ShouldBeNil)
		})

		Convey("未声明覆盖时同名字段报错", func() {
			_, err := NewModel(&ModelOptions{
				Name:   "user",
				Fields: []*FieldOptions{{Name: "created", Type: "datetime"}},
			}, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("重复的字段名", func() {
			_, err := NewModel(&ModelOptions{
				Name:   "user",
				Fields: []*FieldOptions{{Name: "name", Type: TypeString}, {Name: "name", Type: TypeText}},
			}, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("不同字段名映射到同一列", func() {
			_, err := NewModel(&ModelOptions{
				Name:   "user",
				Fields: []*FieldOptions{{Name: "userId", Type: TypeID}, {Name: "user_id", Type: TypeID}},
			}, CaseUnderscored, CaseUnderscored)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("多个 created 字段", func() {
			_, err := NewModel(&ModelOptions{
				Name:   "user",
				Fields: []*FieldOptions{{Name: "createdAt", Type: TypeCreated}},
			}, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("未知字段类型", func() {
			_, err := NewModel(&ModelOptions{
				Name:   "user",
				Fields: []*FieldOptions{{Name: "avatar", Type: "image"}},
			}, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("索引引用未知字段", func() {
			_, err := NewModel(&ModelOptions{
				Name:    "user",
				Fields:  []*FieldOptions{{Name: "name", Type: TypeString}},
				Indexes: [][]string{{"email"}},
			}, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("缺少名字", func() {
			_, err := NewModel(&ModelOptions{}, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
			_, err = NewModel(nil, CaseNone, CaseNone)
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)
		})

		Convey("未绑定数据库的模型", func() {
			model, err := NewModel(&ModelOptions{Name: "user"}, CaseNone, CaseNone)
			So(err, ShouldBeNil)
			_, err = model.Find(context.Background(), nil)
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
		})
	})
}
