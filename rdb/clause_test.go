package rdb

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserModel(t testing.TB) *Model {
	model, err := NewModel(&ModelOptions{
		Name: "user",
		Fields: []*FieldOptions{
			{Name: "name", Type: TypeString},
			{Name: "age", Type: "int"},
			{Name: "price", Type: TypeMoney},
			{Name: "status", Type: "enum('active','disabled')"},
		},
	}, CaseUnderscored, CaseUnderscored)
	require.NoError(t, err)
	return model
}

func TestWhereClauseOperators(t *testing.T) {
	model := newUserModel(t)
	builder := NewClauseBuilder(MySQLDialect{})

	cases := []struct {
		name    string
		filters Filters
		want    string
	}{
		{"scalar", Filters{"age": 21}, "WHERE `age` = '21'"},
		{"=", Filters{"age": Op("=", 21)}, "WHERE `age` = '21'"},
		{"!=", Filters{"age": Op("!=", 21)}, "WHERE `age` != '21'"},
		{"<", Filters{"age": Op("<", 21)}, "WHERE `age` < '21'"},
		{">", Filters{"age": Op(">", 21)}, "WHERE `age` > '21'"},
		{"<=", Filters{"age": Op("<=", 21)}, "WHERE `age` <= '21'"},
		{">=", Filters{"age": Op(">=", 21)}, "WHERE `age` >= '21'"},
		{"LIKE", Filters{"name": Op("LIKE", "a%")}, "WHERE `name` LIKE 'a%'"},
		{"NOT LIKE", Filters{"name": Op("NOT LIKE", "a%")}, "WHERE `name` NOT LIKE 'a%'"},
		{"lower case like", Filters{"name": Op("like", "a%")}, "WHERE `name` LIKE 'a%'"},
		{"IS NULL", Filters{"name": IsNull()}, "WHERE `name` IS NULL"},
		{"IS NOT NULL", Filters{"name": IsNotNull()}, "WHERE `name` IS NOT NULL"},
		{"BETWEEN", Filters{"age": Between(18, 30)}, "WHERE `age` BETWEEN '18' AND '30'"},
		{"IN", Filters{"age": In(1, 2, 3)}, "WHERE `age` IN (1,2,3)"},
		{"IN raw list", Filters{"status": []any{"IN", []string{"'active'", "'disabled'"}}}, "WHERE `status` IN ('active','disabled')"},
		{"nil scalar", Filters{"name": nil}, "WHERE `name` IS NULL"},
		{"empty", Filters{}, "WHERE 1"},
		{"nil", nil, "WHERE 1"},
		{"declaration order", Filters{"age": Op(">", 1), "name": "a"}, "WHERE `name` = 'a' AND `age` > '1'"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			where, err := builder.WhereClause(model, c.filters, "")
			require.NoError(t, err)
			assert.Equal(t, c.want, where)
		})
	}
}

func TestWhereClause(t *testing.T) {
	Convey("测试 WHERE 子句", t, func() {
		model := newUserModel(t)
		mysql := NewClauseBuilder(MySQLDialect{})
		sqlite := NewClauseBuilder(SQLiteDialect{})

		Convey("原始条件追加在末尾", func() {
			where, err := mysql.WhereClause(model, Filters{"name": "a"}, "age > 3")
			So(err, ShouldBeNil)
			So(where, ShouldEqual, "WHERE `name` = 'a' AND age > 3")

			where, err = mysql.WhereClause(model, nil, "age > 3")
			So(err, ShouldBeNil)
			So(where, ShouldEqual, "WHERE age > 3")
		})

		Convey("单引号转义因方言而异", func() {
			where, err := mysql.WhereClause(model, Filters{"name": "O'Brien"}, "")
			So(err, ShouldBeNil)
			So(where, ShouldEqual, "WHERE `name` = 'O\\'Brien'")

			where, err = sqlite.WhereClause(model, Filters{"name": "O'Brien"}, "")
			So(err, ShouldBeNil)
			So(where, ShouldEqual, "WHERE `name` = 'O''Brien'")
		})

		Convey("未知字段返回 ErrUnknownField", func() {
			_, err := mysql.WhereClause(model, Filters{"email": "a"}, "")
			So(errors.Is(err, ErrUnknownField), ShouldBeTrue)
		})

		Convey("不支持的操作符", func() {
			_, err := mysql.WhereClause(model, Filters{"age": Op("~", 1)}, "")
			So(err, ShouldNotBeNil)

			_, err = mysql.WhereClause(model, Filters{"age": []any{"BETWEEN", 1}}, "")
			So(err, ShouldNotBeNil)

			_, err = mysql.WhereClause(model, Filters{"age": []any{}}, "")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSetClause(t *testing.T) {
	Convey("测试 SET 和 INSERT 子句", t, func() {
		model := newUserModel(t)
		mysql := NewClauseBuilder(MySQLDialect{})
		sqlite := NewClauseBuilder(SQLiteDialect{})

		Convey("创建时写入 created 和 modified，未知字段忽略", func() {
			set := mysql.SetClause(model, Item{"name": "a", "age": 3, "extra": 1}, ModeCreate, "")
			So(set, ShouldEqual, "SET `name`='a',`age`='3',`created`=NOW(),`modified`=NOW()")
		})

		Convey("更新时排除主键，只写入 modified", func() {
			set := mysql.SetClause(model, Item{"id": 5, "name": nil}, ModeSave, "id")
			So(set, ShouldEqual, "SET `name`=NULL,`modified`=NOW()")
		})

		Convey("调用方传入的 modified 不会重复写入", func() {
			set := sqlite.SetClause(model, Item{"name": "a", "modified": "2020-01-01"}, ModeSave, "id")
			So(set, ShouldEqual, "SET `name`='a',`modified`=datetime('now')")
		})

		Convey("没有可写字段", func() {
			noTimestamps, err := NewModel(&ModelOptions{
				Name:        "tag",
				Fields:      []*FieldOptions{{Name: "label", Type: TypeString}},
				AfterFields: []*FieldOptions{},
			}, CaseNone, CaseNone)
			So(err, ShouldBeNil)
			So(mysql.SetClause(noTimestamps, Item{"id": 1}, ModeSave, "id"), ShouldEqual, "")
			So(sqlite.InsertClause(noTimestamps, Item{}), ShouldEqual, "DEFAULT VALUES")
		})

		Convey("sqlite 使用 VALUES 形式插入", func() {
			So(sqlite.InsertClause(model, Item{"name": "a"}), ShouldEqual,
				"(`name`,`created`,`modified`) VALUES ('a',datetime('now'),datetime('now'))")
			So(sqlite.InsertStatement(model, Item{"name": "a"}), ShouldEqual,
				"INSERT INTO `user` (`name`,`created`,`modified`) VALUES ('a',datetime('now'),datetime('now'))")
		})

		Convey("mysql 使用 SET 形式插入", func() {
			So(mysql.InsertStatement(model, Item{"name": "a"}), ShouldEqual,
				"INSERT INTO `user` SET `name`='a',`created`=NOW(),`modified`=NOW()")
		})
	})
}

func TestQuote(t *testing.T) {
	Convey("测试字面量转义", t, func() {
		mysql := MySQLDialect{}
		sqlite := SQLiteDialect{}

		So(mysql.Quote(nil), ShouldEqual, "NULL")
		So(mysql.Quote("it's"), ShouldEqual, "'it\\'s'")
		So(sqlite.Quote("it's"), ShouldEqual, "'it''s'")
		So(mysql.Quote(9.5), ShouldEqual, "'9.5'")
		So(mysql.Quote(int64(42)), ShouldEqual, "'42'")
		So(mysql.Quote(true), ShouldEqual, "'1'")
		So(sqlite.Quote(false), ShouldEqual, "'0'")
		So(mysql.Quote(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), ShouldEqual, "'2024-01-02 03:04:05'")
		So(mysql.Quote([]byte("raw")), ShouldEqual, "'raw'")
	})
}
