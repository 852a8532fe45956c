package rdb

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeDriver 记录语句，按预设返回结果
type fakeDriver struct {
	mu          sync.Mutex
	statements  []string
	connects    int
	connectErrs []error
	queryErrs   []error
	rows        []map[string]any
	insertID    int64
	closed      bool
}

func (d *fakeDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		d.connectErrs = d.connectErrs[1:]
		return err
	}
	return nil
}

func (d *fakeDriver) record(statement string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statements = append(d.statements, statement)
	if len(d.queryErrs) > 0 {
		err := d.queryErrs[0]
		d.queryErrs = d.queryErrs[1:]
		return err
	}
	return nil
}

func (d *fakeDriver) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	if err := d.record(statement); err != nil {
		return nil, err
	}
	if strings.HasPrefix(statement, "SHOW CREATE TABLE") {
		return nil, &mysql.MySQLError{Number: 1146}
	}
	return d.rows, nil
}

func (d *fakeDriver) Exec(ctx context.Context, statement string) (int64, error) {
	if err := d.record(statement); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *fakeDriver) Insert(ctx context.Context, statement string) (int64, error) {
	if err := d.record(statement); err != nil {
		return 0, err
	}
	return d.insertID, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.statements...)
}

func newMySQLDatabase(driver Driver) *Database {
	db, err := NewDatabaseWithOptions(&Options{
		Dialect: DialectMySQL,
		Name:    "test",
		Retry:   RetryOptions{MaxTries: 3, Delay: time.Millisecond, Timeout: time.Second},
	}, WithDriver(driver), WithLogger(log.Nop()))
	So(err, ShouldBeNil)
	return db
}

func newSQLiteDatabase() *Database {
	db, err := NewDatabaseWithOptions(&Options{
		Dialect: DialectSQLite,
		Driver:  DriverSQL,
		Path:    ":memory:",
		Retry:   RetryOptions{MaxTries: 1, Delay: time.Millisecond, Timeout: 5 * time.Second},
	}, WithLogger(log.Nop()))
	So(err, ShouldBeNil)
	return db
}

func defineProduct(db *Database) *Model {
	model, err := db.Define(&ModelOptions{
		Name: "product",
		Fields: []*FieldOptions{
			{Name: "name", Type: TypeString},
			{Name: "stock", Type: "int"},
			{Name: "price", Type: TypeMoney},
			{Name: "status", Type: "enum('active','disabled')"},
		},
	})
	So(err, ShouldBeNil)
	So(db.WaitSynced(context.Background()), ShouldBeNil)
	return model
}

func TestNewDatabaseWithOptions(t *testing.T) {
	Convey("测试创建数据库", t, func() {
		Convey("默认值", func() {
			options := &Options{}
			db, err := NewDatabaseWithOptions(options, WithDriver(&fakeDriver{}), WithLogger(log.Nop()))
			So(err, ShouldBeNil)
			So(options.Dialect, ShouldEqual, DialectMySQL)
			So(options.MaxResults, ShouldEqual, 100000)
			So(options.Retry.MaxTries, ShouldEqual, 3)
			So(options.Retry.Delay, ShouldEqual, time.Second)
			So(options.Path, ShouldEqual, ":memory:")
			So(db.State(), ShouldEqual, StateDisconnected)
			So(db.Dialect().Type(), ShouldEqual, DialectMySQL)
		})

		Convey("未知方言", func() {
			_, err := NewDatabaseWithOptions(&Options{Dialect: "postgres"})
			So(err, ShouldNotBeNil)
		})

		Convey("nil 配置", func() {
			_, err := NewDatabaseWithOptions(nil)
			So(err, ShouldNotBeNil)
		})

		Convey("未注册的 worker 驱动", func() {
			_, err := NewDatabaseWithOptions(&Options{Dialect: DialectSQLite}, WithLogger(log.Nop()))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestConnect(t *testing.T) {
	Convey("测试连接状态机", t, func() {
		ctx := context.Background()

		Convey("重试后连接成功", func() {
			driver := &fakeDriver{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
			db := newMySQLDatabase(driver)

			So(db.Connect(ctx), ShouldBeNil)
			So(driver.connects, ShouldEqual, 3)
			So(db.State(), ShouldEqual, StateConnected)

			So(db.Connect(ctx), ShouldBeNil)
			So(driver.connects, ShouldEqual, 3)
		})

		Convey("重试耗尽返回致命的连接错误", func() {
			driver := &fakeDriver{connectErrs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
			db := newMySQLDatabase(driver)

			err := db.Connect(ctx)
			var ce *ConnectionError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Fatal, ShouldBeTrue)
			So(ce.Attempts, ShouldEqual, 3)
			So(driver.connects, ShouldEqual, 3)
			So(db.State(), ShouldEqual, StateDisconnected)

			_, err = db.Query(ctx, "SELECT 1")
			So(err, ShouldBeNil)
			So(db.State(), ShouldEqual, StateConnected)
		})

		Convey("连接中断后后台重连", func() {
			driver := &fakeDriver{queryErrs: []error{mysql.ErrInvalidConn}}
			db := newMySQLDatabase(driver)

			_, err := db.Query(ctx, "SELECT 1")
			var ce *ConnectionError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Fatal, ShouldBeFalse)
			So(errors.Is(err, mysql.ErrInvalidConn), ShouldBeTrue)

			_, err = db.Query(ctx, "SELECT 1")
			So(err, ShouldBeNil)
			So(db.State(), ShouldEqual, StateConnected)
			So(driver.connects, ShouldEqual, 2)
		})

		Convey("查询失败附带 SQL", func() {
			driver := &fakeDriver{queryErrs: []error{errors.New("syntax error")}}
			db := newMySQLDatabase(driver)

			_, err := db.Query(ctx, "SELEC 1")
			var qe *QueryError
			So(errors.As(err, &qe), ShouldBeTrue)
			So(qe.SQL, ShouldEqual, "SELEC 1")
			So(db.State(), ShouldEqual, StateConnected)
		})

		Convey("关闭", func() {
			driver := &fakeDriver{}
			db := newMySQLDatabase(driver)
			So(db.Connect(ctx), ShouldBeNil)
			So(db.Close(), ShouldBeNil)
			So(driver.closed, ShouldBeTrue)
			So(db.State(), ShouldEqual, StateDisconnected)
		})
	})
}

func TestMySQLStatements(t *testing.T) {
	Convey("测试 MySQL 语句生成", t, func() {
		ctx := context.Background()
		driver := &fakeDriver{insertID: 12}
		db := newMySQLDatabase(driver)
		model := defineProduct(db)

		statements := driver.Statements()
		So(statements[0], ShouldEqual, "SHOW CREATE TABLE `product`")
		So(statements[1], ShouldStartWith, "CREATE TABLE `product` (")
		outcome, err := syncResult(db, "product")
		So(err, ShouldBeNil)
		So(outcome, ShouldEqual, SyncCreated)

		Convey("创建", func() {
			record, err := model.Create(ctx, Item{"name": "pen", "price": 1.5})
			So(err, ShouldBeNil)
			So(record.ID(), ShouldEqual, int64(12))
			So(last(driver), ShouldEqual, "INSERT INTO `product` SET `name`='pen',`price`='1.5',`created`=NOW(),`modified`=NOW()")
		})

		Convey("更新不写主键", func() {
			record, err := model.Save(ctx, Item{"id": 12, "name": "pencil"})
			So(err, ShouldBeNil)
			So(record.ID(), ShouldEqual, int64(12))
			So(last(driver), ShouldEqual, "UPDATE `product` SET `name`='pencil',`modified`=NOW() WHERE `id` = '12'")
		})

		Convey("更新缺少主键", func() {
			_, err := db.Update(ctx, model, Item{"name": "pencil"})
			So(errors.Is(err, ErrMissingIdentity), ShouldBeTrue)
		})

		Convey("查询", func() {
			_, err := model.Find(ctx, &FindOptions{
				Fields:  []string{"id", "name"},
				Filters: Filters{"stock": Op(">", 0)},
				OrderBy: []string{"-price", "name"},
				Limit:   &Limit{Offset: 20, Count: 10},
			})
			So(err, ShouldBeNil)
			So(last(driver), ShouldEqual, "SELECT `id`,`name` FROM `product` WHERE `stock` > '0' ORDER BY `price` DESC,`name` ASC LIMIT 20,10")
		})

		Convey("返回行数有上限", func() {
			_, err := model.Find(ctx, nil)
			So(err, ShouldBeNil)
			So(last(driver), ShouldEqual, "SELECT `id`,`name`,`stock`,`price`,`status`,`created`,`modified` FROM `product` WHERE 1 LIMIT 100000")

			_, err = model.Find(ctx, &FindOptions{Limit: &Limit{Count: 1000000}})
			So(err, ShouldBeNil)
			So(last(driver), ShouldEndWith, "LIMIT 100000")
		})

		Convey("未知字段在发送前报错", func() {
			count := len(driver.Statements())
			_, err := model.Find(ctx, &FindOptions{Fields: []string{"name", "color"}})
			So(errors.Is(err, ErrUnknownField), ShouldBeTrue)
			_, err = model.Find(ctx, &FindOptions{OrderBy: []string{"-color"}})
			So(errors.Is(err, ErrUnknownField), ShouldBeTrue)
			So(len(driver.Statements()), ShouldEqual, count)
		})

		Convey("删除", func() {
			n, err := model.Remove(ctx, 12)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			So(last(driver), ShouldEqual, "DELETE FROM `product` WHERE `id` = '12'")

			_, err = model.Remove(ctx, 0)
			So(errors.Is(err, ErrMissingIdentity), ShouldBeTrue)
		})

		Convey("Get 查询不到记录", func() {
			_, err := model.Get(ctx, 99)
			So(errors.Is(err, ErrRecordNotFound), ShouldBeTrue)
			So(last(driver), ShouldEndWith, "WHERE `id` = '99' LIMIT 1")
		})
	})
}

func syncResult(db *Database, name string) (SyncOutcome, error) {
	future, ok := db.DefineResult(name)
	So(ok, ShouldBeTrue)
	return future.Wait(context.Background())
}

func last(driver *fakeDriver) string {
	statements := driver.Statements()
	return statements[len(statements)-1]
}

func TestDefine(t *testing.T) {
	Convey("测试模型定义", t, func() {
		Convey("重复定义", func() {
			db := newMySQLDatabase(&fakeDriver{})
			_, err := db.Define(&ModelOptions{Name: "user", DisableSync: true})
			So(err, ShouldBeNil)
			_, err = db.Define(&ModelOptions{Name: "user", DisableSync: true})
			So(errors.Is(err, ErrIllegalSchema), ShouldBeTrue)

			model, ok := db.Model("user")
			So(ok, ShouldBeTrue)
			So(model.Database(), ShouldEqual, db)
		})

		Convey("禁用同步时不执行任何语句", func() {
			driver := &fakeDriver{}
			db := newMySQLDatabase(driver)
			_, err := db.Define(&ModelOptions{Name: "user", DisableSync: true})
			So(err, ShouldBeNil)
			So(db.WaitSynced(context.Background()), ShouldBeNil)
			So(driver.Statements(), ShouldBeEmpty)
			_, ok := db.DefineResult("user")
			So(ok, ShouldBeFalse)
		})

		Convey("非同步归属进程不建表", func() {
			driver := &fakeDriver{}
			db, err := NewDatabaseWithOptions(&Options{Dialect: DialectMySQL},
				WithDriver(driver), WithLogger(log.Nop()), WithSyncOwner(LocalSyncOwner{Owner: false}))
			So(err, ShouldBeNil)
			_, err = db.Define(&ModelOptions{Name: "user"})
			So(err, ShouldBeNil)
			So(db.WaitSynced(context.Background()), ShouldBeNil)
			So(db.PendingSyncs(), ShouldEqual, 0)
			So(driver.Statements(), ShouldBeEmpty)
		})
	})
}
