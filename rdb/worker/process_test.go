package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func helperProcessOptions(t *testing.T, codec string, path string) *ProcessOptions {
	t.Setenv(helperEnv, "1")
	return &ProcessOptions{
		Command:      os.Args[0],
		Engine:       "sqlite",
		Codec:        codec,
		Path:         path,
		StartTimeout: 5 * time.Second,
	}
}

func TestProcess(t *testing.T) {
	Convey("测试 worker 子进程", t, func() {
		ctx := context.Background()

		Convey("参数", func() {
			p, err := NewProcessWithOptions(&ProcessOptions{Codec: CodecMsgpack, Engine: "sqlite3"}, log.Nop())
			So(err, ShouldBeNil)
			So(p.Args(), ShouldResemble, []string{"--codec", "msgpack", "--driver", "sqlite3", ":memory:"})
			So(p.options.Command, ShouldEqual, "rdbx-sqlite-worker")

			_, err = NewProcessWithOptions(&ProcessOptions{Codec: "xml"}, log.Nop())
			So(err, ShouldNotBeNil)
		})

		Convey("启动和退出", func() {
			p, err := StartChannelWithOptions(ctx, helperProcessOptions(t, CodecJSON, ":memory:"), log.Nop())
			So(err, ShouldBeNil)

			_, err = p.Exec(ctx, "CREATE TABLE `t` (`id` integer, PRIMARY KEY (`id`))")
			So(err, ShouldBeNil)
			id, err := p.Insert(ctx, "INSERT INTO `t` DEFAULT VALUES")
			So(err, ShouldBeNil)
			So(id, ShouldEqual, 1)
			So(p.Pending(), ShouldEqual, 0)

			So(p.Close(), ShouldBeNil)
			_, err = p.Query(ctx, "SELECT 1")
			So(errors.Is(err, rdb.ErrNotConnected), ShouldBeTrue)
		})

		Convey("命令不存在", func() {
			options := helperProcessOptions(t, CodecJSON, ":memory:")
			options.Command = "/nonexistent/rdbx-sqlite-worker"
			_, err := StartChannelWithOptions(ctx, options, log.Nop())
			So(err, ShouldNotBeNil)
		})

		Convey("stderr 报告启动失败", func() {
			_, err := StartChannelWithOptions(ctx, helperProcessOptions(t, CodecJSON, "fail"), log.Nop())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "fatal: cannot open database")
		})

		Convey("进程退出后数据库重连", func() {
			p, err := NewProcessWithOptions(helperProcessOptions(t, CodecMsgpack, ":memory:"), log.Nop())
			So(err, ShouldBeNil)
			db, err := rdb.NewDatabaseWithOptions(&rdb.Options{
				Dialect: rdb.DialectSQLite,
				Retry:   rdb.RetryOptions{MaxTries: 3, Delay: 10 * time.Millisecond, Timeout: 5 * time.Second},
			}, rdb.WithDriver(p), rdb.WithLogger(log.Nop()))
			So(err, ShouldBeNil)
			defer db.Close()

			rows, err := db.Query(ctx, "SELECT 1 AS n")
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)

			channel, err := p.current()
			So(err, ShouldBeNil)
			p.mu.Lock()
			So(p.cmd.Process.Kill(), ShouldBeNil)
			p.mu.Unlock()
			<-channel.Done()

			_, err = db.Query(ctx, "SELECT 1 AS n")
			var ce *rdb.ConnectionError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Fatal, ShouldBeFalse)

			rows, err = db.Query(ctx, "SELECT 1 AS n")
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			So(db.State(), ShouldEqual, rdb.StateConnected)
		})

		Convey("由配置创建 worker 驱动", func() {
			options := helperProcessOptions(t, CodecJSON, ":memory:")
			db, err := rdb.NewDatabaseWithOptions(&rdb.Options{
				Dialect: rdb.DialectSQLite,
				Worker:  rdb.WorkerOptions{Command: options.Command, Engine: "sqlite", Codec: CodecJSON},
			}, rdb.WithLogger(log.Nop()))
			So(err, ShouldBeNil)
			defer db.Close()

			rows, err := db.Query(ctx, "SELECT 2 AS n")
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
		})
	})
}
