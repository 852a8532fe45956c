package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testRetry struct {
	MaxTries int           `cfg:"maxTries" def:"3" validate:"min=1"`
	Delay    time.Duration `cfg:"delay" def:"1s"`
}

type testOptions struct {
	Dialect    string            `cfg:"dialect" def:"mysql" validate:"oneof=mysql sqlite"`
	Name       string            `cfg:"name"`
	MaxResults int               `cfg:"maxResults" def:"100000"`
	ForceSync  bool              `cfg:"forceSync"`
	Ratio      float64           `cfg:"ratio"`
	Tags       []string          `cfg:"tags" def:"a,b"`
	Labels     map[string]string `cfg:"labels"`
	Retry      testRetry         `cfg:"retry"`
	Lease      *testRetry        `cfg:"lease"`
}

func TestLoadBytes(t *testing.T) {
	Convey("测试多种格式加载配置", t, func() {
		Convey("YAML", func() {
			data := []byte(`
dialect: sqlite
name: test
forceSync: true
ratio: 0.5
labels:
  env: dev
retry:
  maxTries: 5
  delay: 200ms
`)
			var options testOptions
			So(LoadBytes(data, FormatYAML, &options), ShouldBeNil)
			So(options.Dialect, ShouldEqual, "sqlite")
			So(options.Name, ShouldEqual, "test")
			So(options.ForceSync, ShouldBeTrue)
			So(options.Ratio, ShouldEqual, 0.5)
			So(options.Labels, ShouldResemble, map[string]string{"env": "dev"})
			So(options.Retry.MaxTries, ShouldEqual, 5)
			So(options.Retry.Delay, ShouldEqual, 200*time.Millisecond)
			So(options.MaxResults, ShouldEqual, 100000)
			So(options.Tags, ShouldResemble, []string{"a", "b"})
			So(options.Lease, ShouldBeNil)
		})

		Convey("JSON", func() {
			data := []byte(`{"name": "orders", "maxResults": 50, "retry": {"delay": "2s"}, "lease": {"maxTries": 2}}`)
			var options testOptions
			So(LoadBytes(data, FormatJSON, &options), ShouldBeNil)
			So(options.Dialect, ShouldEqual, "mysql")
			So(options.MaxResults, ShouldEqual, 50)
			So(options.Retry.MaxTries, ShouldEqual, 3)
			So(options.Retry.Delay, ShouldEqual, 2*time.Second)
			So(options.Lease, ShouldNotBeNil)
			So(options.Lease.MaxTries, ShouldEqual, 2)
			So(options.Lease.Delay, ShouldEqual, time.Second)
		})

		Convey("TOML", func() {
			data := []byte(`
dialect = "sqlite"
tags = ["x", "y", "z"]

[retry]
maxTries = 4
`)
			var options testOptions
			So(LoadBytes(data, FormatTOML, &options), ShouldBeNil)
			So(options.Dialect, ShouldEqual, "sqlite")
			So(options.Tags, ShouldResemble, []string{"x", "y", "z"})
			So(options.Retry.MaxTries, ShouldEqual, 4)
		})

		Convey("INI", func() {
			data := []byte(`
dialect = sqlite
forceSync = true

[retry]
maxTries = 7
delay = 3s
`)
			var options testOptions
			So(LoadBytes(data, FormatINI, &options), ShouldBeNil)
			So(options.Dialect, ShouldEqual, "sqlite")
			So(options.ForceSync, ShouldBeTrue)
			So(options.Retry.MaxTries, ShouldEqual, 7)
			So(options.Retry.Delay, ShouldEqual, 3*time.Second)
		})

		Convey("校验失败", func() {
			var options testOptions
			err := LoadBytes([]byte(`dialect: postgres`), FormatYAML, &options)
			So(err, ShouldNotBeNil)
		})

		Convey("类型不匹配", func() {
			var options testOptions
			err := LoadBytes([]byte(`retry: 3`), FormatYAML, &options)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("测试从文件加载", t, func() {
		dir := t.TempDir()

		Convey("按扩展名选择解码器", func() {
			path := filepath.Join(dir, "db.yml")
			So(os.WriteFile(path, []byte("name: app\n"), 0644), ShouldBeNil)

			var options testOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Name, ShouldEqual, "app")
		})

		Convey("不支持的扩展名", func() {
			var options testOptions
			So(Load(filepath.Join(dir, "db.xml"), &options), ShouldNotBeNil)
		})

		Convey("文件不存在", func() {
			var options testOptions
			So(Load(filepath.Join(dir, "missing.json"), &options), ShouldNotBeNil)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("测试 def 标签", t, func() {
		So(SetDefaults(nil), ShouldNotBeNil)
		So(SetDefaults(testOptions{}), ShouldNotBeNil)

		options := testOptions{MaxResults: 10}
		So(SetDefaults(&options), ShouldBeNil)
		So(options.MaxResults, ShouldEqual, 10)
		So(options.Dialect, ShouldEqual, "mysql")
		So(options.Retry.Delay, ShouldEqual, time.Second)
	})
}
