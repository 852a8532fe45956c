// rdbx-sqlite-worker 在独立进程中执行 sqlite 查询，通过 stdin/stdout 与 rdb/worker 通信
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/worker"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	flagDriver   string
	flagCodec    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "rdbx-sqlite-worker [path]",
	Short:         "Execute sqlite statements received on stdin and write results to stdout",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ":memory:"
		if len(args) == 1 {
			path = args[0]
		}
		return run(cmd.Context(), path)
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagDriver, "driver", "sqlite3", "sqlite engine: sqlite3 (cgo) or sqlite (pure go)")
	rootCmd.Flags().StringVar(&flagCodec, "codec", worker.CodecJSON, "message codec: json or msgpack")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "warn", "log level written to stderr")
}

func run(ctx context.Context, path string) error {
	// stdout 用于协议消息，日志只能写 stderr
	logger, err := log.NewSLogWithOptions(&log.SLogOptions{
		Level:  flagLogLevel,
		Format: "text",
		Output: log.OutputOptions{Type: "console", Console: &log.ConsoleWriterOptions{Target: "stderr"}},
	})
	if err != nil {
		return err
	}

	if flagDriver != "sqlite3" && flagDriver != "sqlite" {
		return errors.Errorf("unsupported driver %q", flagDriver)
	}
	codec, err := worker.CodecByName(flagCodec)
	if err != nil {
		return err
	}

	db, err := sql.Open(flagDriver, path)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrapf(err, "open %s", path)
	}

	logger.Info("worker ready", "driver", flagDriver, "codec", codec.Name(), "path", path)
	return worker.Serve(ctx, os.Stdin, os.Stdout, db, codec, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
