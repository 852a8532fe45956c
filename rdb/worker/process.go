package worker

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/pkg/errors"
)

func init() {
	rdb.RegisterDriver(rdb.DriverWorker, func(options *rdb.Options, logger log.Logger) (rdb.Driver, error) {
		return NewProcessWithOptions(&ProcessOptions{
			Command:      options.Worker.Command,
			Engine:       options.Worker.Engine,
			Codec:        options.Worker.Codec,
			Path:         options.Path,
			StartTimeout: options.Worker.StartTimeout,
		}, logger)
	})
}

type ProcessOptions struct {
	Command      string        `cfg:"command" def:"rdbx-sqlite-worker"`
	Engine       string        `cfg:"engine" def:"sqlite3" validate:"oneof=sqlite3 sqlite"`
	Codec        string        `cfg:"codec" def:"json" validate:"oneof=json msgpack"`
	Path         string        `cfg:"path" def:":memory:"`
	StartTimeout time.Duration `cfg:"startTimeout" def:"10s"`
}

// 出现在 stderr 开头表示 worker 启动失败
var startupFailurePrefixes = []string{"fatal:", "execvp"}

// Process 管理一个 worker 子进程及其通道，进程退出后 Connect 会重新启动
type Process struct {
	options *ProcessOptions
	codec   Codec
	logger  log.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	channel *Channel
	exited  chan struct{}
}

func NewProcessWithOptions(options *ProcessOptions, logger log.Logger) (*Process, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	codec, err := CodecByName(options.Codec)
	if err != nil {
		return nil, err
	}
	if options.Command == "" {
		options.Command = "rdbx-sqlite-worker"
	}
	if options.Path == "" {
		options.Path = ":memory:"
	}
	if options.StartTimeout <= 0 {
		options.StartTimeout = 10 * time.Second
	}
	return &Process{
		options: options,
		codec:   codec,
		logger:  log.OrDefault(logger).With("component", "worker", "path", options.Path),
	}, nil
}

// StartChannelWithOptions 启动 worker 并等待就绪
func StartChannelWithOptions(ctx context.Context, options *ProcessOptions, logger log.Logger) (*Process, error) {
	p, err := NewProcessWithOptions(options, logger)
	if err != nil {
		return nil, err
	}
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Process) Args() []string {
	args := []string{"--codec", p.codec.Name()}
	if p.options.Engine != "" {
		args = append(args, "--driver", p.options.Engine)
	}
	return append(args, p.options.Path)
}

func (p *Process) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		select {
		case <-p.channel.Done():
		default:
			return nil
		}
	}

	cmd := exec.Command(p.options.Command, p.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "worker stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "worker stderr")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start worker %s", p.options.Command)
	}

	channel := NewChannel(stdout, stdin, p.codec, p.logger)
	startErr := make(chan error, 1)
	stderrDone := make(chan struct{})
	go p.watchStderr(stderr, startErr, stderrDone)

	exited := make(chan struct{})
	go func() {
		<-channel.Done()
		<-stderrDone
		err := cmd.Wait()
		p.logger.Info("worker exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()

	timer := time.NewTimer(p.options.StartTimeout)
	defer timer.Stop()
	select {
	case <-channel.Ready():
	case err := <-startErr:
		_ = cmd.Process.Kill()
		return err
	case <-channel.Done():
		return errors.WithMessage(channel.Err(), "worker exited during startup")
	case <-timer.C:
		_ = cmd.Process.Kill()
		return errors.Errorf("worker not ready after %v", p.options.StartTimeout)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	p.cmd, p.stdin, p.channel, p.exited = cmd, stdin, channel, exited
	p.logger.Info("worker started", "pid", cmd.Process.Pid, "channel", channel.Name())
	return nil
}

func (p *Process) watchStderr(r io.Reader, startErr chan<- error, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		for _, prefix := range startupFailurePrefixes {
			if strings.HasPrefix(line, prefix) {
				select {
				case startErr <- errors.Errorf("worker failed to start: %s", line):
				default:
				}
			}
		}
		p.logger.Warn("worker stderr", "line", line)
	}
}

func (p *Process) current() (*Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil, rdb.ErrNotConnected
	}
	return p.channel, nil
}

func (p *Process) Pending() int {
	channel, err := p.current()
	if err != nil {
		return 0
	}
	return channel.Pending()
}

func (p *Process) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	channel, err := p.current()
	if err != nil {
		return nil, err
	}
	return channel.Query(ctx, statement)
}

func (p *Process) Exec(ctx context.Context, statement string) (int64, error) {
	channel, err := p.current()
	if err != nil {
		return 0, err
	}
	return channel.Exec(ctx, statement)
}

func (p *Process) Insert(ctx context.Context, statement string) (int64, error) {
	channel, err := p.current()
	if err != nil {
		return 0, err
	}
	return channel.Insert(ctx, statement)
}

// Close 关闭 stdin 让 worker 正常退出，超时后强制结束
func (p *Process) Close() error {
	p.mu.Lock()
	cmd, stdin, exited := p.cmd, p.stdin, p.exited
	p.cmd, p.stdin, p.channel, p.exited = nil, nil, nil, nil
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}

	_ = stdin.Close()
	select {
	case <-exited:
		return nil
	case <-time.After(p.options.StartTimeout):
		return errors.Wrap(cmd.Process.Kill(), "kill worker")
	}
}
