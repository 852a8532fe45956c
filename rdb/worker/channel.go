package worker

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/pkg/errors"
)

var ErrWorkerExited = errors.WithMessage(rdb.ErrConnectionLost, "worker exited")

// Channel 通过一对字节流与 worker 通信，按 id 关联请求和响应
type Channel struct {
	name   string
	codec  Codec
	reader io.Reader
	writer io.Writer
	enc    Encoder
	logger log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Result
	closed  bool
	exitErr error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// NewChannel 从 r 读取响应，向 w 写入请求，并启动读循环
func NewChannel(r io.Reader, w io.Writer, codec Codec, logger log.Logger) *Channel {
	if codec == nil {
		codec = JSONCodec{}
	}
	name := uuid.NewString()
	c := &Channel{
		name:    name,
		codec:   codec,
		reader:  r,
		writer:  w,
		enc:     codec.NewEncoder(w),
		logger:  log.OrDefault(logger).With("component", "worker", "channel", name),
		pending: map[int64]chan Result{},
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop(codec.NewDecoder(r))
	return c
}

func (c *Channel) Name() string {
	return c.name
}

// Ready worker 发出就绪消息后关闭
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Done 读循环结束后关闭，之后的请求都会失败
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// Pending 已发送但尚未收到响应的请求数
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) readLoop(dec Decoder) {
	for {
		var response Response
		if err := dec.Decode(&response); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
				c.fail(ErrWorkerExited)
			} else {
				c.fail(errors.WithMessage(ErrWorkerExited, err.Error()))
			}
			return
		}

		if response.ID == ReadyID {
			c.readyOnce.Do(func() { close(c.ready) })
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[response.ID]
		delete(c.pending, response.ID)
		c.mu.Unlock()

		// 重复或未知 id 的响应直接丢弃
		if !ok {
			c.logger.Warn("dropped response without pending request", "id", response.ID)
			continue
		}
		ch <- response.Result
	}
}

// fail 结束所有等待中的请求
func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.exitErr == nil {
		c.exitErr = err
	}
	c.closed = true
	pending := c.pending
	c.pending = map[int64]chan Result{}
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.done)
	c.logger.Info("channel closed", "pending", len(pending), "reason", err)
}

// Send 发送一条语句或一组按顺序执行的语句，返回最后一条语句的结果
func (c *Channel) Send(ctx context.Context, statements ...string) (*Result, error) {
	if len(statements) == 0 {
		return nil, errors.New("no statements to send")
	}

	c.mu.Lock()
	if c.closed {
		err := c.exitErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(&Request{ID: id, Statements: statements})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.WithMessage(ErrWorkerExited, err.Error())
	}

	// ctx 结束后调用方不再等待，响应到达时照常从 pending 中移除
	select {
	case result, ok := <-ch:
		if !ok {
			return nil, c.Err()
		}
		if result.Error != nil {
			return nil, result.Error
		}
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect 通道不能重连，读循环结束后返回 ErrWorkerExited
func (c *Channel) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	default:
		return nil
	}
}

func (c *Channel) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	result, err := c.Send(ctx, statement)
	if err != nil {
		return nil, err
	}
	if result.Rows == nil {
		return []map[string]any{}, nil
	}
	return result.Rows, nil
}

func (c *Channel) Exec(ctx context.Context, statement string) (int64, error) {
	result, err := c.Send(ctx, statement)
	if err != nil {
		return 0, err
	}
	return result.Changes, nil
}

// Insert 插入和读取自增 id 在 worker 的同一连接上依次执行
func (c *Channel) Insert(ctx context.Context, statement string) (int64, error) {
	result, err := c.Send(ctx, statement, "SELECT last_insert_rowid() AS id")
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 {
		return 0, errors.New("worker returned no insert id")
	}
	return toInt64(result.Rows[0]["id"])
}

// Close 关闭两端的流，读循环随之结束
func (c *Channel) Close() error {
	var errs []error
	if closer, ok := c.writer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := c.reader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "close channel")
	}
	return nil
}
