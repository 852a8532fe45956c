package rdb

import (
	"context"
)

// Future 异步执行 fn，结果只写入一次
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()
	return f
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait 等待结果；ctx 先结束时返回 ctx 的错误，任务本身继续执行
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
