package rdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// SyncOwner 多进程部署时决定由哪个进程执行建表
type SyncOwner interface {
	Acquire(ctx context.Context, table string) (bool, error)
}

// SyncReleaser 同步完成后释放归属，未实现时依赖租约过期
type SyncReleaser interface {
	Release(ctx context.Context, table string) error
}

// LocalSyncOwner 单进程部署，Owner 为 true 时总是执行建表
type LocalSyncOwner struct {
	Owner bool
}

func (o LocalSyncOwner) Acquire(context.Context, string) (bool, error) {
	return o.Owner, nil
}

// 只删除自己持有的租约
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncOwner 以 redis 租约选出建表进程，同一 token 可重复获取
type RedisSyncOwner struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
	token     string
	closer    func() error
}

func NewRedisSyncOwnerWithOptions(options *SyncLockOptions) (*RedisSyncOwner, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
	owner := NewRedisSyncOwner(client, options.KeyPrefix, options.TTL)
	owner.closer = client.Close
	return owner, nil
}

func NewRedisSyncOwner(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisSyncOwner {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisSyncOwner{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		token:     uuid.NewString(),
	}
}

func (o *RedisSyncOwner) Token() string {
	return o.token
}

func (o *RedisSyncOwner) key(table string) string {
	return o.keyPrefix + table
}

func (o *RedisSyncOwner) Acquire(ctx context.Context, table string) (bool, error) {
	ok, err := o.client.SetNX(ctx, o.key(table), o.token, o.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire sync lease for %s", table)
	}
	if ok {
		return true, nil
	}

	holder, err := o.client.Get(ctx, o.key(table)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read sync lease for %s", table)
	}
	return holder == o.token, nil
}

func (o *RedisSyncOwner) Release(ctx context.Context, table string) error {
	if err := releaseScript.Run(ctx, o.client, []string{o.key(table)}, o.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "release sync lease for %s", table)
	}
	return nil
}

func (o *RedisSyncOwner) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer()
}
