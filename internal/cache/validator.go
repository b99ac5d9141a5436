package cache

import (
	"context"
	"time"
)

// Validator 在 Store 之上实现 TTL 判定：命中则返回可流式读取的条目，
// 超过 TTL 的条目会在查找时删除并以 *ExpiredError（即 ErrNotFound）返回。
type Validator struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewValidator 构造 TTL 校验器，默认使用 time.Now 作为时钟。
func NewValidator(store Store, ttl time.Duration) Validator {
	return Validator{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Lookup 返回三种结果之一：命中 (result, nil)、未命中 errors.Is(err, ErrNotFound)、
// 其它 I/O 错误。注意查找并非只读：过期条目会被删除。
func (v Validator) Lookup(ctx context.Context, key Key) (*ReadResult, error) {
	result, err := v.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if !v.isFresh(result.Entry) {
		result.Reader.Close()
		age := v.now().Sub(result.Entry.StoredAt)
		removeErr := v.store.Remove(ctx, key)
		return nil, &ExpiredError{Key: key, Age: age, RemoveErr: removeErr}
	}
	return result, nil
}

// isFresh 判断条目是否仍在 TTL 内；写入时间晚于当前时钟时视为新鲜。
func (v Validator) isFresh(entry Entry) bool {
	if v.ttl <= 0 {
		return true
	}
	elapsed := v.now().Sub(entry.StoredAt)
	return elapsed <= v.ttl
}
