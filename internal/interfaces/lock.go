package interfaces

import "context"

// RunLock 保证同一时刻最多一次更新在执行
// 锁已被占用时返回 apperr.ErrRunInProgress；release 可重复调用
type RunLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}
