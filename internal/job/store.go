package job

import (
	"context"

	xerrors "Swapper-Chain/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 把 pending 任务切换为 running 并增加尝试次数。failed 是终态，返回 ErrJobExhausted。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result Result) error
	// MarkFailed 记录失败原因；terminal 为 false 时任务回到 pending 等待重试。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
