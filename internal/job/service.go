package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/observability/metrics"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/pkg/logger"
)

// ChainResolver 根据名称返回链客户端，名称为空时返回默认链。
type ChainResolver interface {
	Resolve(name string) (web3.Client, error)
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	chains     ChainResolver
	maxRetries int
}

// NewService 构造任务服务。chains 为 nil 时不校验链名称。
func NewService(store Store, producer Producer, chains ChainResolver, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, chains: chains, maxRetries: maxRetries}
}

// Submit 创建一个新的 swap 任务并推送到队列。相同 ID 的重复提交返回已有任务。
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}
	if s.chains != nil {
		client, err := s.chains.Resolve(req.Chain)
		if err != nil {
			return nil, xerrors.Wrap(CodeJobValidation, err, "链不可用")
		}
		req.Chain = client.Name()
	}

	jobID := req.ID
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:           jobID,
		Chain:        req.Chain,
		Caller:       req.Caller,
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		Recipient:    req.Recipient,
		Deadline:     req.Deadline,
		Metadata:     req.Metadata,
		Status:       StatusPending,
		MaxRetries:   s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	metrics.ObserveJobTransition(string(StatusPending))
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("swap 任务入队成功",
		slog.String("job_id", jobID),
		slog.String("chain", job.Chain),
		slog.String("caller", job.Caller),
		slog.String("token_in", job.TokenIn),
		slog.String("token_out", job.TokenOut),
		slog.String("amount_in", job.AmountIn),
		slog.String("min_amount_out", job.MinAmountOut),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务状态直到成功或最终失败。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
