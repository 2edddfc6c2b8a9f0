package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/observability/alerting"
	"Swapper-Chain/internal/observability/metrics"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/pkg/logger"
)

// Processor 负责从队列消费任务并在对应链上执行 swap。
type Processor struct {
	chains      ChainResolver
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(chains ChainResolver, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		chains:      chains,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束或队列关闭。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.chains == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}
	metrics.ObserveJobTransition(string(StatusRunning))

	started := p.now()
	result, execErr := p.execute(ctx, job)
	if execErr != nil {
		metrics.ObserveSwap(job.Chain, string(xerrors.CodeOf(execErr)), p.now().Sub(started))
		return p.handleExecutionFailure(ctx, job, execErr)
	}
	metrics.ObserveSwap(job.Chain, metrics.OutcomeSettled, p.now().Sub(started))

	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		// swap 已经结算，不能重新执行，只能告警人工处理。
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		p.emitAlert(ctx, job, xerrors.CodeStorageFailure, err, "record")
		return err
	}
	metrics.ObserveJobTransition(string(StatusSucceeded))
	logger.Audit().Info("swap 任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("chain", job.Chain),
		slog.String("amount_in", job.AmountIn),
		slog.String("amount_out", result.AmountOut),
		slog.String("tx_hash", result.TxHash),
	)
	return nil
}

func (p *Processor) execute(ctx context.Context, job *Job) (Result, error) {
	req, err := job.SwapRequest()
	if err != nil {
		return Result{}, err
	}
	client, err := p.chains.Resolve(job.Chain)
	if err != nil {
		return Result{}, xerrors.Wrap(CodeJobValidation, err, "链不可用")
	}
	caller := common.HexToAddress(job.Caller)

	watched := []watchedBalance{
		{account: caller, token: req.TokenIn},
		{account: req.Recipient, token: req.TokenOut},
	}
	before, err := readBalances(ctx, client, watched)
	if err != nil {
		return Result{}, err
	}

	receipt, err := client.Swap(ctx, caller, req)
	if err != nil {
		if receipt.TxHash != (common.Hash{}) {
			// 交易已经发出，重试可能造成重复成交。
			return Result{}, xerrors.Wrap(xerrors.CodeOf(err), err, "swap 交易已发出但未确认",
				xerrors.WithRetryable(false), xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
		}
		return Result{}, err
	}

	result := Result{
		Path:      make([]string, len(receipt.Path)),
		Amounts:   make([]string, len(receipt.Amounts)),
		AmountOut: receipt.AmountOut().String(),
	}
	for i, addr := range receipt.Path {
		result.Path[i] = addr.Hex()
	}
	for i, amount := range receipt.Amounts {
		result.Amounts[i] = amount.String()
	}
	if receipt.TxHash != (common.Hash{}) {
		result.TxHash = receipt.TxHash.Hex()
	}

	after, err := readBalances(ctx, client, watched)
	if err != nil {
		// 余额只用于展示，读取失败不影响结果。
		logger.L().Warn("读取 swap 后余额失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return result, nil
	}
	for i, w := range watched {
		result.Balances = append(result.Balances, BalanceChange{
			Account: w.account.Hex(),
			Token:   w.token.Hex(),
			Before:  before[i].String(),
			After:   after[i].String(),
		})
	}
	return result, nil
}

type watchedBalance struct {
	account common.Address
	token   common.Address
}

func readBalances(ctx context.Context, client web3.Client, watched []watchedBalance) ([]*big.Int, error) {
	out := make([]*big.Int, len(watched))
	for i, w := range watched {
		balance, err := client.BalanceOf(ctx, w.token, w.account)
		if err != nil {
			if _, coded := xerrors.From(err); coded {
				return nil, err
			}
			return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取余额失败")
		}
		out[i] = balance
	}
	return out, nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	if terminal {
		metrics.ObserveJobTransition(string(StatusFailed))
	} else {
		metrics.ObserveJobTransition(string(StatusPending))
	}
	logger.Audit().Warn("swap 任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("chain", job.Chain),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if !terminal {
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		if coded, ok := xerrors.From(cause); ok {
			for k, v := range coded.Metadata() {
				metadata[k] = v
			}
			attrs.Severity = coded.Severity()
		}
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Chain:      job.Chain,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: p.now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
