// Package job runs swaps asynchronously: submitted swap requests are stored,
// queued and executed by a pool of workers against a chain client.
package job

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/pkg/units"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// BalanceChange 记录 swap 前后某个账户的余额。
type BalanceChange struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// Result 保存一次成功 swap 的结果。金额均为最小单位的十进制字符串。
type Result struct {
	Path      []string        `json:"path"`
	Amounts   []string        `json:"amounts"`
	AmountOut string          `json:"amount_out"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Balances  []BalanceChange `json:"balances,omitempty"`
}

// Job 描述了排队执行的 swap 任务。
type Job struct {
	ID           string         `json:"id"`
	Chain        string         `json:"chain"`
	Caller       string         `json:"caller"`
	TokenIn      string         `json:"token_in"`
	TokenOut     string         `json:"token_out"`
	AmountIn     string         `json:"amount_in"`
	MinAmountOut string         `json:"min_amount_out"`
	Recipient    string         `json:"recipient"`
	Deadline     int64          `json:"deadline,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       Status         `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxRetries   int            `json:"max_retries"`
	LastError    string         `json:"last_error,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

// Request 是提交 swap 任务的参数。ID 可选，用于幂等提交。
type Request struct {
	ID           string         `json:"id,omitempty"`
	Chain        string         `json:"chain,omitempty"`
	Caller       string         `json:"caller"`
	TokenIn      string         `json:"token_in"`
	TokenOut     string         `json:"token_out"`
	AmountIn     string         `json:"amount_in"`
	MinAmountOut string         `json:"min_amount_out"`
	Recipient    string         `json:"recipient"`
	Deadline     int64          `json:"deadline,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{Message: "job not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{Message: "job conflict", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{Message: "job already completed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{Message: "job retries exhausted", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{Message: "job validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{Message: "failed to publish job", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{Message: "job execution failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
}

// Validate 检查地址与金额格式，并返回规范化后的请求。
func (r Request) Validate() (Request, error) {
	out := r
	out.ID = strings.TrimSpace(r.ID)
	out.Chain = strings.TrimSpace(r.Chain)
	for field, value := range map[string]*string{
		"caller":    &out.Caller,
		"token_in":  &out.TokenIn,
		"token_out": &out.TokenOut,
		"recipient": &out.Recipient,
	} {
		addr := strings.TrimSpace(*value)
		if !common.IsHexAddress(addr) || common.HexToAddress(addr) == (common.Address{}) {
			return Request{}, xerrors.New(CodeJobValidation, field+" 不是有效地址")
		}
		*value = common.HexToAddress(addr).Hex()
	}
	amountIn, err := units.ParseBaseUnits(r.AmountIn)
	if err != nil || amountIn.Sign() <= 0 {
		return Request{}, xerrors.New(CodeJobValidation, "amount_in 必须是正整数")
	}
	out.AmountIn = amountIn.String()
	if strings.TrimSpace(r.MinAmountOut) == "" {
		out.MinAmountOut = "0"
	} else {
		minOut, err := units.ParseBaseUnits(r.MinAmountOut)
		if err != nil {
			return Request{}, xerrors.New(CodeJobValidation, "min_amount_out 必须是非负整数")
		}
		out.MinAmountOut = minOut.String()
	}
	if r.Deadline < 0 {
		return Request{}, xerrors.New(CodeJobValidation, "deadline 不能为负数")
	}
	out.Metadata = cloneMetadata(r.Metadata)
	return out, nil
}

// SwapRequest 把任务转换为执行器的请求。
func (j *Job) SwapRequest() (swap.Request, error) {
	amountIn, ok := new(big.Int).SetString(j.AmountIn, 10)
	if !ok {
		return swap.Request{}, xerrors.New(CodeJobValidation, "amount_in 无法解析")
	}
	minOut, ok := new(big.Int).SetString(j.MinAmountOut, 10)
	if !ok {
		return swap.Request{}, xerrors.New(CodeJobValidation, "min_amount_out 无法解析")
	}
	req := swap.Request{
		TokenIn:      common.HexToAddress(j.TokenIn),
		TokenOut:     common.HexToAddress(j.TokenOut),
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Recipient:    common.HexToAddress(j.Recipient),
	}
	if j.Deadline > 0 {
		req.Deadline = time.Unix(j.Deadline, 0)
	}
	return req, nil
}

// Finished 表示任务不会再被执行。可重试的失败会回到 pending。
func (j *Job) Finished() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

func cloneResult(result *Result) *Result {
	if result == nil {
		return nil
	}
	c := *result
	c.Path = append([]string(nil), result.Path...)
	c.Amounts = append([]string(nil), result.Amounts...)
	c.Balances = append([]BalanceChange(nil), result.Balances...)
	return &c
}

// Clone 返回任务的深拷贝。
func (j *Job) Clone() *Job {
	c := *j
	c.Result = cloneResult(j.Result)
	c.Metadata = cloneMetadata(j.Metadata)
	return &c
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
