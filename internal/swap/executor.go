package swap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/pkg/logger"
)

// Executor runs swaps on behalf of callers. It holds no state between calls;
// tokens pass through the executor account and never stay there.
type Executor struct {
	self     common.Address
	cfg      Config
	tokens   TokenResolver
	router   Router
	journal  Journal
	deadline DeadlinePolicy
	logger   *slog.Logger
}

// Option 定义 Executor 的可选配置。
type Option func(*Executor)

// WithDeadlinePolicy 设置默认截止时间策略。
func WithDeadlinePolicy(policy DeadlinePolicy) Option {
	return func(e *Executor) {
		e.deadline = policy
	}
}

// WithLogger 指定状态迁移的日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor binds an executor account to a router configuration. journal
// must cover every ledger the tokens and router write to. The executor does
// not serialise calls itself: concurrent Swap calls on one journal must be
// wrapped in the journal owner's transaction scope.
func NewExecutor(self common.Address, cfg Config, tokens TokenResolver, router Router, journal Journal, opts ...Option) (*Executor, error) {
	switch {
	case self == (common.Address{}):
		return nil, xerrors.New(CodeInvalidConfig, "执行器地址不能为空")
	case !cfg.Valid():
		return nil, xerrors.New(CodeInvalidConfig, "执行器配置未初始化")
	case tokens == nil || router == nil || journal == nil:
		return nil, xerrors.New(CodeInvalidConfig, "执行器依赖未配置")
	}
	e := &Executor{
		self:    self,
		cfg:     cfg,
		tokens:  tokens,
		router:  router,
		journal: journal,
		logger:  logger.Named("swap"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Address returns the executor account.
func (e *Executor) Address() common.Address { return e.self }

// Config returns the bound configuration.
func (e *Executor) Config() Config { return e.cfg }

// Swap pulls req.AmountIn of req.TokenIn from caller, approves the router and
// swaps along the selected path, delivering the output to req.Recipient. The
// returned slice holds the amount at each hop; its last element is the
// delivered output. On error nothing has changed, provided no other Swap on
// the same journal ran concurrently.
func (e *Executor) Swap(ctx context.Context, caller common.Address, req Request) (amounts []*big.Int, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Recipient == e.self {
		return nil, xerrors.New(CodeInvalidPath, "recipient 不能是执行器自身")
	}
	path, err := BuildPath(req.TokenIn, req.TokenOut, e.cfg.baseAsset)
	if err != nil {
		return nil, err
	}
	tokenIn, err := e.tokens.Token(req.TokenIn)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidPath, err, fmt.Sprintf("未知 token %s", req.TokenIn.Hex()))
	}

	allowance, err := tokenIn.Allowance(ctx, caller, e.self)
	if err != nil {
		return nil, xerrors.Wrap(CodeTransferFailed, err, "读取授权额度失败")
	}
	if allowance == nil || allowance.Cmp(req.AmountIn) < 0 {
		return nil, xerrors.New(CodeInsufficientAllowance,
			fmt.Sprintf("授权额度 %s 小于 amountIn %s", bigString(allowance), req.AmountIn))
	}

	state := StateIdle
	snapshot := e.journal.Snapshot()
	defer func() {
		if err == nil {
			return
		}
		e.journal.RevertToSnapshot(snapshot)
		e.transition(&state, StateAborted, slog.String("error", err.Error()))
	}()

	e.transition(&state, StatePulling)
	ok, err := tokenIn.TransferFrom(ctx, e.self, caller, e.self, req.AmountIn)
	if err != nil {
		return nil, xerrors.Wrap(CodeTransferFailed, err, "拉取输入资金失败")
	}
	if !ok {
		return nil, xerrors.New(CodeTransferFailed, "transferFrom 返回 false")
	}

	e.transition(&state, StateApproving)
	if err = e.approveRouter(ctx, tokenIn, req.AmountIn); err != nil {
		return nil, err
	}

	if err = ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "swap 已取消")
	}
	e.transition(&state, StateSwapping, slog.Int("hops", len(path)-1))
	deadline := e.deadline.Resolve(req.Deadline)
	amounts, err = e.router.ExactInputSwap(ctx, e.self, path, req.AmountIn, req.MinOut(), req.Recipient, deadline)
	if err != nil {
		if _, coded := xerrors.From(err); coded {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "router 调用失败")
	}
	if err = verifyAmounts(amounts, len(path), req.MinOut()); err != nil {
		return nil, err
	}

	e.transition(&state, StateSettled, slog.String("amount_out", amounts[len(amounts)-1].String()))
	return amounts, nil
}

// Quote prices the path Swap would take, when the router can quote.
func (e *Executor) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, xerrors.New(CodeInvalidAmount, "amountIn 必须大于 0")
	}
	quoter, ok := e.router.(Quoter)
	if !ok {
		return Quote{}, xerrors.New(xerrors.CodeInitializationFailure, "router 不支持报价")
	}
	path, err := BuildPath(tokenIn, tokenOut, e.cfg.baseAsset)
	if err != nil {
		return Quote{}, err
	}
	amounts, err := quoter.AmountsOut(ctx, amountIn, path)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Path: path, Amounts: amounts}, nil
}

// approveRouter sets the router allowance to exactly amount, resetting it to
// zero first for tokens that reject non-zero to non-zero updates.
func (e *Executor) approveRouter(ctx context.Context, token Token, amount *big.Int) error {
	router := e.cfg.router
	current, err := token.Allowance(ctx, e.self, router)
	if err != nil {
		return xerrors.Wrap(CodeApprovalFailed, err, "读取 router 授权失败")
	}
	if current != nil && current.Sign() != 0 {
		ok, err := token.Approve(ctx, e.self, router, new(big.Int))
		if err != nil {
			return xerrors.Wrap(CodeApprovalFailed, err, "重置 router 授权失败")
		}
		if !ok {
			return xerrors.New(CodeApprovalFailed, "重置 router 授权返回 false")
		}
	}
	ok, err := token.Approve(ctx, e.self, router, amount)
	if err != nil {
		return xerrors.Wrap(CodeApprovalFailed, err, "设置 router 授权失败")
	}
	if !ok {
		return xerrors.New(CodeApprovalFailed, "设置 router 授权返回 false")
	}
	return nil
}

func (e *Executor) transition(state *State, next State, attrs ...any) {
	prev := *state
	*state = next
	if e.logger == nil {
		return
	}
	args := append([]any{slog.String("from", string(prev)), slog.String("to", string(next))}, attrs...)
	e.logger.Debug("swap 状态迁移", args...)
}

func verifyAmounts(amounts []*big.Int, pathLen int, minOut *big.Int) error {
	if len(amounts) != pathLen {
		return xerrors.New(CodeSlippageExceeded,
			fmt.Sprintf("router 返回 %d 个数量，路径长度为 %d", len(amounts), pathLen))
	}
	last := amounts[len(amounts)-1]
	if last == nil || last.Cmp(minOut) < 0 {
		return xerrors.New(CodeSlippageExceeded,
			fmt.Sprintf("输出 %s 小于最小值 %s", bigString(last), minOut))
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
