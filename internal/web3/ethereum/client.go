package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string

	Router    common.Address
	BaseAsset common.Address
	// Swapper is the deployed adapter contract.
	Swapper common.Address

	// PrivateKey is a hex encoded signing key. Without it the client is
	// read-only.
	PrivateKey string
	GasLimit   uint64
	Deadline   swap.DeadlinePolicy
}

// Backend is the subset of an ethclient the swap flow needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements the web3.Client interface for EVM compatible chains
// through a deployed swapper contract.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   Backend
	chainID   *big.Int

	cfg      swap.Config
	swapper  *SwapperContract
	router   *RouterV2
	signer   *bind.TransactOpts
	gasLimit uint64
	deadline swap.DeadlinePolicy

	// txMu serialises transactions from the single signer so nonces do not
	// collide.
	txMu   sync.Mutex
	mu     sync.Mutex
	tokens map[common.Address]*ERC20
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	client, err := NewClientWithBackend(ctx, cfg, ethclient.NewClient(rpcClient))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewClientWithBackend builds a client on an existing backend such as a
// simulated chain.
func NewClientWithBackend(ctx context.Context, cfg Config, backend Backend) (*Client, error) {
	if backend == nil {
		return nil, errors.New("未提供链访问后端")
	}
	swapCfg, err := swap.NewConfig(cfg.Router, cfg.BaseAsset)
	if err != nil {
		return nil, err
	}
	if cfg.Swapper == (common.Address{}) {
		return nil, xerrors.New(swap.CodeInvalidConfig, "未配置 swapper 合约地址")
	}

	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	} else {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	c := &Client{
		name:     cfg.Name,
		notes:    cfg.Notes,
		backend:  backend,
		chainID:  chainID,
		cfg:      swapCfg,
		swapper:  NewSwapperContract(cfg.Swapper, backend, backend),
		router:   NewRouterV2(cfg.Router, backend),
		gasLimit: cfg.GasLimit,
		deadline: cfg.Deadline,
		tokens:   make(map[common.Address]*ERC20),
	}
	if key := strings.TrimSpace(cfg.PrivateKey); key != "" {
		privateKey, err := parsePrivateKey(key)
		if err != nil {
			return nil, err
		}
		c.signer, err = bind.NewKeyedTransactorWithChainID(privateKey, chainID)
		if err != nil {
			return nil, fmt.Errorf("创建交易签名器失败: %w", err)
		}
	}
	return c, nil
}

// Name returns the registry name of the chain.
func (c *Client) Name() string { return c.name }

// Executor returns the swapper contract callers must approve.
func (c *Client) Executor() common.Address { return c.swapper.Address() }

// Signer returns the account transactions are sent from, if any.
func (c *Client) Signer() (common.Address, bool) {
	if c.signer == nil {
		return common.Address{}, false
	}
	return c.signer.From, true
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Quote prices the path the swapper contract takes.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (swap.Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return swap.Quote{}, xerrors.New(swap.CodeInvalidAmount, "amountIn 必须大于 0")
	}
	path, err := swap.BuildPath(tokenIn, tokenOut, c.cfg.BaseAsset())
	if err != nil {
		return swap.Quote{}, err
	}
	amounts, err := c.router.AmountsOut(ctx, amountIn, path)
	if err != nil {
		return swap.Quote{}, err
	}
	return swap.Quote{Path: path, Amounts: amounts}, nil
}

// TokenInfo reads symbol and decimals.
func (c *Client) TokenInfo(ctx context.Context, token common.Address) (web3.TokenInfo, error) {
	erc20 := c.token(token)
	symbol, err := erc20.Symbol(ctx)
	if err != nil {
		return web3.TokenInfo{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取 token 信息失败")
	}
	decimals, err := erc20.Decimals(ctx)
	if err != nil {
		return web3.TokenInfo{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取 token 信息失败")
	}
	return web3.TokenInfo{Address: token, Symbol: symbol, Decimals: decimals}, nil
}

// BalanceOf reads a token balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	balance, err := c.token(token).BalanceOf(ctx, owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
	}
	return balance, nil
}

// Allowance reads a token allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	allowance, err := c.token(token).Allowance(ctx, owner, spender)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询授权失败")
	}
	return allowance, nil
}

// Approve sends approve from the signer and waits for it to be mined. owner
// must be the signer.
func (c *Client) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (common.Hash, error) {
	if err := c.requireSigner(owner); err != nil {
		return common.Hash{}, err
	}
	c.txMu.Lock()
	tx, err := c.token(token).Approve(c.transactOpts(ctx), spender, amount)
	c.txMu.Unlock()
	if err != nil {
		return common.Hash{}, xerrors.Wrap(swap.CodeApprovalFailed, err, "发送 approve 交易失败")
	}
	if _, err := c.waitSuccessful(ctx, tx); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

// Swap runs the swap through the deployed adapter. The call is simulated
// first so reverts surface as typed errors without spending gas; the
// delivered output is then read from the receipt's Transfer logs.
func (c *Client) Swap(ctx context.Context, caller common.Address, req swap.Request) (web3.SwapReceipt, error) {
	if err := req.Validate(); err != nil {
		return web3.SwapReceipt{}, err
	}
	if err := c.requireSigner(caller); err != nil {
		return web3.SwapReceipt{}, err
	}
	path, err := swap.BuildPath(req.TokenIn, req.TokenOut, c.cfg.BaseAsset())
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	deadline := c.deadline.Resolve(req.Deadline)
	if c.deadline.Expired(deadline) {
		return web3.SwapReceipt{}, xerrors.New(swap.CodeDeadlineExpired, "swap 截止时间已过")
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	allowance, err := c.Allowance(ctx, req.TokenIn, caller, c.swapper.Address())
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	if allowance.Cmp(req.AmountIn) < 0 {
		return web3.SwapReceipt{}, xerrors.New(swap.CodeInsufficientAllowance,
			fmt.Sprintf("授权额度 %s 小于 amountIn %s", allowance, req.AmountIn))
	}

	amounts, err := c.swapper.Simulate(ctx, caller, req)
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	if len(amounts) == 0 || amounts[len(amounts)-1].Cmp(req.MinOut()) < 0 {
		return web3.SwapReceipt{}, xerrors.New(swap.CodeSlippageExceeded, "预执行输出低于最小值")
	}

	c.txMu.Lock()
	tx, err := c.swapper.Transact(c.transactOpts(ctx), req)
	c.txMu.Unlock()
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	receipt, err := c.waitSuccessful(ctx, tx)
	if err != nil {
		return web3.SwapReceipt{TxHash: tx.Hash()}, err
	}
	if delivered, ok := transferredTo(receipt, req.TokenOut, req.Recipient); ok {
		amounts[len(amounts)-1] = delivered
	}
	return web3.SwapReceipt{Path: path, Amounts: amounts, TxHash: tx.Hash()}, nil
}

func (c *Client) waitSuccessful(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待交易上链失败",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, xerrors.New(xerrors.CodeChainFailure, fmt.Sprintf("交易 %s 执行回滚", tx.Hash().Hex()),
			xerrors.WithRetryable(false), xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}
	return receipt, nil
}

func (c *Client) requireSigner(account common.Address) error {
	if c.signer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置签名私钥")
	}
	if account != c.signer.From {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("只能代表签名账户 %s 发送交易", c.signer.From.Hex()))
	}
	return nil
}

func (c *Client) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.signer
	opts.Context = ctx
	opts.GasLimit = c.gasLimit
	return &opts
}

func (c *Client) token(address common.Address) *ERC20 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[address]
	if !ok {
		t = NewERC20(address, c.backend, c.backend)
		c.tokens[address] = t
	}
	return t
}

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return key, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
