package api

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"Swapper-Chain/internal/auth"
	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/job"
	"Swapper-Chain/internal/ledger"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/pkg/units"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QuoteRequest 是 POST /api/v1/quotes 的请求体。
type QuoteRequest struct {
	Chain       string `json:"chain,omitempty"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	SlippageBps uint32 `json:"slippage_bps"`
}

// QuoteResponse 返回报价路径与按滑点折算后的最小输出。
type QuoteResponse struct {
	Chain        string   `json:"chain"`
	Path         []string `json:"path"`
	Amounts      []string `json:"amounts"`
	AmountOut    string   `json:"amount_out"`
	MinAmountOut string   `json:"min_amount_out"`
}

// ApproveRequest 是 POST /api/v1/approvals 的请求体。
type ApproveRequest struct {
	Chain  string `json:"chain,omitempty"`
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// ApproveResponse 描述一次授权结果，模拟链上 TxHash 为空。
type ApproveResponse struct {
	Chain   string `json:"chain"`
	Spender string `json:"spender"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// BalanceResponse 描述账户余额以及对执行器的授权额度。
type BalanceResponse struct {
	Chain     string `json:"chain"`
	Token     string `json:"token"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Owner     string `json:"owner"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
	Formatted string `json:"formatted"`
}

// TokenResponse 描述代币的展示信息。
type TokenResponse struct {
	Chain    string `json:"chain"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ChainInfo 描述一条已注册的链。
type ChainInfo struct {
	Name        string `json:"name"`
	Default     bool   `json:"default"`
	Executor    string `json:"executor"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber string `json:"block_number,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.chains != nil {
		body["chains"] = s.chains.Chains()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSubmitSwap(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req job.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["submitted_by"] = subject.Name
	}
	created, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if created.Status != job.StatusPending || created.Attempts > 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, created)
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleSwapStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "未配置链"))
		return
	}
	names := s.chains.Chains()
	out := make([]ChainInfo, 0, len(names))
	for _, name := range names {
		info := ChainInfo{Name: name, Default: name == s.chains.DefaultChain()}
		client, err := s.chains.Resolve(name)
		if err != nil {
			info.Error = err.Error()
			out = append(out, info)
			continue
		}
		info.Executor = client.Executor().Hex()
		snapshot, err := client.FetchChainSnapshot(r.Context())
		if err != nil {
			info.Error = err.Error()
		} else {
			info.ChainID = snapshot.ChainID
			info.BlockNumber = snapshot.BlockNumber
			info.Notes = snapshot.Notes
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": out})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SlippageBps > 10_000 {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "slippage_bps 不能超过 10000"))
		return
	}
	tokenIn, err := parseAddress("token_in", req.TokenIn)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenOut, err := parseAddress("token_out", req.TokenOut)
	if err != nil {
		writeError(w, err)
		return
	}
	amountIn, err := parseAmount("amount_in", req.AmountIn)
	if err != nil {
		writeError(w, err)
		return
	}
	client, err := s.resolve(req.Chain)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := client.Quote(r.Context(), tokenIn, tokenOut, amountIn)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := QuoteResponse{
		Chain:        client.Name(),
		Path:         make([]string, len(quote.Path)),
		Amounts:      make([]string, len(quote.Amounts)),
		AmountOut:    quote.AmountOut().String(),
		MinAmountOut: quote.MinAmountOut(req.SlippageBps).String(),
	}
	for i, addr := range quote.Path {
		resp.Path[i] = addr.Hex()
	}
	for i, amount := range quote.Amounts {
		resp.Amounts[i] = amount.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := units.ParseBaseUnits(req.Amount)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "amount 必须是非负整数"))
		return
	}
	client, err := s.resolve(req.Chain)
	if err != nil {
		writeError(w, err)
		return
	}
	spender := client.Executor()
	hash, err := client.Approve(r.Context(), token, owner, spender, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ApproveResponse{Chain: client.Name(), Spender: spender.Hex()}
	if hash != (common.Hash{}) {
		resp.TxHash = hash.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token, err := parseAddress("token", query.Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", query.Get("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	client, err := s.resolve(query.Get("chain"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	info, err := client.TokenInfo(ctx, token)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := client.BalanceOf(ctx, token, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	allowance, err := client.Allowance(ctx, token, owner, client.Executor())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Chain:     client.Name(),
		Token:     token.Hex(),
		Symbol:    info.Symbol,
		Decimals:  info.Decimals,
		Owner:     owner.Hex(),
		Balance:   balance.String(),
		Allowance: allowance.String(),
		Formatted: units.Format(balance, info.Decimals),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	client, err := s.resolve(r.URL.Query().Get("chain"))
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := client.TokenInfo(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Chain:    client.Name(),
		Address:  info.Address.Hex(),
		Symbol:   info.Symbol,
		Decimals: info.Decimals,
	})
}

func (s *Server) resolve(name string) (web3.Client, error) {
	if s.chains == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链")
	}
	client, err := s.chains.Resolve(strings.TrimSpace(name))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "链不可用")
	}
	return client, nil
}

func listOptionsFromQuery(r *http.Request) ([]job.ListOption, error) {
	query := r.URL.Query()
	var opts []job.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数")
		}
		opts = append(opts, job.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是非负整数")
		}
		opts = append(opts, job.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.ToLower(strings.TrimSpace(part)))
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态 "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	for key, apply := range map[string]func(time.Time) job.ListOption{
		"since": job.WithUpdatedSince,
		"until": job.WithUpdatedUntil,
	} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ts < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, key+" 必须是 unix 秒")
		}
		opts = append(opts, apply(time.Unix(ts, 0)))
	}
	if order := query.Get("order"); strings.EqualFold(order, "asc") {
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	}
	opts = append(opts,
		job.WithChain(query.Get("chain")),
		job.WithCaller(query.Get("caller")),
		job.WithQuery(query.Get("q")),
	)
	return opts, nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, field+" 不是有效地址")
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, err := units.ParseBaseUnits(value)
	if err != nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, field+" 必须是正整数")
	}
	return amount, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, job.CodeJobValidation,
		swap.CodeInvalidPath, swap.CodeInvalidAmount, swap.CodeDeadlineExpired:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound, job.CodeJobNotFound, ledger.CodeUnknownToken:
		return http.StatusNotFound
	case xerrors.CodeConflict, job.CodeJobConflict:
		return http.StatusConflict
	case swap.CodeInsufficientAllowance, swap.CodeSlippageExceeded, swap.CodeLiquidityInsufficient,
		swap.CodeApprovalFailed, swap.CodeTransferFailed, ledger.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case xerrors.CodeChainFailure:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure, job.CodeJobPublish:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{Code: string(code), Message: err.Error()}
	var coded *xerrors.Error
	if errors.As(err, &coded) {
		body.Message = coded.Message()
		if cause := errors.Unwrap(coded); cause != nil {
			body.Message += ": " + cause.Error()
		}
	}
	writeJSON(w, statusFor(code), body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
