package swap

import (
	xerrors "Swapper-Chain/internal/errors"
)

const (
	CodeInvalidPath           xerrors.Code = "SWAP_INVALID_PATH"
	CodeInvalidAmount         xerrors.Code = "SWAP_INVALID_AMOUNT"
	CodeInvalidConfig         xerrors.Code = "SWAP_INVALID_CONFIG"
	CodeInsufficientAllowance xerrors.Code = "SWAP_INSUFFICIENT_ALLOWANCE"
	CodeTransferFailed        xerrors.Code = "SWAP_TRANSFER_FAILED"
	CodeApprovalFailed        xerrors.Code = "SWAP_APPROVAL_FAILED"
	CodeSlippageExceeded      xerrors.Code = "SWAP_SLIPPAGE_EXCEEDED"
	CodeLiquidityInsufficient xerrors.Code = "SWAP_LIQUIDITY_INSUFFICIENT"
	CodeDeadlineExpired       xerrors.Code = "SWAP_DEADLINE_EXPIRED"
)

// Sentinels for errors.Is; any error carrying the same code matches.
var (
	ErrInvalidPath           = xerrors.New(CodeInvalidPath, "")
	ErrInvalidAmount         = xerrors.New(CodeInvalidAmount, "")
	ErrInvalidConfig         = xerrors.New(CodeInvalidConfig, "")
	ErrInsufficientAllowance = xerrors.New(CodeInsufficientAllowance, "")
	ErrTransferFailed        = xerrors.New(CodeTransferFailed, "")
	ErrApprovalFailed        = xerrors.New(CodeApprovalFailed, "")
	ErrSlippageExceeded      = xerrors.New(CodeSlippageExceeded, "")
	ErrLiquidityInsufficient = xerrors.New(CodeLiquidityInsufficient, "")
	ErrDeadlineExpired       = xerrors.New(CodeDeadlineExpired, "")
)

func init() {
	xerrors.Register(CodeInvalidPath, xerrors.Attributes{Message: "invalid swap path", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{Message: "invalid swap amount", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidConfig, xerrors.Attributes{Message: "invalid swap configuration", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeInsufficientAllowance, xerrors.Attributes{Message: "insufficient allowance", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{Message: "token transfer failed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeApprovalFailed, xerrors.Attributes{Message: "router approval failed", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeSlippageExceeded, xerrors.Attributes{Message: "output below minimum", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeLiquidityInsufficient, xerrors.Attributes{Message: "insufficient liquidity", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeDeadlineExpired, xerrors.Attributes{Message: "swap deadline expired", Severity: xerrors.SeverityInfo})
}
