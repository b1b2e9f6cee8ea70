package logic

import "errors"

// 业务错误分类，handler层据此映射HTTP状态码。
// Conflict/Forbidden/InvalidState直接返回调用方，不自动重试：
// 重试前必须重新读取状态，否则会绕过前置条件。
var (
	ErrNotFound         = errors.New("task not found")
	ErrConflict         = errors.New("task status changed")
	ErrForbidden        = errors.New("actor not authorized")
	ErrInvalidState     = errors.New("operation not valid in current state")
	ErrChainUnavailable = errors.New("chain unavailable")
	ErrChainCallFailed  = errors.New("chain call failed")
)
