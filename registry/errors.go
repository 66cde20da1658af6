package registry

import "github.com/ceyewan/fuse/xerrors"

// 错误定义
var (
	// ErrAlreadyRegistered 名称已注册
	ErrAlreadyRegistered = xerrors.New("registry: breaker already registered")

	// ErrNotFound 名称未注册
	ErrNotFound = xerrors.New("registry: breaker not found")

	// ErrClosed 注册表已关闭
	ErrClosed = xerrors.New("registry: registry is closed")
)
