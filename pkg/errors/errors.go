package errors

import (
	"fmt"
)

// ErrorCode 表示错误码类型
type ErrorCode int

// 定义应用程序的错误码
const (
	// 通用错误
	ErrUnknown ErrorCode = iota + 1000
	ErrInvalidParameter
	ErrNotImplemented

	// 设备/会话相关错误
	ErrDeviceNotFound
	ErrDeviceNotOnline
	ErrDeviceNotAuthorized
	ErrDeviceAlreadyRegistered
	ErrSessionStateConflict

	// 协议相关错误
	ErrProtocolParseFailed
	ErrProtocolBuildFailed
	ErrProtocolInvalidChecksum
	ErrProtocolFrameTooLarge
	ErrProtocolUnsupported
	ErrProtocolInvalidCommand

	// 业务分发相关错误
	ErrDispatchTimeout
	ErrDispatchCancelled
	ErrDispatchQueueFull
	ErrBusinessHandlerFailed
	ErrBusinessTypeUnknown

	// 适配器生命周期相关错误
	ErrAdapterInitFailed
	ErrAdapterNotRunning

	// Redis缓存相关错误
	ErrRedisConnectionFailed
	ErrRedisOperationFailed
)

// Category 错误类别，决定传播与重试策略
type Category int

const (
	CategoryParse    Category = iota + 1 // 解析/构建错误：丢弃消息，不重试
	CategoryBusiness                     // 业务错误：仅幂等操作按策略重试
	CategorySession                      // 会话/权限错误：强制重新注册
	CategoryInternal                     // 内部错误
)

// 错误码到类别的映射
var codeCategories = map[ErrorCode]Category{
	ErrProtocolParseFailed:     CategoryParse,
	ErrProtocolBuildFailed:     CategoryParse,
	ErrProtocolInvalidChecksum: CategoryParse,
	ErrProtocolFrameTooLarge:   CategoryParse,
	ErrProtocolInvalidCommand:  CategoryParse,
	ErrDispatchTimeout:         CategoryBusiness,
	ErrDispatchCancelled:       CategoryBusiness,
	ErrDispatchQueueFull:       CategoryBusiness,
	ErrBusinessHandlerFailed:   CategoryBusiness,
	ErrBusinessTypeUnknown:     CategoryBusiness,
	ErrDeviceNotFound:          CategorySession,
	ErrDeviceNotOnline:         CategorySession,
	ErrDeviceNotAuthorized:     CategorySession,
	ErrSessionStateConflict:    CategorySession,
}

// CategoryOf 返回错误码所属类别
func CategoryOf(code ErrorCode) Category {
	if c, ok := codeCategories[code]; ok {
		return c
	}
	return CategoryInternal
}

// AppError 应用程序自定义错误类型
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持Go 1.13+的错误包装
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Category 返回错误所属类别
func (e *AppError) Category() Category {
	return CategoryOf(e.Code)
}

// New 创建一个新的AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf 创建一个格式化消息的AppError
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 包装一个已有的错误
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsErrCode 检查错误是否为指定的错误码
func IsErrCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
