// Package protocol 实现设备协议消息的规范化表示与各厂商编解码器
package protocol

import (
	"fmt"
	"time"
)

// 常用应答消息名，编码时由各厂商编解码器映射到消息类型代码
const (
	MessageNameAck             = "ACK"
	MessageNameNak             = "NAK"
	MessageNameAccountResponse = "ACCOUNT_RESPONSE"
)

// Field 有序业务字段。载荷字段保持厂商报文中的出现顺序，
// 便于按原顺序重新编码。
type Field struct {
	Key   string
	Value interface{}
}

// Message 规范化协议消息。解析完成后即视为只读，
// 任何后续处理不得修改其字段。
type Message struct {
	ProtocolType  string    // 协议类型标识
	DeviceID      string    // 设备标识（厂商报文中的SN/设备号）
	MessageType   uint8     // 消息类型代码
	MessageName   string    // 消息类型名称
	CommandCode   uint8     // 命令代码
	Sequence      uint32    // 序列号
	Timestamp     time.Time // 设备侧时间戳
	Fields        []Field   // 有序载荷字段
	Raw           []byte    // 原始帧字节
	ChecksumValid bool      // 校验和验证结果
	ReceivedAt    time.Time // 网关接收时间
}

// Get 按键查找载荷字段
func (m *Message) Get(key string) (interface{}, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString 按键查找字符串字段，不存在或类型不符返回空串
func (m *Message) GetString(key string) string {
	if v, ok := m.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FieldMap 将载荷字段转为map，供业务分发使用
func (m *Message) FieldMap() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Fields))
	for _, f := range m.Fields {
		out[f.Key] = f.Value
	}
	return out
}

// BusinessData 返回载荷字段加头部业务字段的map，
// 可直接交给Build按原样重新编码
func (m *Message) BusinessData() map[string]interface{} {
	out := m.FieldMap()
	out["sequenceNumber"] = m.Sequence
	out["timestamp"] = m.Timestamp.Unix()
	out["commandCode"] = m.CommandCode
	return out
}

// String 返回消息的字符串表示
func (m *Message) String() string {
	return fmt.Sprintf("Message{Protocol:%s, Device:%s, Type:0x%02X(%s), Seq:%d, ChecksumValid:%v}",
		m.ProtocolType, m.DeviceID, m.MessageType, m.MessageName, m.Sequence, m.ChecksumValid)
}

// ParseError 解析错误。报文格式非法、校验失败、类型未知、载荷截断
// 均以此类型返回，绝不panic
type ParseError struct {
	ProtocolType     string
	Reason           string
	Cause            error
	ChecksumMismatch bool // 校验和不匹配，会话层据此累计连续校验失败次数
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] 消息解析失败: %s: %v", e.ProtocolType, e.Reason, e.Cause)
	}
	return fmt.Sprintf("[%s] 消息解析失败: %s", e.ProtocolType, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError 创建解析错误
func NewParseError(protocolType, reason string) *ParseError {
	return &ParseError{ProtocolType: protocolType, Reason: reason}
}

// NewParseErrorf 创建格式化的解析错误
func NewParseErrorf(protocolType, format string, args ...interface{}) *ParseError {
	return &ParseError{ProtocolType: protocolType, Reason: fmt.Sprintf(format, args...)}
}

// BuildError 构建错误。必填业务字段缺失或无法序列化时返回，
// 失败时不产生部分输出
type BuildError struct {
	ProtocolType string
	Reason       string
	Cause        error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] 响应构建失败: %s: %v", e.ProtocolType, e.Reason, e.Cause)
	}
	return fmt.Sprintf("[%s] 响应构建失败: %s", e.ProtocolType, e.Reason)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// NewBuildError 创建构建错误
func NewBuildError(protocolType, reason string) *BuildError {
	return &BuildError{ProtocolType: protocolType, Reason: reason}
}

// NewBuildErrorf 创建格式化的构建错误
func NewBuildErrorf(protocolType, format string, args ...interface{}) *BuildError {
	return &BuildError{ProtocolType: protocolType, Reason: fmt.Sprintf(format, args...)}
}
