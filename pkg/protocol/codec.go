package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"strings"
)

// Codec 厂商协议编解码器。Parse将原始帧转为规范化消息，
// Build将业务数据按消息类型重新编码为线缆字节。
// 两个方向都必须是纯函数：无共享可变状态，可并发调用。
type Codec interface {
	// ProtocolType 返回协议类型标识
	ProtocolType() string

	// Parse 解析原始帧。失败时返回*ParseError，绝不panic、绝不阻塞
	Parse(raw []byte, deviceID string) (*Message, error)

	// Build 按消息类型构建线缆字节。必填字段缺失返回*BuildError，
	// 失败时不产生部分输出
	Build(messageType string, businessData map[string]interface{}, deviceID string) ([]byte, error)
}

var hexPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// CleanHexString 去除十六进制字符串中的空白并校验格式
func CleanHexString(hexData string) (string, bool) {
	cleaned := strings.Join(strings.Fields(hexData), "")
	if cleaned == "" || len(cleaned)%2 != 0 || !hexPattern.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

// HexToBytes 十六进制字符串转字节数组
func HexToBytes(hexData string) ([]byte, error) {
	cleaned, ok := CleanHexString(hexData)
	if !ok {
		return nil, NewParseError("", "无效的十六进制数据格式")
	}
	return hex.DecodeString(cleaned)
}

// BytesToHex 字节数组转大写十六进制字符串
func BytesToHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// Sum16Checksum 计算16位累加校验和（与DNY系协议同族）：
// 所有字节求和，取低2字节小端
func Sum16Checksum(data []byte) []byte {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	checksum := make([]byte, 2)
	binary.LittleEndian.PutUint16(checksum, sum)
	return checksum
}

// SniffProtocolType 根据帧头魔数识别协议类型。
// 用于握手/注册阶段尚无会话时的路由判定
func SniffProtocolType(raw []byte) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}
	magic := binary.LittleEndian.Uint16(raw[:2])
	switch magic {
	case entropyMagic:
		return entropyProtocolType, true
	case zktecoMagic:
		return zktecoProtocolType, true
	default:
		return "", false
	}
}

// FrameLength 根据帧头计算完整帧长度，供TCP拆包使用。
// 返回0表示帧头尚不完整或魔数未知
func FrameLength(raw []byte) int {
	if len(raw) < 4 {
		return 0
	}
	magic := binary.LittleEndian.Uint16(raw[:2])
	switch magic {
	case entropyMagic, zktecoMagic:
		return int(binary.LittleEndian.Uint16(raw[2:4]))
	default:
		return 0
	}
}

// readFixedString 从定长字节区读取NUL/空格填充的字符串
func readFixedString(data []byte) string {
	end := len(data)
	for i, b := range data {
		if b == 0 {
			end = i
			break
		}
	}
	return strings.TrimSpace(string(data[:end]))
}

// writeFixedString 将字符串写入定长字节区，NUL填充，超长截断
func writeFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}
