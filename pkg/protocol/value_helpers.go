package protocol

import "fmt"

// 业务数据字段取值辅助。业务层传入的map取值可能是解析结果的原生类型，
// 也可能是JSON反序列化产生的float64，构建前统一转换。

func asUint8(v interface{}) (uint8, bool) {
	switch n := v.(type) {
	case uint8:
		return n, true
	case int:
		if n >= 0 && n <= 0xFF {
			return uint8(n), true
		}
	case int64:
		if n >= 0 && n <= 0xFF {
			return uint8(n), true
		}
	case uint32:
		if n <= 0xFF {
			return uint8(n), true
		}
	case float64:
		if n >= 0 && n <= 0xFF && n == float64(uint8(n)) {
			return uint8(n), true
		}
	}
	return 0, false
}

func asUint16(v interface{}) (uint16, bool) {
	switch n := v.(type) {
	case uint16:
		return n, true
	case uint8:
		return uint16(n), true
	case int:
		if n >= 0 && n <= 0xFFFF {
			return uint16(n), true
		}
	case int64:
		if n >= 0 && n <= 0xFFFF {
			return uint16(n), true
		}
	case float64:
		if n >= 0 && n <= 0xFFFF && n == float64(uint16(n)) {
			return uint16(n), true
		}
	}
	return 0, false
}

func asInt16(v interface{}) (int16, bool) {
	switch n := v.(type) {
	case int16:
		return n, true
	case int:
		if n >= -32768 && n <= 32767 {
			return int16(n), true
		}
	case int64:
		if n >= -32768 && n <= 32767 {
			return int16(n), true
		}
	case float64:
		if n == float64(int16(n)) {
			return int16(n), true
		}
	}
	return 0, false
}

func asUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case uint16:
		return uint32(n), true
	case uint8:
		return uint32(n), true
	case int:
		if n >= 0 && int64(n) <= 0xFFFFFFFF {
			return uint32(n), true
		}
	case int64:
		if n >= 0 && n <= 0xFFFFFFFF {
			return uint32(n), true
		}
	case float64:
		if n >= 0 && n == float64(uint32(n)) {
			return uint32(n), true
		}
	}
	return 0, false
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}
