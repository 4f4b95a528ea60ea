package protocol

import (
	"encoding/binary"
)

// fieldReader 顺序读取载荷字段并保持字段顺序。
// 任一读取越界即记为载荷截断错误，后续读取全部短路。
type fieldReader struct {
	protocolType string
	data         []byte
	off          int
	fields       []Field
	err          error
}

func newFieldReader(protocolType string, data []byte) *fieldReader {
	return &fieldReader{protocolType: protocolType, data: data}
}

func (r *fieldReader) take(n int, key string) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = NewParseErrorf(r.protocolType,
			"载荷截断: 字段 %s 需要 %d 字节, 剩余 %d", key, n, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *fieldReader) uint8(key string) uint8 {
	b := r.take(1, key)
	if b == nil {
		return 0
	}
	v := b[0]
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

func (r *fieldReader) uint16(key string) uint16 {
	b := r.take(2, key)
	if b == nil {
		return 0
	}
	v := binary.LittleEndian.Uint16(b)
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

func (r *fieldReader) int16(key string) int16 {
	b := r.take(2, key)
	if b == nil {
		return 0
	}
	v := int16(binary.LittleEndian.Uint16(b))
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

func (r *fieldReader) uint32(key string) uint32 {
	b := r.take(4, key)
	if b == nil {
		return 0
	}
	v := binary.LittleEndian.Uint32(b)
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

func (r *fieldReader) int64(key string) int64 {
	b := r.take(8, key)
	if b == nil {
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(b))
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

func (r *fieldReader) fixedString(key string, n int) string {
	b := r.take(n, key)
	if b == nil {
		return ""
	}
	v := readFixedString(b)
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

// varString 变长字符串: 2字节长度前缀 + 内容
func (r *fieldReader) varString(key string) string {
	lb := r.take(2, key)
	if lb == nil {
		return ""
	}
	n := int(binary.LittleEndian.Uint16(lb))
	b := r.take(n, key)
	if b == nil {
		return ""
	}
	v := string(b)
	r.fields = append(r.fields, Field{Key: key, Value: v})
	return v
}

// derived 追加解析派生字段（如类型名称），不参与重新编码
func (r *fieldReader) derived(key string, value interface{}) {
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

func (r *fieldReader) finish() ([]Field, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.fields, nil
}

// fieldWriter 按解析时的字段顺序重新编码载荷。
// 必填字段缺失或类型无法转换记为构建错误，finish时统一返回，
// 保证失败时不输出部分数据。
type fieldWriter struct {
	protocolType string
	data         map[string]interface{}
	buf          []byte
	err          error
}

func newFieldWriter(protocolType string, data map[string]interface{}) *fieldWriter {
	return &fieldWriter{protocolType: protocolType, data: data}
}

func (w *fieldWriter) value(key string) (interface{}, bool) {
	if w.err != nil {
		return nil, false
	}
	v, ok := w.data[key]
	if !ok {
		w.err = NewBuildErrorf(w.protocolType, "缺少必填业务字段: %s", key)
		return nil, false
	}
	return v, true
}

func (w *fieldWriter) fail(key string) {
	w.err = NewBuildErrorf(w.protocolType, "业务字段无法序列化: %s", key)
}

func (w *fieldWriter) uint8(key string) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	n, ok := asUint8(v)
	if !ok {
		w.fail(key)
		return
	}
	w.buf = append(w.buf, n)
}

func (w *fieldWriter) uint16(key string) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	n, ok := asUint16(v)
	if !ok {
		w.fail(key)
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, n)
}

func (w *fieldWriter) int16(key string) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	n, ok := asInt16(v)
	if !ok {
		w.fail(key)
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(n))
}

func (w *fieldWriter) uint32(key string) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	n, ok := asUint32(v)
	if !ok {
		w.fail(key)
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, n)
}

func (w *fieldWriter) int64(key string) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	n, ok := asInt64(v)
	if !ok {
		w.fail(key)
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(n))
}

func (w *fieldWriter) fixedString(key string, n int) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	s, ok := asString(v)
	if !ok {
		w.fail(key)
		return
	}
	if len(s) > n {
		w.err = NewBuildErrorf(w.protocolType, "字段 %s 超过定长 %d: %d", key, n, len(s))
		return
	}
	fixed := make([]byte, n)
	writeFixedString(fixed, s)
	w.buf = append(w.buf, fixed...)
}

func (w *fieldWriter) varString(key string) {
	v, ok := w.value(key)
	if !ok {
		return
	}
	s, ok := asString(v)
	if !ok {
		w.fail(key)
		return
	}
	if len(s) > 0xFFFF {
		w.err = NewBuildErrorf(w.protocolType, "字段 %s 超过变长上限: %d", key, len(s))
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *fieldWriter) finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}
