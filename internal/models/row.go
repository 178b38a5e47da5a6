package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Row 行快照：列名 → 值 的有序映射，保留插入顺序
// nil *Row 表示该侧记录不存在
type Row struct {
	keys []string
	vals map[string]Value
}

// NewRow 创建空行
func NewRow() *Row {
	return &Row{vals: make(map[string]Value)}
}

// RowOf 按 key, value 交替参数构造行，便于测试与调用方拼装
func RowOf(pairs ...interface{}) *Row {
	if len(pairs)%2 != 0 {
		panic("models.RowOf: odd number of arguments")
	}
	r := NewRow()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("models.RowOf: key at %d is %T, want string", i, pairs[i]))
		}
		r.Set(key, FromAny(pairs[i+1]))
	}
	return r
}

// RowFromMap 从普通 map 构造行（Go map 无序，列按名称排序）
func RowFromMap(m map[string]interface{}) *Row {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := NewRow()
	for _, k := range keys {
		r.Set(k, FromAny(m[k]))
	}
	return r
}

// Len 列数
func (r *Row) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys 列名（按顺序）
func (r *Row) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get 读取列值
func (r *Row) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.vals[key]
	return v, ok
}

// Has 列是否存在
func (r *Row) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Set 写入列值；已存在的列保持原位置
func (r *Row) Set(key string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
}

// Delete 删除列
func (r *Row) Delete(key string) {
	if r == nil {
		return
	}
	if _, ok := r.vals[key]; !ok {
		return
	}
	delete(r.vals, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Range 按顺序遍历，fn 返回 false 时停止
func (r *Row) Range(fn func(key string, v Value) bool) {
	if r == nil {
		return
	}
	for _, k := range r.keys {
		if !fn(k, r.vals[k]) {
			return
		}
	}
}

// Clone 深拷贝；nil 返回 nil
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	out := &Row{
		keys: make([]string, len(r.keys)),
		vals: make(map[string]Value, len(r.vals)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.vals {
		out.vals[k] = v.Clone()
	}
	return out
}

// Equal 内容相等（不比较列顺序）
func (r *Row) Equal(o *Row) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	if len(r.vals) != len(o.vals) {
		return false
	}
	for k, v := range r.vals {
		ov, ok := o.vals[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON 按列顺序输出 JSON 对象；nil 行输出 null
func (r *Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.vals[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 解析 JSON 对象并保留键顺序
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a json object, got %v", tok)
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// decodeObject 读取 '{' 之后的键值对直至 '}'
func decodeObject(dec *json.Decoder) (*Row, error) {
	row := NewRow()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		row.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return row, nil
}

// ParseRow 解析 JSON；"null" 或空输入返回 nil 行
func ParseRow(data []byte) (*Row, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	row := NewRow()
	if err := row.UnmarshalJSON(trimmed); err != nil {
		return nil, err
	}
	return row, nil
}

// SerializeRow 序列化快照用于审计存储；nil 行返回 nil
func SerializeRow(r *Row) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return r.MarshalJSON()
}
