package collector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// configString 读取字符串配置，非字符串类型按 %v 格式化
func configString(cfg map[string]any, key string) string {
	v, ok := cfg[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// configInt 读取整数配置，兼容 JSON 数字、字符串等形式；无法解析时返回默认值
func configInt(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// decodeSyncState 把存储层的无模式 map 解码为采集器内部的强类型状态
func decodeSyncState(raw map[string]any, v any) error {
	if len(raw) == 0 {
		return nil
	}
	bs, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(bs, v)
}

// mergeSyncState 在原状态的副本上写入新字段，未知字段原样保留
func mergeSyncState(original, updates map[string]any) map[string]any {
	if original == nil {
		original = map[string]any{}
	}
	return lo.Assign(original, updates)
}

// flexibleInt64 兼容数字或数字字符串形式的整数状态字段
type flexibleInt64 int64

func (f *flexibleInt64) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(b)), `"`))
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexibleInt64(n)
		return nil
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexibleInt64(x)
	return nil
}
