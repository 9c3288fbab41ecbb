package collector

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Factory 根据数据源记录构造采集器
type Factory func(src SourceConfig, opts Options) (Collector, error)

// Registry 数据源类型到采集器实现的静态映射，进程启动时注册
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry 注册当前支持的所有数据源类型
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeReadwise, NewReadwiseCollector)
	r.Register(TypeHackerNews, NewHackerNewsCollector)
	return r
}

// Register 注册或覆盖某个类型的工厂
func (r *Registry) Register(sourceType string, f Factory) {
	r.factories[sourceType] = f
}

// Lookup 返回类型对应的工厂，不存在时返回 ErrUnknownSourceType
func (r *Registry) Lookup(sourceType string) (Factory, error) {
	f, ok := r.factories[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	return f, nil
}

// Build 查找并构造采集器
func (r *Registry) Build(src SourceConfig, opts Options) (Collector, error) {
	f, err := r.Lookup(src.Type)
	if err != nil {
		return nil, err
	}
	return f(src, opts.withDefaults())
}

// Types 返回已注册的类型（排序后）
func (r *Registry) Types() []string {
	out := lo.Keys(r.factories)
	sort.Strings(out)
	return out
}
