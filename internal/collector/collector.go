package collector

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownSourceType 注册表中没有对应类型的采集器
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrInvalidConfig 缺少必填配置，在任何网络请求之前失败
	ErrInvalidConfig = errors.New("invalid source configuration")
	// ErrConnectivity 连通性探测失败，仅记录告警
	ErrConnectivity = errors.New("connection test failed")
	// ErrFetch 采集过程中的网络或解析错误
	ErrFetch = errors.New("fetch failed")
)

// SourceConfig 是构造采集器所需的数据源记录
type SourceConfig struct {
	ID   string
	Name string
	Type string
	// Config 平台凭证与选项，由采集器自行解释
	Config map[string]any
	// SyncMetadata 采集器私有的增量同步状态，管理器只负责原样透传
	SyncMetadata map[string]any
}

// Result 是一次 Collect 的结果。
// Err 非 nil 时 Articles 为空、SyncMetadata 为调用前的原值。
type Result struct {
	Articles     []Article
	SyncMetadata map[string]any
	Err          error
}

// Failed 构造一个失败结果，保留原同步状态
func Failed(original map[string]any, err error) Result {
	return Result{SyncMetadata: original, Err: err}
}

// Collector 抽象每一种数据源
type Collector interface {
	// Type 返回注册表中的类型标识
	Type() string
	// ValidateConfig 只检查必填配置是否存在，不做网络请求
	ValidateConfig() error
	// TestConnection 尽力探测上游可用性，失败不影响采集
	TestConnection(ctx context.Context) error
	// Collect 拉取并规范化新条目，不写存储
	Collect(ctx context.Context) Result
}

// Options 是构造采集器时注入的依赖
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
	// BaseURLs 按数据源类型覆盖上游 API 地址，主要用于测试
	BaseURLs map[string]string
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func (o Options) baseURL(sourceType, def string) string {
	if u, ok := o.BaseURLs[sourceType]; ok && u != "" {
		return u
	}
	return def
}
