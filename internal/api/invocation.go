package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/manager"
)

const serviceName = "content-collector"

// Request 是触发入口收到的请求，只关心查询参数与请求头
type Request struct {
	Query   url.Values
	Headers http.Header
}

// Response 是触发入口的统一返回：状态码 + JSON body
type Response struct {
	StatusCode int `json:"statusCode"`
	Body       any `json:"body"`
}

// Runner 是触发入口依赖的采集动作，*manager.Manager 满足该接口
type Runner interface {
	CollectAllSources(ctx context.Context) (manager.Report, error)
	CollectSourcesByType(ctx context.Context, sourceType string) (manager.Report, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Invoker 把一次请求适配为一次采集运行
type Invoker struct {
	runner Runner
	db     Pinger
	secret string
	log    *zap.Logger
	now    func() time.Time
}

// NewInvoker secret 为空时不校验触发密钥
func NewInvoker(runner Runner, db Pinger, secret string, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		runner: runner,
		db:     db,
		secret: secret,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// authorized 密钥可以放在查询参数 secret 或请求头 X-Cron-Secret 中
func (i *Invoker) authorized(req Request) bool {
	if i.secret == "" {
		return true
	}
	provided := req.Query.Get("secret")
	if h := req.Headers.Get("X-Cron-Secret"); h != "" {
		provided = h
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(i.secret)) == 1
}

func (i *Invoker) precheck(ctx context.Context, req Request) (Response, bool) {
	if !i.authorized(req) {
		return Response{StatusCode: http.StatusForbidden, Body: errorBody("Forbidden")}, false
	}
	if err := i.db.Ping(ctx); err != nil {
		i.log.Error("database ping failed", zap.Error(err))
		return Response{StatusCode: http.StatusInternalServerError, Body: errorBody("Database connection failed")}, false
	}
	return Response{}, true
}

// CollectAll 采集所有启用的数据源
func (i *Invoker) CollectAll(ctx context.Context, req Request) Response {
	if resp, ok := i.precheck(ctx, req); !ok {
		return resp
	}
	i.log.Info("collection triggered", zap.Time("at", i.now()))

	report, err := i.runner.CollectAllSources(ctx)
	if err != nil {
		i.log.Error("collection failed", zap.Error(err))
		return Response{StatusCode: http.StatusInternalServerError, Body: errorBody(err.Error())}
	}
	return Response{StatusCode: http.StatusOK, Body: report}
}

// CollectType 只采集某一类型的数据源，没有启用的该类型数据源时返回 404
func (i *Invoker) CollectType(ctx context.Context, sourceType string, req Request) Response {
	if resp, ok := i.precheck(ctx, req); !ok {
		return resp
	}
	i.log.Info("collection triggered", zap.String("type", sourceType), zap.Time("at", i.now()))

	report, err := i.runner.CollectSourcesByType(ctx, sourceType)
	if err != nil {
		i.log.Error("collection failed", zap.String("type", sourceType), zap.Error(err))
		return Response{StatusCode: http.StatusInternalServerError, Body: errorBody(err.Error())}
	}
	if len(report.SourceResults) == 0 {
		return Response{StatusCode: http.StatusNotFound, Body: errorBody(sourceType + " source not found or disabled")}
	}
	return Response{StatusCode: http.StatusOK, Body: report}
}

func (i *Invoker) Health() Response {
	return Response{
		StatusCode: http.StatusOK,
		Body: map[string]string{
			"status":    "healthy",
			"service":   serviceName,
			"timestamp": i.now().Format(time.RFC3339),
		},
	}
}
