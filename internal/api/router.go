package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/LJTian/ContentHub/internal/storage"
)

// Store 是只读接口依赖的存储能力，*storage.Store 满足该接口
type Store interface {
	Pinger
	ListSources(ctx context.Context) ([]storage.Source, error)
	ListContents(ctx context.Context, sourceID string, limit int) ([]storage.Content, error)
	LastRun(ctx context.Context) ([]byte, error)
}

type Server struct {
	inv      *Invoker
	store    Store
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func NewServer(inv *Invoker, store Store, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{inv: inv, store: store, gatherer: gatherer, log: log}
}

// NewEngine 组装 gin 引擎；user/pass 都非空时启用 Basic Auth
func NewEngine(s *Server, user, pass string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	if user != "" && pass != "" {
		r.Use(basicAuthMiddleware(user, pass, "/health", "/metrics"))
	}
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/collect", s.collectAll)
		v1.POST("/collect", s.collectAll)
		v1.GET("/collect/:type", s.collectType)
		v1.POST("/collect/:type", s.collectType)
		v1.GET("/runs/last", s.lastRun)
		v1.GET("/sources", s.listSources)
		v1.GET("/contents", s.listContents)
	}
}

func toRequest(c *gin.Context) Request {
	return Request{Query: c.Request.URL.Query(), Headers: c.Request.Header}
}

func writeResponse(c *gin.Context, resp Response) {
	c.JSON(resp.StatusCode, resp.Body)
}

func (s *Server) health(c *gin.Context) {
	writeResponse(c, s.inv.Health())
}

func (s *Server) collectAll(c *gin.Context) {
	writeResponse(c, s.inv.CollectAll(c.Request.Context(), toRequest(c)))
}

func (s *Server) collectType(c *gin.Context) {
	writeResponse(c, s.inv.CollectType(c.Request.Context(), c.Param("type"), toRequest(c)))
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func (s *Server) lastRun(c *gin.Context) {
	b, err := s.store.LastRun(c.Request.Context())
	if errors.Is(err, storage.ErrNoLastRun) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no run recorded yet"})
		return
	}
	if err != nil {
		s.log.Error("read last run failed", zap.Error(err))
		internalError(c)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

// sensitiveKeys 配置中包含这些片段的键在接口中打码
var sensitiveKeys = []string{"token", "secret", "password", "key"}

func redactConfig(cfg map[string]any) map[string]any {
	return lo.MapValues(cfg, func(v any, k string) any {
		lower := strings.ToLower(k)
		if lo.SomeBy(sensitiveKeys, func(s string) bool { return strings.Contains(lower, s) }) {
			return "***"
		}
		return v
	})
}

type sourceView struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Name           string         `json:"name"`
	Enabled        bool           `json:"enabled"`
	Config         map[string]any `json:"config"`
	SyncMetadata   map[string]any `json:"syncMetadata"`
	LastSync       *time.Time     `json:"lastSync"`
	LastSyncStatus string         `json:"lastSyncStatus"`
}

func (s *Server) listSources(c *gin.Context) {
	list, err := s.store.ListSources(c.Request.Context())
	if err != nil {
		s.log.Error("list sources failed", zap.Error(err))
		internalError(c)
		return
	}
	respondOK(c, lo.Map(list, func(src storage.Source, _ int) sourceView {
		return sourceView{
			ID:             src.ID,
			Type:           src.Type,
			Name:           src.Name,
			Enabled:        src.Enabled,
			Config:         redactConfig(src.Config),
			SyncMetadata:   src.SyncMetadata,
			LastSync:       src.LastSync,
			LastSyncStatus: string(src.LastSyncStatus),
		}
	}))
}

func (s *Server) listContents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	items, err := s.store.ListContents(c.Request.Context(), c.Query("source_id"), limit)
	if err != nil {
		s.log.Error("list contents failed", zap.Error(err))
		internalError(c)
		return
	}
	respondOK(c, items)
}

// requestLogger 用 zap 记录每个请求
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// basicAuthMiddleware 为整个站点增加一个简单的 Basic Auth 访问密码，exempt 中的路径免认证
func basicAuthMiddleware(user, pass string, exempt ...string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if lo.Contains(exempt, c.Request.URL.Path) {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
