package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// TypeReadwise 注册表中的类型标识
const TypeReadwise = "readwise"

const (
	readwiseBaseURL       = "https://readwise.io/api/v3"
	readwiseMaxItems      = 1000 // 单次运行的安全上限，防止分页失控
	readwiseClientTimeout = 30 * time.Second
	readwiseHighlightSep  = "\n\n---\n\n"
)

// ReadwiseFetcher 通过 Readwise Reader API 分页采集文章
type ReadwiseFetcher struct {
	src     SourceConfig
	opts    Options
	baseURL string
	log     *zap.Logger
}

// readwiseSyncState 是 Readwise 采集器私有的同步状态。
// ResumeURL 非空表示上一轮在扫描中途停下（达到上限或分页失败），
// 下一轮从该页跳过前 ResumeOffset 条继续；整轮扫完后 LastSyncDate 才推进到 SweepStartedAt。
type readwiseSyncState struct {
	LastSyncDate     string        `json:"last_sync_date,omitempty"`
	LastArticleCount flexibleInt64 `json:"last_article_count,omitempty"`
	ResumeURL        string        `json:"resume_url,omitempty"`
	ResumeOffset     flexibleInt64 `json:"resume_offset,omitempty"`
	SweepStartedAt   string        `json:"sweep_started_at,omitempty"`
}

var readwiseResumeKeys = []string{"resume_url", "resume_offset", "sweep_started_at"}

type readwiseListResponse struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	// 逐条解码，单条字段类型异常不影响整页
	Results []json.RawMessage `json:"results"`
}

type readwiseDocument struct {
	ID              flexibleID          `json:"id"`
	URL             string              `json:"url"`
	ReaderURL       string              `json:"reader_url"`
	Title           *string             `json:"title"`
	Author          string              `json:"author"`
	Category        string              `json:"category"`
	Location        string              `json:"location"`
	Content         string              `json:"content"`
	Summary         string              `json:"summary"`
	PublishedDate   any                 `json:"published_date"`
	WordCount       *int                `json:"word_count"`
	ReadingProgress float64             `json:"reading_progress"`
	Tags            any                 `json:"tags"`
	Highlights      []readwiseHighlight `json:"highlights"`
}

type readwiseHighlight struct {
	Text string `json:"text"`
}

// flexibleID 兼容字符串或数字形式的 id
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// NewReadwiseCollector 是 readwise 类型的工厂
func NewReadwiseCollector(src SourceConfig, opts Options) (Collector, error) {
	opts = opts.withDefaults()
	return &ReadwiseFetcher{
		src:     src,
		opts:    opts,
		baseURL: strings.TrimRight(opts.baseURL(TypeReadwise, readwiseBaseURL), "/"),
		log:     opts.Logger.With(zap.String("source", src.Name), zap.String("type", TypeReadwise)),
	}, nil
}

func (r *ReadwiseFetcher) Type() string {
	return TypeReadwise
}

func (r *ReadwiseFetcher) ValidateConfig() error {
	if configString(r.src.Config, "api_token") == "" {
		return fmt.Errorf("%w: readwise: api_token is required", ErrInvalidConfig)
	}
	return nil
}

func (r *ReadwiseFetcher) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+configString(r.src.Config, "api_token"))
	return h
}

func (r *ReadwiseFetcher) TestConnection(ctx context.Context) error {
	code, err := probe(ctx, r.opts.HTTPClient, r.baseURL+"/auth/", r.authHeader())
	if err != nil {
		return fmt.Errorf("%w: readwise: %v", ErrConnectivity, err)
	}
	if code != http.StatusNoContent {
		return fmt.Errorf("%w: readwise: status %d", ErrConnectivity, code)
	}
	return nil
}

func (r *ReadwiseFetcher) limit() int {
	n := configInt(r.src.Config, "max_items", readwiseMaxItems)
	if n <= 0 || n > readwiseMaxItems {
		return readwiseMaxItems
	}
	return n
}

func (r *ReadwiseFetcher) firstPageURL(state readwiseSyncState) string {
	params := url.Values{}
	params.Set("category", "article")
	if loc := configString(r.src.Config, "location"); loc != "" {
		params.Set("location", loc)
	}
	if state.LastSyncDate != "" {
		params.Set("updated__gt", state.LastSyncDate)
	}
	return r.baseURL + "/list/?" + params.Encode()
}

// resolveNext 处理上游返回的相对 next 地址
func (r *ReadwiseFetcher) resolveNext(current string, next *string) string {
	if next == nil || strings.TrimSpace(*next) == "" {
		return ""
	}
	cur, err := url.Parse(current)
	if err != nil {
		return *next
	}
	ref, err := url.Parse(strings.TrimSpace(*next))
	if err != nil {
		return ""
	}
	return cur.ResolveReference(ref).String()
}

// readwiseSweep 是一次分页扫描的结果；resumeURL 非空表示扫描没有走完
type readwiseSweep struct {
	articles     []Article
	pages        int
	resumeURL    string
	resumeOffset int
}

// sweep 从 start 开始分页读取，最多 limit 篇，起始页跳过前 skip 条。
// 达到上限或某页失败时记下续读位置，返回的错误只表示扫描被中断。
func (r *ReadwiseFetcher) sweep(ctx context.Context, start string, skip, limit int) (readwiseSweep, error) {
	var (
		out    readwiseSweep
		header = r.authHeader()
		next   = start
	)
	for next != "" {
		if len(out.articles) >= limit {
			out.resumeURL = next
			return out, nil
		}

		var page readwiseListResponse
		if err := getJSON(ctx, r.opts.HTTPClient, next, readwiseClientTimeout, header, &page); err != nil {
			out.resumeURL, out.resumeOffset = next, skip
			return out, err
		}
		out.pages++

		for i, raw := range page.Results {
			if i < skip {
				continue
			}
			if len(out.articles) >= limit {
				out.resumeURL, out.resumeOffset = next, i
				return out, nil
			}
			var doc readwiseDocument
			if err := json.Unmarshal(raw, &doc); err != nil {
				r.log.Warn("skip unreadable document", zap.Int("page", out.pages), zap.Int("index", i), zap.Error(err))
				continue
			}
			if a, ok := r.toArticle(doc); ok {
				out.articles = append(out.articles, a)
			}
		}
		skip = 0
		next = r.resolveNext(next, page.Next)
	}
	return out, nil
}

// staleResumeURL 续读地址被上游拒绝（分页游标过期等），只能从 last_sync_date 重新扫
func staleResumeURL(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusUnauthorized && se.Code != http.StatusTooManyRequests
}

// Collect 按 updated__gt 增量分页拉取文章。
// 单次运行受 max_items 限制，扫描没走完时 last_sync_date 保持不动，只记录续读位置；
// 后续运行把整轮扫完后才把 last_sync_date 推进到这一轮扫描的开始时间。
// 一篇都没有拿到的新一轮扫描不改动同步状态。
func (r *ReadwiseFetcher) Collect(ctx context.Context) Result {
	startedAt := r.opts.Now().UTC().Format(time.RFC3339)
	limit := r.limit()

	var state readwiseSyncState
	if err := decodeSyncState(r.src.SyncMetadata, &state); err != nil {
		r.log.Warn("ignore unreadable sync metadata", zap.Error(err))
		state = readwiseSyncState{}
	}

	start, skip, sweepStartedAt := r.firstPageURL(state), 0, startedAt
	resuming := state.ResumeURL != ""
	if resuming {
		start, skip = state.ResumeURL, max(int(state.ResumeOffset), 0)
		if state.SweepStartedAt != "" {
			sweepStartedAt = state.SweepStartedAt
		}
	}

	r.log.Info("fetch Readwise Reader documents",
		zap.String("updated_after", state.LastSyncDate),
		zap.Bool("resuming", resuming),
		zap.Int("limit", limit))

	sw, err := r.sweep(ctx, start, skip, limit)
	if err != nil && sw.pages == 0 && resuming && staleResumeURL(err) {
		r.log.Warn("resume page rejected, restarting sweep", zap.String("resume_url", state.ResumeURL), zap.Error(err))
		sw, err = r.sweep(ctx, r.firstPageURL(state), 0, limit)
	}
	if err != nil {
		if sw.pages == 0 {
			r.log.Error("fetch from Readwise failed", zap.Error(err))
			return Failed(r.src.SyncMetadata, fmt.Errorf("%w: readwise: %v", ErrFetch, err))
		}
		r.log.Warn("pagination aborted, will resume from failed page", zap.Int("pages", sw.pages), zap.Error(err))
	}

	r.log.Info("collected articles from Readwise", zap.Int("count", len(sw.articles)), zap.Int("pages", sw.pages))

	if sw.resumeURL != "" {
		return Result{
			Articles: sw.articles,
			SyncMetadata: mergeSyncState(r.src.SyncMetadata, map[string]any{
				"resume_url":       sw.resumeURL,
				"resume_offset":    sw.resumeOffset,
				"sweep_started_at": sweepStartedAt,
			}),
		}
	}
	if len(sw.articles) == 0 && !resuming {
		return Result{Articles: sw.articles, SyncMetadata: r.src.SyncMetadata}
	}
	done := mergeSyncState(r.src.SyncMetadata, map[string]any{
		"last_sync_date":     sweepStartedAt,
		"last_article_count": len(sw.articles),
	})
	return Result{Articles: sw.articles, SyncMetadata: lo.OmitByKeys(done, readwiseResumeKeys)}
}

func (r *ReadwiseFetcher) toArticle(doc readwiseDocument) (Article, bool) {
	if doc.Category != "article" || doc.ID == "" {
		return Article{}, false
	}

	title := "Untitled"
	if doc.Title != nil {
		title = *doc.Title
	}

	a := NewArticle(string(doc.ID), title)
	a.URL = optionalString(doc.URL)
	a.Author = optionalString(doc.Author)
	a.Content = cleanContent(extractReadwiseContent(doc))
	a.PublishedAt = parsePublished(doc.PublishedDate)

	tags := doc.Tags
	if tags == nil {
		tags = []any{}
	}
	return a.WithMetadata(map[string]any{
		"readwise_url":     nilIfEmpty(doc.ReaderURL),
		"word_count":       doc.WordCount,
		"reading_progress": doc.ReadingProgress,
		"tags":             tags,
		"highlights_count": len(doc.Highlights),
		"summary":          nilIfEmpty(doc.Summary),
		"location":         nilIfEmpty(doc.Location),
	}), true
}

// extractReadwiseContent 正文优先，其次摘要，最后拼接高亮
func extractReadwiseContent(doc readwiseDocument) string {
	if strings.TrimSpace(doc.Content) != "" {
		return doc.Content
	}
	if strings.TrimSpace(doc.Summary) != "" {
		return doc.Summary
	}
	texts := lo.FilterMap(doc.Highlights, func(h readwiseHighlight, _ int) (string, bool) {
		return h.Text, strings.TrimSpace(h.Text) != ""
	})
	return strings.Join(texts, readwiseHighlightSep)
}

// parsePublished 兼容 ISO 字符串、纯日期以及毫秒/秒级时间戳
func parsePublished(v any) *time.Time {
	switch p := v.(type) {
	case string:
		if strings.TrimSpace(p) == "" {
			return nil
		}
		t, err := dateparse.ParseIn(strings.TrimSpace(p), time.UTC)
		if err != nil {
			return nil
		}
		return optionalTime(t)
	case float64:
		if p <= 0 {
			return nil
		}
		if p > 1e12 {
			return optionalTime(time.UnixMilli(int64(p)))
		}
		return optionalTime(time.Unix(int64(p), 0))
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
