package collector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TypeHackerNews 注册表中的类型标识
const TypeHackerNews = "hackernews"

const (
	hnBaseURL         = "https://hacker-news.firebaseio.com/v0"
	hnItemWebBase     = "https://news.ycombinator.com/item?id="
	hnMaxIDs          = 500 // 无论配置如何，单次最多遍历的 ID 数
	hnDefaultMaxItems = 50
	hnClientTimeout   = 10 * time.Second
)

// hnFeeds 三个可选榜单
var hnFeeds = map[string]string{
	"new":  "newstories",
	"top":  "topstories",
	"best": "beststories",
}

// HackerNewsFetcher 通过官方 Firebase API 增量采集 Hacker News 故事
type HackerNewsFetcher struct {
	src     SourceConfig
	opts    Options
	baseURL string
	log     *zap.Logger
}

// hnSyncState 是 HN 采集器私有的同步状态
type hnSyncState struct {
	LastSyncUnix   *flexibleInt64 `json:"last_sync_unix,omitempty"`
	LastStoryCount flexibleInt64  `json:"last_story_count,omitempty"`
}

type hnItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Kids        []int  `json:"kids"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
	Deleted     bool   `json:"deleted"`
}

// NewHackerNewsCollector 是 hackernews 类型的工厂
func NewHackerNewsCollector(src SourceConfig, opts Options) (Collector, error) {
	opts = opts.withDefaults()
	return &HackerNewsFetcher{
		src:     src,
		opts:    opts,
		baseURL: strings.TrimRight(opts.baseURL(TypeHackerNews, hnBaseURL), "/"),
		log:     opts.Logger.With(zap.String("source", src.Name), zap.String("type", TypeHackerNews)),
	}, nil
}

func (h *HackerNewsFetcher) Type() string {
	return TypeHackerNews
}

// ValidateConfig 无需凭证，所有配置项均可选
func (h *HackerNewsFetcher) ValidateConfig() error {
	return nil
}

func (h *HackerNewsFetcher) TestConnection(ctx context.Context) error {
	code, err := probe(ctx, h.opts.HTTPClient, h.baseURL+"/maxitem.json", nil)
	if err != nil {
		return fmt.Errorf("%w: hackernews: %v", ErrConnectivity, err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("%w: hackernews: status %d", ErrConnectivity, code)
	}
	return nil
}

func (h *HackerNewsFetcher) listEndpoint() string {
	feed := strings.ToLower(configString(h.src.Config, "list"))
	if ep, ok := hnFeeds[feed]; ok {
		return ep
	}
	return hnFeeds["new"]
}

// Collect 遍历榜单，只保留发布时间晚于 last_sync_unix 的故事。
// 有结果时游标推进到结果中最新的发布时间；没有结果时推进到当前时间，
// 避免持续为空的榜单每次都回扫。
func (h *HackerNewsFetcher) Collect(ctx context.Context) Result {
	endpoint := h.listEndpoint()
	maxItems := configInt(h.src.Config, "max_items", hnDefaultMaxItems)
	if maxItems <= 0 {
		maxItems = hnDefaultMaxItems
	}
	maxItems = min(maxItems, hnMaxIDs)

	h.log.Info("fetch Hacker News stories", zap.String("list", endpoint), zap.Int("max_items", maxItems))

	ids, err := h.storyIDs(ctx, endpoint)
	if err != nil {
		h.log.Error("fetch story ids failed", zap.Error(err))
		return Failed(h.src.SyncMetadata, fmt.Errorf("%w: hackernews %s: %v", ErrFetch, endpoint, err))
	}

	var state hnSyncState
	if err := decodeSyncState(h.src.SyncMetadata, &state); err != nil {
		h.log.Warn("ignore unreadable sync metadata", zap.Error(err))
		state = hnSyncState{}
	}

	articles := make([]Article, 0, min(maxItems, len(ids)))
	for _, id := range ids {
		if len(articles) >= maxItems {
			break
		}
		if err := ctx.Err(); err != nil {
			return Failed(h.src.SyncMetadata, fmt.Errorf("%w: hackernews: %v", ErrFetch, err))
		}

		it, err := h.item(ctx, id)
		if err != nil {
			h.log.Warn("fetch item failed", zap.Int("id", id), zap.Error(err))
			continue
		}
		if it.ID == 0 || it.Deleted || it.Type != "story" {
			continue
		}
		// 增量：早于或等于游标的故事跳过
		if state.LastSyncUnix != nil && it.Time <= int64(*state.LastSyncUnix) {
			continue
		}

		articles = append(articles, h.toArticle(it))
	}

	updates := map[string]any{}
	if len(articles) > 0 {
		var maxTime int64
		for _, a := range articles {
			ts := h.opts.Now().Unix()
			if a.PublishedAt != nil {
				ts = a.PublishedAt.Unix()
			}
			if ts > maxTime {
				maxTime = ts
			}
		}
		updates["last_sync_unix"] = maxTime
		updates["last_story_count"] = len(articles)
	} else {
		updates["last_sync_unix"] = h.opts.Now().Unix()
	}

	h.log.Info("collected stories from Hacker News", zap.Int("count", len(articles)))
	return Result{
		Articles:     articles,
		SyncMetadata: mergeSyncState(h.src.SyncMetadata, updates),
	}
}

func (h *HackerNewsFetcher) storyIDs(ctx context.Context, endpoint string) ([]int, error) {
	var ids []int
	if err := getJSON(ctx, h.opts.HTTPClient, h.baseURL+"/"+endpoint+".json", hnClientTimeout, nil, &ids); err != nil {
		return nil, err
	}
	if len(ids) > hnMaxIDs {
		ids = ids[:hnMaxIDs]
	}
	return ids, nil
}

func (h *HackerNewsFetcher) item(ctx context.Context, id int) (hnItem, error) {
	var it hnItem
	url := fmt.Sprintf("%s/item/%d.json", h.baseURL, id)
	if err := getJSON(ctx, h.opts.HTTPClient, url, hnClientTimeout, nil, &it); err != nil {
		return hnItem{}, err
	}
	return it, nil
}

func (h *HackerNewsFetcher) toArticle(it hnItem) Article {
	permalink := hnItemWebBase + strconv.Itoa(it.ID)

	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = "Untitled"
	}
	itemURL := it.URL
	if itemURL == "" {
		itemURL = permalink
	}
	kids := it.Kids
	if kids == nil {
		kids = []int{}
	}

	a := NewArticle(strconv.Itoa(it.ID), title)
	a.URL = optionalString(itemURL)
	a.Author = optionalString(it.By)
	if it.Time > 0 {
		a.PublishedAt = optionalTime(time.Unix(it.Time, 0))
	}
	// HN 的 text 字段可能包含 HTML，统一转为纯文本
	a.Content = cleanContent(htmlToText(it.Text))

	return a.WithMetadata(map[string]any{
		"hn_id":        it.ID,
		"hn_permalink": permalink,
		"score":        it.Score,
		"comments":     it.Descendants,
		"kids":         kids,
		"source":       TypeHackerNews,
	})
}
