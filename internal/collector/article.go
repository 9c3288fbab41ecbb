package collector

import (
	"strings"
	"time"
)

// MaxContentLength 单篇内容入库的最大字符数（按 rune 计）
const MaxContentLength = 10000

// Article 是所有采集器统一产出的规范化条目
type Article struct {
	// ExternalID 由上游平台分配，仅在同一数据源内唯一
	ExternalID  string
	Title       string
	URL         *string
	Content     *string
	Author      *string
	PublishedAt *time.Time
	// Metadata 存放平台特有的附加字段（分数、标签、字数等），永远不为 nil
	Metadata map[string]any
}

// NewArticle 构造一条 Article，保证 Metadata 已初始化
func NewArticle(externalID, title string) Article {
	return Article{
		ExternalID: externalID,
		Title:      title,
		Metadata:   map[string]any{},
	}
}

// WithMetadata 合并附加字段，nil 值的 map 也会被初始化
func (a Article) WithMetadata(md map[string]any) Article {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any, len(md))
	}
	for k, v := range md {
		a.Metadata[k] = v
	}
	return a
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
