package processor

import (
	"strings"
	"time"

	"github.com/LJTian/ContentHub/internal/collector"
)

// MaxTitleLength 标题入库的最大字符数
const MaxTitleLength = 1024

// ProcessedContent 是写入存储层前的统一结构，对应 contents 表的一行
type ProcessedContent struct {
	SourceID    string
	ExternalID  string
	Title       string
	URL         *string
	Content     *string
	Author      *string
	PublishedAt *time.Time
	Metadata    map[string]any
}

// SimpleProcessor 做入库前的基础清洗：去重、UTF-8 修复、长度保护
type SimpleProcessor struct{}

func NewSimpleProcessor() *SimpleProcessor {
	return &SimpleProcessor{}
}

// Process 将一个数据源本轮采集到的文章转为待入库记录。
// 同一批次内 ExternalID 重复时保留第一条。
func (p *SimpleProcessor) Process(sourceID string, items []collector.Article) []ProcessedContent {
	out := make([]ProcessedContent, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		id := strings.TrimSpace(it.ExternalID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		md := it.Metadata
		if md == nil {
			md = map[string]any{}
		}

		var published *time.Time
		if it.PublishedAt != nil {
			t := it.PublishedAt.UTC()
			published = &t
		}

		out = append(out, ProcessedContent{
			SourceID:    sourceID,
			ExternalID:  id,
			Title:       collector.TruncateRunes(toValidUTF8(strings.TrimSpace(it.Title)), MaxTitleLength),
			URL:         cleanOptional(it.URL, 0),
			Content:     cleanOptional(it.Content, collector.MaxContentLength),
			Author:      cleanOptional(it.Author, 0),
			PublishedAt: published,
			Metadata:    md,
		})
	}

	return out
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// cleanOptional 修复编码并按需截断，空串视为缺失；limit <= 0 表示不截断
func cleanOptional(s *string, limit int) *string {
	if s == nil {
		return nil
	}
	v := toValidUTF8(*s)
	if limit > 0 {
		v = collector.TruncateRunes(v, limit)
	}
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
