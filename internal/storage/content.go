package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/LJTian/ContentHub/internal/processor"
)

const contentsCacheTTL = time.Minute

// Content 是已入库的文章，(source_id, external_id) 为自然键
type Content struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	SourceID    string            `gorm:"size:36;not null;uniqueIndex:idx_contents_source_external" json:"sourceId"`
	ExternalID  string            `gorm:"size:255;not null;uniqueIndex:idx_contents_source_external" json:"externalId"`
	Title       string            `gorm:"type:text" json:"title"`
	URL         *string           `gorm:"type:text" json:"url"`
	Content     *string           `gorm:"type:text" json:"content"`
	Author      *string           `gorm:"size:512" json:"author"`
	PublishedAt *time.Time        `gorm:"index" json:"publishedAt"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Content) TableName() string {
	return "contents"
}

// upsertColumns 冲突时整体替换的列，后写入者覆盖
var upsertColumns = []string{"title", "url", "content", "author", "published_at", "metadata", "updated_at"}

// UpsertContent 按 (source_id, external_id) 插入或替换一条内容，重复采集同一条目是幂等的
func (s *Store) UpsertContent(ctx context.Context, it processor.ProcessedContent) error {
	md := it.Metadata
	if md == nil {
		md = map[string]any{}
	}
	c := &Content{
		SourceID:    it.SourceID,
		ExternalID:  it.ExternalID,
		Title:       it.Title,
		URL:         it.URL,
		Content:     it.Content,
		Author:      it.Author,
		PublishedAt: it.PublishedAt,
		Metadata:    datatypes.JSONMap(md),
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("upsert content %s/%s: %w", it.SourceID, it.ExternalID, err)
	}
	return nil
}

// ListContents 按发布时间倒序返回内容，可按数据源过滤；结果在 redis 中缓存一分钟
func (s *Store) ListContents(ctx context.Context, sourceID string, limit int) ([]Content, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	cacheKey := fmt.Sprintf("contents:list:%s:%d", sourceID, limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Content
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	db := s.DB.WithContext(ctx).Model(&Content{})
	if sourceID != "" {
		db = db.Where("source_id = ?", sourceID)
	}
	var list []Content
	if err := db.Order("published_at DESC NULLS LAST").Order("id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			if err := s.Redis.Set(ctx, cacheKey, bs, contentsCacheTTL).Err(); err != nil {
				s.log.Debug("cache contents list failed", zap.Error(err))
			}
		}
	}
	return list, nil
}
