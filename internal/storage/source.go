package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncStatus 数据源最近一次同步的结果
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// Source 描述一个已配置的数据源：平台类型 + 凭证 + 选项 + 同步状态
type Source struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	Type    string `gorm:"size:64;index;uniqueIndex:idx_sources_type_name" json:"type"`
	Name    string `gorm:"size:128;uniqueIndex:idx_sources_type_name" json:"name"`
	Enabled bool   `gorm:"index" json:"enabled"`
	// Config 平台凭证与选项，由对应采集器解释
	Config datatypes.JSONMap `gorm:"type:jsonb" json:"config"`
	// SyncMetadata 采集器私有的增量状态，这里只负责原样读写
	SyncMetadata   datatypes.JSONMap `gorm:"type:jsonb" json:"syncMetadata"`
	LastSync       *time.Time        `json:"lastSync"`
	LastSyncStatus SyncStatus        `gorm:"size:16" json:"lastSyncStatus"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Source) TableName() string {
	return "sources"
}

// ListEnabledSources 返回所有启用的数据源，按创建时间排序
func (s *Store) ListEnabledSources(ctx context.Context) ([]Source, error) {
	var list []Source
	err := s.DB.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	return list, nil
}

// ListEnabledSourcesByType 返回某一类型下启用的数据源
func (s *Store) ListEnabledSourcesByType(ctx context.Context, sourceType string) ([]Source, error) {
	var list []Source
	err := s.DB.WithContext(ctx).
		Where("enabled = ? AND type = ?", true, sourceType).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled %s sources: %w", sourceType, err)
	}
	return list, nil
}

// ListSources 返回全部数据源（含禁用的）
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	var list []Source
	if err := s.DB.WithContext(ctx).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return list, nil
}

// MarkSyncSuccess 写回同步时间、状态与采集器返回的新同步状态
func (s *Store) MarkSyncSuccess(ctx context.Context, id string, at time.Time, syncMetadata map[string]any) error {
	if syncMetadata == nil {
		syncMetadata = map[string]any{}
	}
	err := s.DB.WithContext(ctx).Model(&Source{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_sync":        at.UTC(),
			"last_sync_status": string(SyncSuccess),
			"sync_metadata":    datatypes.JSONMap(syncMetadata),
		}).Error
	if err != nil {
		return fmt.Errorf("mark source %s synced: %w", id, err)
	}
	return nil
}

// MarkSyncFailed 只记录失败时间与状态，sync_metadata 保持不变
func (s *Store) MarkSyncFailed(ctx context.Context, id string, at time.Time) error {
	err := s.DB.WithContext(ctx).Model(&Source{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_sync":        at.UTC(),
			"last_sync_status": string(SyncFailed),
		}).Error
	if err != nil {
		return fmt.Errorf("mark source %s failed: %w", id, err)
	}
	return nil
}

// EnsureSource 按 (type, name) 新建或更新数据源的启用状态与配置，
// 已有的同步状态不会被覆盖。返回值 created 表示是否为新建。
func (s *Store) EnsureSource(ctx context.Context, src Source) (*Source, bool, error) {
	existing := &Source{}
	err := s.DB.WithContext(ctx).
		Where("type = ? AND name = ?", src.Type, src.Name).
		First(existing).Error

	switch {
	case err == nil:
		err = s.DB.WithContext(ctx).Model(existing).Updates(map[string]any{
			"enabled": src.Enabled,
			"config":  src.Config,
		}).Error
		if err != nil {
			return nil, false, fmt.Errorf("update source %s/%s: %w", src.Type, src.Name, err)
		}
		existing.Enabled = src.Enabled
		existing.Config = src.Config
		return existing, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if src.ID == "" {
			src.ID = uuid.NewString()
		}
		if src.Config == nil {
			src.Config = datatypes.JSONMap{}
		}
		if src.SyncMetadata == nil {
			src.SyncMetadata = datatypes.JSONMap{}
		}
		if err := s.DB.WithContext(ctx).Create(&src).Error; err != nil {
			return nil, false, fmt.Errorf("create source %s/%s: %w", src.Type, src.Name, err)
		}
		return &src, true, nil
	default:
		return nil, false, fmt.Errorf("find source %s/%s: %w", src.Type, src.Name, err)
	}
}
