package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/LJTian/ContentHub/internal/collector"
	"github.com/LJTian/ContentHub/internal/storage"
)

type seedFile struct {
	Sources []seedSource `yaml:"sources"`
}

type seedSource struct {
	Type    string         `yaml:"type"`
	Name    string         `yaml:"name"`
	Enabled *bool          `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// parseSeed 解析数据源 YAML，解析前先展开 ${VAR} 形式的环境变量
func parseSeed(data []byte, getenv func(string) string, registry *collector.Registry) ([]storage.Source, error) {
	var f seedFile
	if err := yaml.Unmarshal([]byte(os.Expand(string(data), getenv)), &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, errors.New("sources file defines no sources")
	}

	out := make([]storage.Source, 0, len(f.Sources))
	for i, s := range f.Sources {
		s.Type = strings.TrimSpace(s.Type)
		s.Name = strings.TrimSpace(s.Name)
		if s.Type == "" || s.Name == "" {
			return nil, fmt.Errorf("source #%d: type and name are required", i+1)
		}
		if _, err := registry.Lookup(s.Type); err != nil {
			return nil, fmt.Errorf("source %q: %w", s.Name, err)
		}
		enabled := true
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		cfg := s.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		out = append(out, storage.Source{
			Type:    s.Type,
			Name:    s.Name,
			Enabled: enabled,
			Config:  datatypes.JSONMap(cfg),
		})
	}
	return out, nil
}

// defaultSeed 未提供文件时使用的内置数据源
func defaultSeed(getenv func(string) string) []storage.Source {
	return []storage.Source{
		{
			Type:    collector.TypeReadwise,
			Name:    "Readwise Reader",
			Enabled: true,
			Config: datatypes.JSONMap{
				"api_token": getenv("READWISE_TOKEN"),
				"location":  "feed",
				"max_items": envInt(getenv, "READER_FEED_MAX_ITEMS", 100),
			},
		},
		{
			Type:    collector.TypeHackerNews,
			Name:    "Hacker News",
			Enabled: true,
			Config: datatypes.JSONMap{
				"list":      envOr(getenv, "HN_LIST", "top"),
				"max_items": envInt(getenv, "HN_MAX_ITEMS", 50),
			},
		},
	}
}

func envOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(getenv(key)))
	if err != nil {
		return def
	}
	return n
}
