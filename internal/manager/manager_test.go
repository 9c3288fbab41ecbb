package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/LJTian/ContentHub/internal/collector"
	"github.com/LJTian/ContentHub/internal/metrics"
	"github.com/LJTian/ContentHub/internal/processor"
	"github.com/LJTian/ContentHub/internal/storage"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// memStore 是 sources/contents 两张表的内存实现
type memStore struct {
	mu         sync.Mutex
	sources    []storage.Source
	contents   map[string]processor.ProcessedContent
	failUpsert map[string]bool
	listErr    error
	upserts    int
}

func newMemStore(sources ...storage.Source) *memStore {
	return &memStore{
		sources:    sources,
		contents:   map[string]processor.ProcessedContent{},
		failUpsert: map[string]bool{},
	}
}

func (s *memStore) ListEnabledSources(ctx context.Context) ([]storage.Source, error) {
	return s.ListEnabledSourcesByType(ctx, "")
}

func (s *memStore) ListEnabledSourcesByType(_ context.Context, sourceType string) ([]storage.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []storage.Source
	for _, src := range s.sources {
		if src.Enabled && (sourceType == "" || src.Type == sourceType) {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *memStore) MarkSyncSuccess(_ context.Context, id string, at time.Time, md map[string]any) error {
	return s.update(id, func(src *storage.Source) {
		src.LastSync = &at
		src.LastSyncStatus = storage.SyncSuccess
		src.SyncMetadata = datatypes.JSONMap(md)
	})
}

func (s *memStore) MarkSyncFailed(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(src *storage.Source) {
		src.LastSync = &at
		src.LastSyncStatus = storage.SyncFailed
	})
}

func (s *memStore) update(id string, fn func(*storage.Source)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sources {
		if s.sources[i].ID == id {
			fn(&s.sources[i])
			return nil
		}
	}
	return fmt.Errorf("source %s not found", id)
}

func (s *memStore) UpsertContent(_ context.Context, it processor.ProcessedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert[it.ExternalID] {
		return errors.New("constraint violation")
	}
	s.upserts++
	s.contents[it.SourceID+"/"+it.ExternalID] = it
	return nil
}

func (s *memStore) source(id string) storage.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.ID == id {
			return src
		}
	}
	return storage.Source{}
}

type busyLocker struct {
	busy     map[string]bool
	err      error
	released []string
}

func (l *busyLocker) AcquireSourceLock(_ context.Context, id string, _ time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy[id] {
		return nil, false, nil
	}
	return func() { l.released = append(l.released, id) }, true, nil
}

type captureSink struct {
	last []byte
}

func (c *captureSink) CacheLastRun(_ context.Context, b []byte) error {
	c.last = b
	return nil
}

// stubCollector 返回预设结果，用于覆盖管理器自身的分支
type stubCollector struct {
	validateErr error
	probeErr    error
	result      func(src collector.SourceConfig) collector.Result
	calls       *int
	src         collector.SourceConfig
}

func (s *stubCollector) Type() string          { return "stub" }
func (s *stubCollector) ValidateConfig() error { return s.validateErr }
func (s *stubCollector) TestConnection(context.Context) error {
	return s.probeErr
}
func (s *stubCollector) Collect(context.Context) collector.Result {
	if s.calls != nil {
		*s.calls++
	}
	return s.result(s.src)
}

func stubRegistry(tmpl stubCollector) *collector.Registry {
	r := collector.NewRegistry()
	r.Register("stub", func(src collector.SourceConfig, _ collector.Options) (collector.Collector, error) {
		c := tmpl
		c.src = src
		return &c, nil
	})
	return r
}

func articles(ids ...string) []collector.Article {
	out := make([]collector.Article, 0, len(ids))
	for _, id := range ids {
		out = append(out, collector.NewArticle(id, "title "+id))
	}
	return out
}

func source(id, typ, name string, cfg, sync map[string]any) storage.Source {
	return storage.Source{
		ID:           id,
		Type:         typ,
		Name:         name,
		Enabled:      true,
		Config:       datatypes.JSONMap(cfg),
		SyncMetadata: datatypes.JSONMap(sync),
	}
}

func newManager(store Store, registry *collector.Registry, opts Options) *Manager {
	opts.Now = func() time.Time { return fixedNow }
	return New(store, registry, opts)
}

// fakeHackerNews 提供两个故事：时间 2000 与 3000
func fakeHackerNews(t *testing.T) *httptest.Server {
	t.Helper()
	items := map[string]string{
		"/item/1.json": `{"id":1,"type":"story","title":"First","url":"https://example.com/1","by":"alice","time":2000,"score":10}`,
		"/item/2.json": `{"id":2,"type":"story","title":"Second","text":"<p>hello</p>","by":"bob","time":3000,"score":5}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/maxitem.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`2`))
	})
	mux.HandleFunc("/newstories.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[2,1]`))
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := items[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// unreachableURL 返回一个已关闭服务的地址，请求会直接连接失败
func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestCollectAllSourcesIsolatesFailingSource(t *testing.T) {
	hn := fakeHackerNews(t)
	store := newMemStore(
		source("hn", collector.TypeHackerNews, "Hacker News", map[string]any{"list": "new"},
			map[string]any{"last_sync_unix": 1000}),
		source("rw", collector.TypeReadwise, "Readwise Reader", map[string]any{"api_token": "tok"},
			map[string]any{"last_sync_date": "2024-04-01T00:00:00Z"}),
	)
	sink := &captureSink{}

	m := newManager(store, collector.DefaultRegistry(), Options{
		Collector: collector.Options{BaseURLs: map[string]string{
			collector.TypeHackerNews: hn.URL,
			collector.TypeReadwise:   unreachableURL(t),
		}},
		Sink: sink,
	})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 2, report.TotalArticles)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Failed to collect from Readwise Reader")
	assert.True(t, report.HasErrors())
	assert.Equal(t, []string{"Readwise Reader"}, report.Failed())

	require.Len(t, report.SourceResults, 2)
	assert.Equal(t, StatusSuccess, report.SourceResults[0].Status)
	assert.Equal(t, 2, report.SourceResults[0].ArticlesCollected)
	assert.Nil(t, report.SourceResults[0].Error)
	assert.Equal(t, StatusFailed, report.SourceResults[1].Status)
	require.NotNil(t, report.SourceResults[1].Error)

	hnSrc := store.source("hn")
	assert.Equal(t, storage.SyncSuccess, hnSrc.LastSyncStatus)
	assert.EqualValues(t, 3000, hnSrc.SyncMetadata["last_sync_unix"])
	assert.EqualValues(t, 2, hnSrc.SyncMetadata["last_story_count"])

	rwSrc := store.source("rw")
	assert.Equal(t, storage.SyncFailed, rwSrc.LastSyncStatus)
	assert.Equal(t, "2024-04-01T00:00:00Z", rwSrc.SyncMetadata["last_sync_date"])
	require.NotNil(t, rwSrc.LastSync)

	stored, ok := store.contents["hn/2"]
	require.True(t, ok)
	require.NotNil(t, stored.Content)
	assert.Equal(t, "hello", *stored.Content)

	var cached map[string]any
	require.NoError(t, json.Unmarshal(sink.last, &cached))
	assert.EqualValues(t, 1, cached["sources_processed"])
	assert.Equal(t, report.RunID, cached["run_id"])
}

func TestRerunAdvancesHackerNewsCursorToNow(t *testing.T) {
	hn := fakeHackerNews(t)
	store := newMemStore(source("hn", collector.TypeHackerNews, "Hacker News", nil,
		map[string]any{"last_sync_unix": 3000}))

	m := newManager(store, collector.DefaultRegistry(), Options{
		Collector: collector.Options{BaseURLs: map[string]string{collector.TypeHackerNews: hn.URL}},
	})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 0, report.TotalArticles)
	assert.Empty(t, store.contents)

	hnSrc := store.source("hn")
	assert.Equal(t, storage.SyncSuccess, hnSrc.LastSyncStatus)
	assert.EqualValues(t, fixedNow.Unix(), hnSrc.SyncMetadata["last_sync_unix"])
}

func TestUnknownSourceTypeFailsOnlyThatSource(t *testing.T) {
	store := newMemStore(
		source("x", "rss", "Some Feed", nil, nil),
		source("s", "stub", "Stub", nil, nil),
	)
	m := newManager(store, stubRegistry(stubCollector{
		result: func(src collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a"), SyncMetadata: map[string]any{"n": 1}}
		},
	}), Options{})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Failed to collect from Some Feed")
	assert.Contains(t, report.Errors[0], "unknown source type")
	assert.Equal(t, storage.SyncFailed, store.source("x").LastSyncStatus)
	assert.Equal(t, storage.SyncSuccess, store.source("s").LastSyncStatus)
}

func TestInvalidConfigSkipsCollect(t *testing.T) {
	calls := 0
	store := newMemStore(source("s", "stub", "Stub", nil, map[string]any{"cursor": "keep"}))
	m := newManager(store, stubRegistry(stubCollector{
		validateErr: fmt.Errorf("%w: token missing", collector.ErrInvalidConfig),
		calls:       &calls,
	}), Options{})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, report.SourcesProcessed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "invalid source configuration")

	src := store.source("s")
	assert.Equal(t, storage.SyncFailed, src.LastSyncStatus)
	assert.Equal(t, "keep", src.SyncMetadata["cursor"])
}

func TestConnectionProbeFailureIsNotFatal(t *testing.T) {
	store := newMemStore(source("s", "stub", "Stub", nil, nil))
	m := newManager(store, stubRegistry(stubCollector{
		probeErr: collector.ErrConnectivity,
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a", "b"), SyncMetadata: map[string]any{}}
		},
	}), Options{})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 2, report.TotalArticles)
}

func TestCollectErrorLeavesSyncMetadataUntouched(t *testing.T) {
	store := newMemStore(source("s", "stub", "Stub", nil, map[string]any{"cursor": "c1"}))
	m := newManager(store, stubRegistry(stubCollector{
		result: func(src collector.SourceConfig) collector.Result {
			return collector.Failed(src.SyncMetadata, fmt.Errorf("%w: timeout", collector.ErrFetch))
		},
	}), Options{})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalArticles)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "fetch failed")

	src := store.source("s")
	assert.Equal(t, storage.SyncFailed, src.LastSyncStatus)
	assert.Equal(t, "c1", src.SyncMetadata["cursor"])
}

func TestCollectorPanicFailsOnlyThatSource(t *testing.T) {
	store := newMemStore(
		source("boom", "stub", "Boom", nil, map[string]any{"cursor": "c1"}),
		source("fine", "stub", "Fine", nil, nil),
	)
	m := newManager(store, stubRegistry(stubCollector{
		result: func(src collector.SourceConfig) collector.Result {
			if src.ID == "boom" {
				panic("unexpected upstream payload")
			}
			return collector.Result{Articles: articles("a"), SyncMetadata: map[string]any{"n": 1}}
		},
	}), Options{})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 1, report.TotalArticles)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Failed to collect from Boom: collector panicked")

	boom := store.source("boom")
	assert.Equal(t, storage.SyncFailed, boom.LastSyncStatus)
	assert.Equal(t, "c1", boom.SyncMetadata["cursor"])
	assert.Equal(t, storage.SyncSuccess, store.source("fine").LastSyncStatus)
}

func TestPersistFailureSkipsOnlyThatArticle(t *testing.T) {
	store := newMemStore(source("s", "stub", "Stub", nil, nil))
	store.failUpsert["b"] = true
	m := newManager(store, stubRegistry(stubCollector{
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a", "b", "c"), SyncMetadata: map[string]any{"n": 3}}
		},
	}), Options{})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.SourcesProcessed)
	assert.Equal(t, 2, report.TotalArticles)
	assert.Equal(t, 2, report.SourceResults[0].ArticlesCollected)
	assert.Empty(t, report.Errors)
	assert.Len(t, store.contents, 2)
	assert.EqualValues(t, 3, store.source("s").SyncMetadata["n"])
}

func TestRecollectionIsIdempotent(t *testing.T) {
	store := newMemStore(source("s", "stub", "Stub", nil, nil))
	title := "first"
	m := newManager(store, stubRegistry(stubCollector{
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{
				Articles:     []collector.Article{collector.NewArticle("42", title)},
				SyncMetadata: map[string]any{},
			}
		},
	}), Options{})

	_, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)
	title = "second"
	_, err = m.CollectAllSources(context.Background())
	require.NoError(t, err)

	require.Len(t, store.contents, 1)
	assert.Equal(t, "second", store.contents["s/42"].Title)
	assert.Equal(t, 2, store.upserts)
}

func TestBusySourceIsNotTouched(t *testing.T) {
	calls := 0
	store := newMemStore(
		source("busy", "stub", "Busy", nil, nil),
		source("free", "stub", "Free", nil, nil),
	)
	locker := &busyLocker{busy: map[string]bool{"busy": true}}
	m := newManager(store, stubRegistry(stubCollector{
		calls: &calls,
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a"), SyncMetadata: map[string]any{}}
		},
	}), Options{Locker: locker})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, report.SourcesProcessed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], ErrSourceBusy.Error())
	assert.Empty(t, store.source("busy").LastSyncStatus)
	assert.Nil(t, store.source("busy").LastSync)
	assert.Equal(t, []string{"free"}, locker.released)
}

func TestLockErrorFallsBackToUnlockedRun(t *testing.T) {
	store := newMemStore(source("s", "stub", "Stub", nil, nil))
	m := newManager(store, stubRegistry(stubCollector{
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a"), SyncMetadata: map[string]any{}}
		},
	}), Options{Locker: &busyLocker{err: errors.New("redis down")}})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesProcessed)
}

func TestNoEnabledSourcesReturnsZeroReport(t *testing.T) {
	disabled := source("s", "stub", "Stub", nil, nil)
	disabled.Enabled = false
	sink := &captureSink{}
	m := newManager(newMemStore(disabled), stubRegistry(stubCollector{}), Options{Sink: sink})

	report, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SourcesProcessed)
	assert.Equal(t, 0, report.TotalArticles)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.SourceResults)
	assert.False(t, report.HasErrors())
	assert.Nil(t, sink.last)
}

func TestListFailureIsReturned(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("connection refused")
	m := newManager(store, stubRegistry(stubCollector{}), Options{})

	_, err := m.CollectAllSources(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCollectSourcesByType(t *testing.T) {
	store := newMemStore(
		source("s", "stub", "Stub", nil, nil),
		source("x", "rss", "Other", nil, nil),
	)
	m := newManager(store, stubRegistry(stubCollector{
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a"), SyncMetadata: map[string]any{}}
		},
	}), Options{})

	report, err := m.CollectSourcesByType(context.Background(), "stub")
	require.NoError(t, err)
	require.Len(t, report.SourceResults, 1)
	assert.Equal(t, "Stub", report.SourceResults[0].SourceName)
	assert.Empty(t, store.source("x").LastSyncStatus)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := newMemStore(source("s", "stub", "Stub", nil, nil))
	m := newManager(store, stubRegistry(stubCollector{
		result: func(collector.SourceConfig) collector.Result {
			return collector.Result{Articles: articles("a", "b"), SyncMetadata: map[string]any{}}
		},
	}), Options{Metrics: metrics.New(reg)})

	_, err := m.CollectAllSources(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	persisted := 0.0
	for _, mf := range families {
		if mf.GetName() == "contenthub_storage_articles_persisted_total" {
			for _, metric := range mf.GetMetric() {
				persisted += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, persisted)
}
